package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestAddressLimiter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewAddressLimiter(2, 2)
	l.nowFunc = func() time.Time { return now }

	require.True(t, l.Allow("1.1.1.1"))
	require.True(t, l.Allow("1.1.1.1"))
	require.False(t, l.Allow("1.1.1.1"))
	require.True(t, l.Allow("2.2.2.2"), "addresses are limited independently")

	// Two per hour refills one token every 30 minutes.
	now = now.Add(31 * time.Minute)
	require.True(t, l.Allow("1.1.1.1"))
	require.False(t, l.Allow("1.1.1.1"))
}

func TestAddressLimiterEvictStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewAddressLimiter(10, 1)
	l.nowFunc = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	require.Equal(t, 2, l.Len())

	now = now.Add(staleLimiterTTL + time.Second)
	l.Allow("c")
	require.Equal(t, 2, l.EvictStale())
	require.Equal(t, 1, l.Len())
}

func TestDenyList(t *testing.T) {
	d := newDenyList([]string{" 0xABCdef0000000000000000000000000000000001 ", "", "10.0.0.1"})
	require.True(t, d.contains("0xabcdef0000000000000000000000000000000001"))
	require.True(t, d.contains("10.0.0.1"))
	require.False(t, d.contains(""))
	require.False(t, d.contains("10.0.0.2"))
}

func TestHooksOrderAndUnregister(t *testing.T) {
	h := NewHooks()
	var calls []string
	h.OnSessionStart("a", func(context.Context, *Session, *UserInput) error {
		calls = append(calls, "a")
		return nil
	})
	h.OnSessionStart("b", func(context.Context, *Session, *UserInput) error {
		calls = append(calls, "b")
		return errors.New("stop")
	})
	h.OnSessionStart("c", func(context.Context, *Session, *UserInput) error {
		calls = append(calls, "c")
		return nil
	})

	err := h.runSessionStart(context.Background(), zerolog.Nop(), nil, nil)
	require.EqualError(t, err, "stop")
	require.Equal(t, []string{"a", "b"}, calls)

	h.Unregister("b")
	calls = nil
	require.NoError(t, h.runSessionStart(context.Background(), zerolog.Nop(), nil, nil))
	require.Equal(t, []string{"a", "c"}, calls)
}

func TestHooksRecoverPanics(t *testing.T) {
	h := NewHooks()
	h.OnSessionClaim("boom", func(context.Context, *Session, *UserInput) error {
		panic("module bug")
	})

	err := h.runSessionClaim(context.Background(), zerolog.Nop(), nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "module bug")
}

func TestHooksClientConfigSkipsFailures(t *testing.T) {
	h := NewHooks()
	h.OnClientConfig("captcha", func(_ context.Context, modules map[string]any, _ string) error {
		modules["captcha"] = map[string]any{"siteKey": "k"}
		return nil
	})
	h.OnClientConfig("broken", func(context.Context, map[string]any, string) error {
		return errors.New("unavailable")
	})
	h.OnClientConfig("pow", func(_ context.Context, modules map[string]any, _ string) error {
		modules["pow"] = map[string]any{"difficulty": 11}
		return nil
	})

	modules := h.ClientConfig(context.Background(), zerolog.Nop(), "")
	require.Len(t, modules, 2)
	require.Contains(t, modules, "captcha")
	require.Contains(t, modules, "pow")
}
