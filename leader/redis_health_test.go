package leader

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pokt-network/pocket-faucet/config"
	redisutil "github.com/pokt-network/pocket-faucet/transport/redis"
)

func TestParseMemoryInfo(t *testing.T) {
	tests := []struct {
		name     string
		info     string
		wantUsed int64
		wantMax  int64
		wantErr  bool
	}{
		{
			name: "typical output",
			info: "# Memory\r\n" +
				"used_memory:1073741824\r\n" +
				"used_memory_human:1.00G\r\n" +
				"maxmemory:2147483648\r\n" +
				"maxmemory_policy:noeviction\r\n",
			wantUsed: 1073741824,
			wantMax:  2147483648,
		},
		{
			name:     "no maxmemory limit",
			info:     "# Memory\r\nused_memory:524288000\r\nmaxmemory:0\r\n",
			wantUsed: 524288000,
		},
		{
			name: "empty",
			info: "",
		},
		{
			name:    "invalid used_memory",
			info:    "used_memory:not_a_number\r\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used, maxMem, err := parseMemoryInfo(tt.info)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantUsed, used)
			require.Equal(t, tt.wantMax, maxMem)
		})
	}
}

func TestRedisHealthMonitorLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := redisutil.NewClient(ctx, redisutil.ClientConfig{
		URL:       "redis://" + mr.Addr(),
		Namespace: config.DefaultRedisNamespaceConfig(),
	})
	require.NoError(t, err)
	defer func() { _ = redisClient.Close() }()

	monitor := NewRedisHealthMonitor(zerolog.Nop(), redisClient, time.Hour)
	require.NoError(t, monitor.Ready(ctx))
	require.NoError(t, monitor.Start(ctx))
	require.NoError(t, monitor.Close())
	require.NoError(t, monitor.Close(), "double close is safe")

	mr.Close()
	require.Error(t, monitor.Ready(ctx))
}
