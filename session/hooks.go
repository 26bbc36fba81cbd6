package session

import (
	"context"
	"sync"

	"github.com/pokt-network/pocket-faucet/logging"
)

// StartHook runs while a session is being started. It may add blocking tasks,
// set module data, or fix the target and amount. Returning a FaucetError
// fails the session with that code.
type StartHook func(ctx context.Context, s *Session, input *UserInput) error

// ClaimHook re-validates a claimable session right before it is queued.
type ClaimHook func(ctx context.Context, s *Session, input *UserInput) error

// ClientConfigHook contributes to the modules section of the client
// configuration. sessionID is whatever id the client sent, possibly empty,
// unknown or no longer running.
type ClientConfigHook func(ctx context.Context, modules map[string]any, sessionID string) error

// CompleteHook observes a session that reached a terminal status.
type CompleteHook func(ctx context.Context, rec *Record)

type registered[T any] struct {
	module string
	fn     T
}

// Hooks is the ordered module hook registry. Hooks run in registration order.
type Hooks struct {
	mu           sync.RWMutex
	start        []registered[StartHook]
	claim        []registered[ClaimHook]
	clientConfig []registered[ClientConfigHook]
	complete     []registered[CompleteHook]
}

// NewHooks creates an empty hook registry.
func NewHooks() *Hooks {
	return &Hooks{}
}

// OnSessionStart registers a start hook for module.
func (h *Hooks) OnSessionStart(module string, fn StartHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.start = append(h.start, registered[StartHook]{module: module, fn: fn})
}

// OnSessionClaim registers a claim re-validation hook for module.
func (h *Hooks) OnSessionClaim(module string, fn ClaimHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.claim = append(h.claim, registered[ClaimHook]{module: module, fn: fn})
}

// OnClientConfig registers a client configuration contributor for module.
func (h *Hooks) OnClientConfig(module string, fn ClientConfigHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clientConfig = append(h.clientConfig, registered[ClientConfigHook]{module: module, fn: fn})
}

// OnSessionComplete registers a terminal-status observer for module.
func (h *Hooks) OnSessionComplete(module string, fn CompleteHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.complete = append(h.complete, registered[CompleteHook]{module: module, fn: fn})
}

// Unregister removes every hook registered by module.
func (h *Hooks) Unregister(module string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.start = without(h.start, module)
	h.claim = without(h.claim, module)
	h.clientConfig = without(h.clientConfig, module)
	h.complete = without(h.complete, module)
}

func without[T any](hooks []registered[T], module string) []registered[T] {
	out := hooks[:0:0]
	for _, hook := range hooks {
		if hook.module != module {
			out = append(out, hook)
		}
	}
	return out
}

func snapshot[T any](mu *sync.RWMutex, hooks []registered[T]) []registered[T] {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]registered[T], len(hooks))
	copy(out, hooks)
	return out
}

// runSessionStart invokes start hooks in order and stops at the first error.
// A panicking hook is reported as an error.
func (h *Hooks) runSessionStart(ctx context.Context, logger logging.Logger, s *Session, input *UserInput) error {
	for _, hook := range snapshot(&h.mu, h.start) {
		err := logging.RecoverWithLogger(logger, logging.ComponentHooks, "session_start:"+hook.module, func() error {
			return hook.fn(ctx, s, input)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// runSessionClaim invokes claim hooks in order and stops at the first error.
func (h *Hooks) runSessionClaim(ctx context.Context, logger logging.Logger, s *Session, input *UserInput) error {
	for _, hook := range snapshot(&h.mu, h.claim) {
		err := logging.RecoverWithLogger(logger, logging.ComponentHooks, "session_claim:"+hook.module, func() error {
			return hook.fn(ctx, s, input)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ClientConfig collects every module contribution into one map. A failing
// contributor is logged and skipped so one module cannot break the config.
func (h *Hooks) ClientConfig(ctx context.Context, logger logging.Logger, sessionID string) map[string]any {
	modules := make(map[string]any)
	for _, hook := range snapshot(&h.mu, h.clientConfig) {
		err := logging.RecoverWithLogger(logger, logging.ComponentHooks, "client_config:"+hook.module, func() error {
			return hook.fn(ctx, modules, sessionID)
		})
		if err != nil {
			logger.Warn().
				Err(err).
				Str(logging.FieldModule, hook.module).
				Msg("client config hook failed")
		}
	}
	return modules
}

func (h *Hooks) completeHooks() []registered[CompleteHook] {
	return snapshot(&h.mu, h.complete)
}
