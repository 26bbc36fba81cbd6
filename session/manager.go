package session

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/pokt-network/pocket-faucet/logging"
)

// ClaimEnqueuer accepts claiming sessions into the payout queue and returns
// the assigned queue index.
type ClaimEnqueuer interface {
	Enqueue(ctx context.Context, rec *Record) (int64, error)
}

// ManagerConfig contains configuration for the session manager.
type ManagerConfig struct {
	// MinDropAmount is the smallest payout in base units. Sessions resolving
	// to less fail with AMOUNT_TOO_LOW.
	MinDropAmount *big.Int

	// MaxDropAmount is the largest payout in base units. Requests above it
	// are clamped.
	MaxDropAmount *big.Int

	// AllowCustomAmount lets clients request an amount below the maximum.
	AllowCustomAmount bool

	// SessionTimeout is how long a session may stay running or claimable.
	// 0 disables expiry.
	SessionTimeout time.Duration

	// CheckInterval is how often expired sessions are swept.
	// Default: 30s
	CheckInterval time.Duration

	// Admission holds the anti-abuse limits.
	Admission AdmissionConfig

	// MaxConcurrentCompletions bounds the completion hooks running at once.
	// Default: 4
	MaxConcurrentCompletions int
}

// DefaultManagerConfig returns defaults suitable for a testnet faucet.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MinDropAmount:            big.NewInt(1_000_000_000_000_000),   // 0.001 ETH
		MaxDropAmount:            big.NewInt(100_000_000_000_000_000), // 0.1 ETH
		SessionTimeout:           time.Hour,
		CheckInterval:            30 * time.Second,
		MaxConcurrentCompletions: 4,
	}
}

// Manager owns session records: creation, admission, blocking tasks, status
// transitions and failure annotation. The claim queue reports payout results
// back through ClaimProcessing, ClaimConfirmed and ClaimFailed.
type Manager struct {
	logger  logging.Logger
	config  ManagerConfig
	store   Store
	hooks   *Hooks
	queue   ClaimEnqueuer
	limiter *AddressLimiter
	denied  denyList

	// Non-terminal sessions by id
	active *xsync.Map[string, *Session]

	// Runs completion hooks off the state machine path
	completions pond.Pool

	now func() time.Time

	// Lifecycle
	ctx      context.Context
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
}

// NewManager creates a session manager. The workerPool is used to create the
// subpool that runs completion hooks.
func NewManager(
	logger logging.Logger,
	store Store,
	hooks *Hooks,
	config ManagerConfig,
	workerPool pond.Pool,
) *Manager {
	defaults := DefaultManagerConfig()
	if config.MinDropAmount == nil {
		config.MinDropAmount = defaults.MinDropAmount
	}
	if config.MaxDropAmount == nil {
		config.MaxDropAmount = defaults.MaxDropAmount
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.MaxConcurrentCompletions <= 0 {
		config.MaxConcurrentCompletions = defaults.MaxConcurrentCompletions
	}
	if poolSize := workerPool.MaxConcurrency(); poolSize > 0 && config.MaxConcurrentCompletions > poolSize {
		config.MaxConcurrentCompletions = poolSize
	}
	if hooks == nil {
		hooks = NewHooks()
	}

	var limiter *AddressLimiter
	if config.Admission.SessionsPerHour > 0 {
		limiter = NewAddressLimiter(config.Admission.SessionsPerHour, config.Admission.Burst)
	}

	return &Manager{
		logger:      logging.ForComponent(logger, logging.ComponentSessionManager),
		config:      config,
		store:       store,
		hooks:       hooks,
		limiter:     limiter,
		denied:      newDenyList(config.Admission.DeniedAddresses),
		active:      xsync.NewMap[string, *Session](),
		completions: workerPool.NewSubpool(config.MaxConcurrentCompletions),
		now:         time.Now,
	}
}

// SetClaimQueue wires the claim queue. It must be called before the first claim.
func (m *Manager) SetClaimQueue(queue ClaimEnqueuer) {
	m.queue = queue
}

// Hooks returns the module hook registry.
func (m *Manager) Hooks() *Hooks {
	return m.hooks
}

// Config returns the effective configuration.
func (m *Manager) Config() ManagerConfig {
	return m.config
}

// Start reloads non-terminal sessions from the store and starts the expiry sweeper.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("session manager is closed")
	}
	m.ctx, m.cancelFn = context.WithCancel(ctx)
	m.mu.Unlock()

	if err := m.loadActiveSessions(ctx); err != nil {
		return fmt.Errorf("failed to load active sessions: %w", err)
	}

	m.wg.Add(1)
	go logging.RecoverGoRoutine(m.logger, logging.ComponentSessionSweeper, m.sweepLoop)(m.ctx)

	m.logger.Info().
		Int(logging.FieldCount, m.active.Size()).
		Dur("session_timeout", m.config.SessionTimeout).
		Msg("session manager started")
	return nil
}

func (m *Manager) loadActiveSessions(ctx context.Context) error {
	recs, err := m.store.GetByStatus(ctx, ActiveStatuses()...)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		s, err := sessionFromRecord(rec)
		if err != nil {
			m.logger.Warn().Err(err).Str(logging.FieldSessionID, rec.SessionID).Msg("skipping unloadable session")
			continue
		}
		m.active.Store(s.id, s)
	}
	activeSessions.Set(float64(m.active.Size()))
	return nil
}

// CreateSession starts a new session for remoteAddr.
//
// Admission and validation failures are not errors: the returned session is
// already failed with failed.code and failed.reason set. An error is only
// returned for a missing input or when the session cannot be persisted.
func (m *Manager) CreateSession(ctx context.Context, remoteAddr string, input *UserInput) (*Session, error) {
	if input == nil {
		return nil, NewFaucetError(CodeInvalidRequest, "missing user input")
	}

	s := newSession(uuid.NewString(), remoteAddr, m.now())
	logger := logging.ForSession(m.logger, s.id)
	sessionsCreated.Inc()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := m.startSession(ctx, s, input); err != nil {
		fe, ok := AsFaucetError(err)
		if !ok {
			logger.Error().
				Err(err).
				Str(logging.FieldRemoteAddr, remoteAddr).
				Msg("unexpected error while starting session")
			fe = NewFaucetError(CodeInternalError, "error while starting session: %v", err)
		}
		if err := m.fail(ctx, s, fe.Code, fe.Reason); err != nil {
			return nil, err
		}
		logger.Info().
			Str(logging.FieldFailCode, fe.Code).
			Str(logging.FieldReason, fe.Reason).
			Str(logging.FieldRemoteAddr, remoteAddr).
			Msg("session rejected")
		return s, nil
	}

	if err := m.persist(ctx, s); err != nil {
		return nil, err
	}
	m.active.Store(s.id, s)
	activeSessions.Set(float64(m.active.Size()))

	logging.WithSessionContext(logger.Info(), &logging.SessionContext{
		RemoteAddr: remoteAddr,
		TargetAddr: s.TargetAddress(),
	}).
		Str(logging.FieldDropAmount, s.DropAmount().String()).
		Int("blocking_tasks", len(s.BlockingTasks())).
		Msg("session started")

	if len(s.BlockingTasks()) == 0 {
		if err := m.transition(ctx, s, StatusClaimable, "no_blocking_tasks"); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// startSession runs admission, module hooks and target/amount validation.
func (m *Manager) startSession(ctx context.Context, s *Session, input *UserInput) error {
	remote := s.remoteAddr
	if m.denied.contains(remote) {
		return NewFaucetError(CodeDeniedAddress, "requests from %s are not allowed", remote)
	}
	if m.limiter != nil && !m.limiter.Allow(remote) {
		return NewFaucetError(CodeRateLimited, "too many sessions from %s, please try again later", remote)
	}
	if limit := m.config.Admission.MaxSessionsPerIP; limit > 0 {
		recs, err := m.store.GetByStatus(ctx, ActiveStatuses()...)
		if err != nil {
			return fmt.Errorf("failed to count active sessions: %w", err)
		}
		running := 0
		for _, rec := range recs {
			if rec.RemoteAddr == remote {
				running++
			}
		}
		if running >= limit {
			return NewFaucetError(CodeConcurrencyLimit, "only %d concurrent sessions allowed per address", limit)
		}
	}

	if err := m.hooks.runSessionStart(ctx, m.logger, s, input); err != nil {
		return err
	}

	if s.TargetAddress() == "" {
		if err := s.SetTargetAddress(input.Address); err != nil {
			return err
		}
	}
	if m.denied.contains(s.TargetAddress()) {
		return NewFaucetError(CodeDeniedAddress, "target address %s is not allowed", s.TargetAddress())
	}

	return m.fixDropAmount(s, input)
}

// fixDropAmount resolves and sets the payout amount once.
func (m *Manager) fixDropAmount(s *Session, input *UserInput) error {
	minAmount, maxAmount := m.config.MinDropAmount, m.config.MaxDropAmount

	if amount := s.DropAmount(); amount != nil {
		if amount.Cmp(minAmount) < 0 {
			return NewFaucetError(CodeAmountTooLow, "drop amount %s is below the minimum of %s", amount, minAmount)
		}
		if amount.Cmp(maxAmount) > 0 {
			return NewFaucetError(CodeInvalidAmount, "drop amount %s exceeds the maximum of %s", amount, maxAmount)
		}
		return nil
	}

	amount := new(big.Int).Set(maxAmount)
	if m.config.AllowCustomAmount && input.Amount != "" {
		requested, ok := new(big.Int).SetString(input.Amount, 10)
		if !ok || requested.Sign() <= 0 {
			return NewFaucetError(CodeInvalidAmount, "invalid amount: %s", input.Amount)
		}
		if requested.Cmp(maxAmount) < 0 {
			amount = requested
		}
	}
	if amount.Cmp(minAmount) < 0 {
		return NewFaucetError(CodeAmountTooLow, "drop amount %s is below the minimum of %s", amount, minAmount)
	}
	return s.SetDropAmount(amount)
}

// ClaimSession moves a claimable session into the claim queue.
//
// A session that is not claimable is rejected with NOT_CLAIMABLE and left
// untouched. Re-validation failures fail the session instead of queueing it.
// The call returns once the session is queued or failed; it does not wait
// for the payout.
func (m *Manager) ClaimSession(ctx context.Context, s *Session, input *UserInput) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if status := s.Status(); status != StatusClaimable {
		return NewFaucetError(CodeNotClaimable, "cannot claim session: not claimable (state: %s)", status)
	}

	if m.expired(s) {
		return m.fail(ctx, s, CodeSessionTimeout, "session expired before it was claimed")
	}
	if err := m.hooks.runSessionClaim(ctx, m.logger, s, input); err != nil {
		fe := ToFaucetError(err, "error while claiming session")
		return m.fail(ctx, s, fe.Code, fe.Reason)
	}
	if m.queue == nil {
		return m.fail(ctx, s, CodeClaimQueueError, "claim queue is not available")
	}

	if err := m.transition(ctx, s, StatusClaiming, "claim"); err != nil {
		return err
	}

	queueIdx, err := m.queue.Enqueue(ctx, s.Record())
	if err != nil {
		m.logger.Error().
			Err(err).
			Str(logging.FieldSessionID, s.id).
			Msg("failed to enqueue claim")
		return m.fail(ctx, s, CodeClaimQueueError, "failed to queue claim transaction")
	}

	if err := m.persist(ctx, s, func(d *Data) {
		d.ClaimStatus = ClaimQueued
		d.ClaimQueueIdx = queueIdx
	}); err != nil {
		return err
	}

	claimLogger := logging.ForClaim(m.logger, s.id, queueIdx)
	claimLogger.Info().
		Str(logging.FieldTargetAddr, s.TargetAddress()).
		Str(logging.FieldDropAmount, s.DropAmount().String()).
		Msg("session claim queued")
	return nil
}

// GetSession returns an active session, optionally restricted to the given
// statuses. Unknown, terminal, expired and mismatched sessions are not found.
func (m *Manager) GetSession(id string, allowed ...Status) (*Session, bool) {
	s, ok := m.active.Load(id)
	if !ok {
		return nil, false
	}
	if m.expired(s) {
		return nil, false
	}
	if len(allowed) > 0 && !slices.Contains(allowed, s.Status()) {
		return nil, false
	}
	return s, true
}

// GetSessionRecord returns the stored record of any session still retained,
// terminal ones included.
func (m *Manager) GetSessionRecord(ctx context.Context, id string) (*Record, error) {
	if s, ok := m.active.Load(id); ok {
		return s.Record(), nil
	}
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrSessionNotFound
	}
	return rec, nil
}

// ActiveCount returns the number of non-terminal sessions held in memory.
func (m *Manager) ActiveCount() int {
	return m.active.Size()
}

// ResolveTask clears a blocking task. When the last task clears the session
// becomes claimable.
func (m *Manager) ResolveTask(ctx context.Context, sessionID, module, name string) error {
	s, ok := m.active.Load(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if status := s.Status(); status != StatusRunning {
		return fmt.Errorf("%w: cannot resolve task on %s session", ErrInvalidTransition, status)
	}
	remaining, err := s.removeTask(module, name)
	if err != nil {
		return err
	}

	m.logger.Debug().
		Str(logging.FieldSessionID, sessionID).
		Str(logging.FieldModule, module).
		Str(logging.FieldTask, name).
		Int("remaining", remaining).
		Msg("blocking task resolved")

	if remaining > 0 {
		return m.persist(ctx, s)
	}
	return m.transition(ctx, s, StatusClaimable, "tasks_cleared")
}

// FailTask reports a permanent task failure. The session fails with the
// task's code and every other pending task is abandoned.
func (m *Manager) FailTask(ctx context.Context, sessionID, module, name, code, reason string) error {
	s, ok := m.active.Load(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if status := s.Status(); status != StatusRunning {
		return fmt.Errorf("%w: cannot fail task on %s session", ErrInvalidTransition, status)
	}
	if _, err := s.removeTask(module, name); err != nil {
		return err
	}
	return m.fail(ctx, s, code, reason)
}

// ClaimProcessing records that the claim entered the lane. txHash may be
// empty when the transaction is not signed yet.
func (m *Manager) ClaimProcessing(ctx context.Context, sessionID, txHash string) error {
	return m.withClaimingSession(ctx, sessionID, func(s *Session) error {
		return m.persist(ctx, s, func(d *Data) {
			d.ClaimStatus = ClaimProcessing
			if txHash != "" {
				d.ClaimTxHash = txHash
			}
		})
	})
}

// ClaimConfirmed records the mined payout and marks the session claimed.
func (m *Manager) ClaimConfirmed(ctx context.Context, sessionID, txHash string, txBlock uint64, txFee string) error {
	return m.withClaimingSession(ctx, sessionID, func(s *Session) error {
		return m.transition(ctx, s, StatusClaimed, "claim_confirmed", func(d *Data) {
			d.ClaimStatus = ClaimConfirmed
			d.ClaimTxHash = txHash
			d.ClaimTxBlock = txBlock
			d.ClaimTxFee = txFee
		})
	})
}

// ClaimFailed records a failed payout and fails the session.
func (m *Manager) ClaimFailed(ctx context.Context, sessionID, code, reason string) error {
	return m.withClaimingSession(ctx, sessionID, func(s *Session) error {
		return m.fail(ctx, s, code, reason, func(d *Data) {
			d.ClaimStatus = ClaimFailed
		})
	})
}

func (m *Manager) withClaimingSession(ctx context.Context, sessionID string, fn func(s *Session) error) error {
	s, ok := m.active.Load(sessionID)
	if !ok {
		rec, err := m.store.Get(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to load session %s: %w", sessionID, err)
		}
		if rec == nil {
			return ErrSessionNotFound
		}
		if rec.Status != StatusClaiming {
			return fmt.Errorf("%w: session %s is %s, not claiming", ErrInvalidTransition, sessionID, rec.Status)
		}
		loaded, err := sessionFromRecord(rec)
		if err != nil {
			return err
		}
		s, _ = m.active.LoadOrStore(sessionID, loaded)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if status := s.Status(); status != StatusClaiming {
		return fmt.Errorf("%w: session %s is %s, not claiming", ErrInvalidTransition, sessionID, status)
	}
	return fn(s)
}

// transition moves s to the next status and persists it. Callers hold s.opMu.
//
// The next record is saved before anything changes in memory, so a failed
// save leaves s in its previous status with its previous data.
func (m *Manager) transition(ctx context.Context, s *Session, to Status, action string, edits ...func(d *Data)) error {
	from := s.Status()
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	rec, err := m.commit(ctx, s, to, edits...)
	if err != nil {
		m.logger.Error().
			Err(err).
			Str(logging.FieldSessionID, s.id).
			Str(logging.FieldOldState, string(from)).
			Str(logging.FieldNewState, string(to)).
			Msg("failed to persist session transition")
		return err
	}

	sessionTransitions.WithLabelValues(string(from), string(to)).Inc()
	m.logger.Info().
		Str(logging.FieldSessionID, s.id).
		Str(logging.FieldOldState, string(from)).
		Str(logging.FieldNewState, string(to)).
		Str(logging.FieldAction, action).
		Msg("session transitioned")

	if to.IsTerminal() {
		m.retire(rec)
	}
	return nil
}

// fail annotates s with code and reason and moves it to failed.
func (m *Manager) fail(ctx context.Context, s *Session, code, reason string, edits ...func(d *Data)) error {
	edits = append(edits, func(d *Data) {
		d.FailedCode = code
		d.FailedReason = reason
	})
	if err := m.transition(ctx, s, StatusFailed, "fail", edits...); err != nil {
		return err
	}
	sessionFailures.WithLabelValues(code).Inc()
	return nil
}

// persist saves the current snapshot of s with edits applied to its data.
func (m *Manager) persist(ctx context.Context, s *Session, edits ...func(d *Data)) error {
	_, err := m.commit(ctx, s, "", edits...)
	return err
}

// commit saves the next record of s and then applies it in memory. An empty
// status keeps the current one. Callers hold s.opMu, so the snapshot cannot
// go stale between the save and the apply.
func (m *Manager) commit(ctx context.Context, s *Session, to Status, edits ...func(d *Data)) (*Record, error) {
	now := m.now()

	s.mu.RLock()
	rec := s.recordLocked()
	s.mu.RUnlock()

	if to != "" {
		rec.Status = to
	}
	rec.UpdatedAt = now.Unix()
	for _, edit := range edits {
		edit(&rec.Data)
	}

	if err := m.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist session %s: %w", s.id, err)
	}

	s.mu.Lock()
	s.status = rec.Status
	s.updatedAt = now
	s.data = rec.Data.Clone()
	s.mu.Unlock()
	return rec, nil
}

// retire drops a terminal session from memory and runs completion hooks.
func (m *Manager) retire(rec *Record) {
	m.active.Delete(rec.SessionID)
	activeSessions.Set(float64(m.active.Size()))

	hooks := m.hooks.completeHooks()
	if len(hooks) == 0 {
		return
	}

	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, hook := range hooks {
		m.completions.Submit(func() {
			_ = logging.RecoverWithLogger(m.logger, logging.ComponentHooks, "session_complete:"+hook.module, func() error {
				hook.fn(ctx, rec)
				return nil
			})
		})
	}
}

func (m *Manager) expired(s *Session) bool {
	if m.config.SessionTimeout <= 0 {
		return false
	}
	switch s.Status() {
	case StatusRunning, StatusClaimable:
		return m.now().Sub(s.startTime) > m.config.SessionTimeout
	default:
		return false
	}
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepExpired(ctx)
			if m.limiter != nil {
				m.limiter.EvictStale()
			}
		}
	}
}

// SweepExpired fails every running or claimable session older than the
// session timeout and returns how many were failed. Claiming sessions are
// owned by the claim queue and never expire.
func (m *Manager) SweepExpired(ctx context.Context) int {
	var candidates []*Session
	m.active.Range(func(_ string, s *Session) bool {
		if m.expired(s) {
			candidates = append(candidates, s)
		}
		return true
	})

	swept := 0
	for _, s := range candidates {
		s.opMu.Lock()
		if m.expired(s) {
			if err := m.fail(ctx, s, CodeSessionTimeout, "session timed out"); err != nil {
				m.logger.Warn().Err(err).Str(logging.FieldSessionID, s.id).Msg("failed to expire session")
			} else {
				swept++
			}
		}
		s.opMu.Unlock()
	}

	if swept > 0 {
		m.logger.Info().Int(logging.FieldCount, swept).Msg("expired timed out sessions")
	}
	return swept
}

// Close stops the sweeper and waits for completion hooks.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.cancelFn != nil {
		m.cancelFn()
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.completions.StopAndWait()
	m.logger.Info().Msg("session manager stopped")
}
