package session

import (
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BlockingTask is a named precondition a module attached to a session.
type BlockingTask struct {
	Module string `json:"module"`
	Name   string `json:"name"`
	// NotifyClient asks the client to show the task as pending.
	NotifyClient bool `json:"notify,omitempty"`
}

// Session is one client's request lifecycle from admission to payout.
//
// Field reads and writes go through mu. The manager additionally holds opMu
// for the whole of a state machine operation (start, claim, task resolution,
// claim results) so hooks may call accessors and setters while it runs.
type Session struct {
	opMu sync.Mutex
	mu   sync.RWMutex

	id         string
	status     Status
	remoteAddr string
	startTime  time.Time
	updatedAt  time.Time
	dropAmount *big.Int
	targetAddr string
	tasks      []BlockingTask
	data       Data
}

func newSession(id, remoteAddr string, now time.Time) *Session {
	return &Session{
		id:         id,
		status:     StatusRunning,
		remoteAddr: remoteAddr,
		startTime:  now,
		updatedAt:  now,
	}
}

// ID returns the immutable session id.
func (s *Session) ID() string {
	return s.id
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// RemoteAddress returns the client address recorded at creation.
func (s *Session) RemoteAddress() string {
	return s.remoteAddr
}

// StartTime returns the creation time.
func (s *Session) StartTime() time.Time {
	return s.startTime
}

// DropAmount returns a copy of the payout amount, or nil when not yet fixed.
func (s *Session) DropAmount() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dropAmount == nil {
		return nil
	}
	return new(big.Int).Set(s.dropAmount)
}

// TargetAddress returns the checksummed payout address, or "" when not yet set.
func (s *Session) TargetAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targetAddr
}

// BlockingTasks returns a copy of the outstanding tasks.
func (s *Session) BlockingTasks() []BlockingTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tasks)
}

// Data returns a copy of the session data.
func (s *Session) Data() Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Clone()
}

// SetDropAmount fixes the payout amount. It can only be called once.
func (s *Session) SetDropAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return NewFaucetError(CodeInvalidAmount, "invalid drop amount")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropAmount != nil {
		return ErrDropAmountSet
	}
	s.dropAmount = new(big.Int).Set(amount)
	return nil
}

// SetTargetAddress validates and fixes the payout address. It can only be
// called once. Malformed or zero addresses fail with INVALID_TARGET.
func (s *Session) SetTargetAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) || !strings.HasPrefix(strings.ToLower(addr), "0x") {
		return NewFaucetError(CodeInvalidTarget, "invalid target address: %s", addr)
	}
	parsed := common.HexToAddress(addr)
	if parsed == (common.Address{}) {
		return NewFaucetError(CodeInvalidTarget, "invalid target address: %s", addr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targetAddr != "" {
		return ErrTargetSet
	}
	s.targetAddr = parsed.Hex()
	return nil
}

// AddBlockingTask registers a task that must clear before the session is
// claimable. Adding a task that is already pending is a no-op.
func (s *Session) AddBlockingTask(module, name string, notifyClient bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Module == module && t.Name == name {
			return
		}
	}
	s.tasks = append(s.tasks, BlockingTask{Module: module, Name: name, NotifyClient: notifyClient})
}

// SetModuleData stores a module-contributed data value.
func (s *Session) SetModuleData(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.SetModule(key, value)
}

// removeTask drops the named task and returns how many remain.
func (s *Session) removeTask(module, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.tasks, func(t BlockingTask) bool {
		return t.Module == module && t.Name == name
	})
	if idx < 0 {
		return len(s.tasks), fmt.Errorf("%w: %s/%s", ErrTaskNotFound, module, name)
	}
	s.tasks = slices.Delete(s.tasks, idx, idx+1)
	return len(s.tasks), nil
}

// Record returns a persistable snapshot of the session.
func (s *Session) Record() *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordLocked()
}

func (s *Session) recordLocked() *Record {
	rec := &Record{
		SessionID:  s.id,
		Status:     s.status,
		StartTime:  s.startTime.Unix(),
		UpdatedAt:  s.updatedAt.Unix(),
		RemoteAddr: s.remoteAddr,
		TargetAddr: s.targetAddr,
		Tasks:      slices.Clone(s.tasks),
		Data:       s.data.Clone(),
	}
	if s.dropAmount != nil {
		rec.DropAmount = s.dropAmount.String()
	}
	if rec.Tasks == nil {
		rec.Tasks = []BlockingTask{}
	}
	return rec
}

// Record is the stored form of a session.
type Record struct {
	SessionID  string         `json:"session"`
	Status     Status         `json:"status"`
	StartTime  int64          `json:"start"`
	UpdatedAt  int64          `json:"updated"`
	RemoteAddr string         `json:"remoteIP"`
	TargetAddr string         `json:"targetAddr,omitempty"`
	DropAmount string         `json:"dropAmount,omitempty"`
	Tasks      []BlockingTask `json:"tasks"`
	Data       Data           `json:"data"`
}

// Amount parses DropAmount. A missing amount is returned as zero.
func (r *Record) Amount() *big.Int {
	amount, ok := new(big.Int).SetString(r.DropAmount, 10)
	if !ok {
		return new(big.Int)
	}
	return amount
}

// sessionFromRecord rebuilds a live session from its stored form.
func sessionFromRecord(r *Record) (*Session, error) {
	if !r.Status.IsValid() {
		return nil, fmt.Errorf("session %s has unknown status %q", r.SessionID, r.Status)
	}
	s := &Session{
		id:         r.SessionID,
		status:     r.Status,
		remoteAddr: r.RemoteAddr,
		startTime:  time.Unix(r.StartTime, 0),
		updatedAt:  time.Unix(r.UpdatedAt, 0),
		targetAddr: r.TargetAddr,
		tasks:      slices.Clone(r.Tasks),
		data:       r.Data.Clone(),
	}
	if r.DropAmount != "" {
		amount, ok := new(big.Int).SetString(r.DropAmount, 10)
		if !ok {
			return nil, fmt.Errorf("session %s has malformed drop amount %q", r.SessionID, r.DropAmount)
		}
		s.dropAmount = amount
	}
	return s, nil
}

// UserInput is the client-supplied request body. Address and Amount are the
// fields the core reads; every field is kept in Fields for modules.
type UserInput struct {
	Address string
	Amount  string
	Fields  map[string]any
}

// UnmarshalJSON decodes an arbitrary JSON object, lifting addr and amount.
func (u *UserInput) UnmarshalJSON(b []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("user input must be a JSON object")
	}
	u.Fields = fields
	u.Address = stringField(fields, "addr")
	u.Amount = stringField(fields, "amount")
	return nil
}

// String returns the string field key, or "" when absent or not a string.
func (u *UserInput) String(key string) string {
	if u == nil {
		return ""
	}
	return stringField(u.Fields, key)
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return big.NewFloat(v).Text('f', 0)
	}
	return ""
}
