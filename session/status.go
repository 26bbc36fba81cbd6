package session

// Status is the lifecycle state of a faucet session.
type Status string

const (
	// StatusRunning means the session is admitted and waiting for its
	// blocking tasks to clear.
	StatusRunning Status = "running"

	// StatusClaimable means every blocking task cleared and the reward can be claimed.
	StatusClaimable Status = "claimable"

	// StatusClaiming means the session is in the claim queue.
	StatusClaiming Status = "claiming"

	// StatusClaimed means the payout transaction confirmed. Terminal.
	StatusClaimed Status = "claimed"

	// StatusFailed means the session was rejected, expired or its payout failed. Terminal.
	StatusFailed Status = "failed"
)

// transitions lists the only allowed forward edges of the state machine.
var transitions = map[Status][]Status{
	StatusRunning:   {StatusClaimable, StatusFailed},
	StatusClaimable: {StatusClaiming, StatusFailed},
	StatusClaiming:  {StatusClaimed, StatusFailed},
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusRunning, StatusClaimable, StatusClaiming, StatusClaimed, StatusFailed}
}

// ActiveStatuses returns the non-terminal statuses.
func ActiveStatuses() []Status {
	return []Status{StatusRunning, StatusClaimable, StatusClaiming}
}

// IsTerminal returns true for claimed and failed.
func (s Status) IsTerminal() bool {
	return s == StatusClaimed || s == StatusFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusRunning, StatusClaimable, StatusClaiming, StatusClaimed, StatusFailed:
		return true
	}
	return false
}

// ClaimStatus is the claim queue state mirrored into session data.
type ClaimStatus string

const (
	ClaimQueued     ClaimStatus = "queued"
	ClaimProcessing ClaimStatus = "processing"
	ClaimConfirmed  ClaimStatus = "confirmed"
	ClaimFailed     ClaimStatus = "failed"
)
