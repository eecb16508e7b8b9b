// Package broker implements the control state machine that decides, at
// every moment, whether the agent may drive input.
package broker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/winebot/api/pkg/types"
)

var (
	// ErrNoControl is returned when the agent tries to renew a lease it
	// does not hold.
	ErrNoControl = errors.New("agent does not hold control")
	// ErrStopRequested is returned when a renewal races a pending STOP_NOW.
	ErrStopRequested = errors.New("user requested STOP_NOW")
)

// Broker is the single writer of the control state. All mutators hold the
// mutex for the entire transition; no callback runs under the lock.
type Broker struct {
	mu    sync.Mutex
	state types.ControlState

	// interactive mirrors state.Interactive so the CheckAccess fast
	// path never contends on mu.
	interactive atomic.Bool

	lastUserActivity time.Time

	// now is swappable for tests.
	now func() time.Time
}

func New() *Broker {
	return &Broker{
		state: types.ControlState{
			SessionID:   "unknown",
			Interactive: false,
			ControlMode: types.ControlModeUser,
			UserIntent:  types.UserIntentWait,
			AgentStatus: types.AgentStatusIdle,
		},
		now: time.Now,
	}
}

// State returns a copy of the current control state.
func (b *Broker) State() types.ControlState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// UpdateSession rebinds the broker to a session. Switching into
// interactive mode while the agent holds control revokes it first.
func (b *Broker) UpdateSession(sessionID string, interactive bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.SessionID = sessionID
	b.state.Interactive = interactive
	b.interactive.Store(interactive)
	if !interactive {
		b.state.ControlMode = types.ControlModeAgent
		return
	}
	if b.state.ControlMode == types.ControlModeAgent {
		b.revokeLocked("session_became_interactive")
	}
	b.state.ControlMode = types.ControlModeUser
}

// GrantAgent hands control to the agent for leaseSeconds. A no-op in
// implicit-agent (non-interactive) mode where access is always granted.
func (b *Broker) GrantAgent(leaseSeconds int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.state.Interactive {
		return
	}
	expiry := float64(b.now().Unix()) + float64(leaseSeconds)
	b.state.ControlMode = types.ControlModeAgent
	b.state.LeaseExpiry = &expiry
	b.state.UserIntent = types.UserIntentWait
	log.Info().Int("lease_seconds", leaseSeconds).Msg("agent granted control")
}

// RenewAgent extends the lease. Fails with ErrNoControl when the agent is
// not in control and ErrStopRequested when STOP_NOW is pending.
func (b *Broker) RenewAgent(leaseSeconds int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.ControlMode != types.ControlModeAgent {
		return ErrNoControl
	}
	if b.state.UserIntent == types.UserIntentStopNow {
		return ErrStopRequested
	}
	expiry := float64(b.now().Unix()) + float64(leaseSeconds)
	b.state.LeaseExpiry = &expiry
	return nil
}

// ReportUserActivity pre-empts the agent when real user input is seen.
func (b *Broker) ReportUserActivity() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUserActivity = b.now()
	if b.state.ControlMode == types.ControlModeAgent {
		b.revokeLocked("user_input_override")
	}
}

// SetUserIntent records the user's disposition. STOP_NOW also revokes.
func (b *Broker) SetUserIntent(intent types.UserIntent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.UserIntent = intent
	if intent == types.UserIntentStopNow {
		b.revokeLocked("user_stop_now")
	}
}

// CheckAccess reports whether the agent may act right now. In
// implicit-agent mode it always grants without taking the lock. A lease
// found expired revokes in the same critical section.
func (b *Broker) CheckAccess() bool {
	if !b.interactive.Load() {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.ControlMode != types.ControlModeAgent {
		return false
	}
	if b.state.LeaseExpiry != nil && float64(b.now().Unix()) > *b.state.LeaseExpiry {
		b.revokeLocked("lease_expired")
		return false
	}
	if b.state.UserIntent == types.UserIntentStopNow {
		b.revokeLocked("user_stop_now")
		return false
	}
	return true
}

// revokeLocked transitions control back to the user. Callers hold b.mu.
func (b *Broker) revokeLocked(reason string) {
	b.state.ControlMode = types.ControlModeUser
	b.state.LeaseExpiry = nil
	b.state.AgentStatus = types.AgentStatusStopping
	log.Info().Str("reason", reason).Msg("agent control revoked")
}
