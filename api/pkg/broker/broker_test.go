package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winebot/winebot/api/pkg/types"
)

func newInteractive(t *testing.T) *Broker {
	t.Helper()
	b := New()
	b.UpdateSession("session-test", true)
	return b
}

func TestImplicitAgentModeAlwaysGrants(t *testing.T) {
	b := New()
	b.UpdateSession("session-test", false)
	assert.True(t, b.CheckAccess())
	assert.Equal(t, types.ControlModeAgent, b.State().ControlMode)
}

func TestInteractiveDefaultsToUserControl(t *testing.T) {
	b := newInteractive(t)
	assert.False(t, b.CheckAccess())
	assert.Equal(t, types.ControlModeUser, b.State().ControlMode)
}

func TestGrantThenCheckAccess(t *testing.T) {
	b := newInteractive(t)
	b.GrantAgent(60)
	assert.True(t, b.CheckAccess())

	state := b.State()
	assert.Equal(t, types.ControlModeAgent, state.ControlMode)
	assert.Equal(t, types.UserIntentWait, state.UserIntent)
	require.NotNil(t, state.LeaseExpiry)
}

func TestLeaseExpiryRevokes(t *testing.T) {
	b := newInteractive(t)
	current := time.Now()
	b.now = func() time.Time { return current }

	b.GrantAgent(1)
	assert.True(t, b.CheckAccess())

	current = current.Add(2 * time.Second)
	assert.False(t, b.CheckAccess())

	state := b.State()
	assert.Equal(t, types.ControlModeUser, state.ControlMode)
	assert.Equal(t, types.AgentStatusStopping, state.AgentStatus)
	assert.Nil(t, state.LeaseExpiry)
}

func TestUserActivityPreemptsAgent(t *testing.T) {
	b := newInteractive(t)
	b.GrantAgent(60)
	b.ReportUserActivity()

	assert.False(t, b.CheckAccess())
	assert.ErrorIs(t, b.RenewAgent(60), ErrNoControl)
}

func TestStopNowBlocksUntilRegrant(t *testing.T) {
	b := newInteractive(t)
	b.GrantAgent(60)
	b.SetUserIntent(types.UserIntentStopNow)

	assert.False(t, b.CheckAccess())
	assert.False(t, b.CheckAccess())

	b.GrantAgent(60)
	assert.True(t, b.CheckAccess())
	assert.Equal(t, types.UserIntentWait, b.State().UserIntent)
}

func TestRenewAfterStopNowFails(t *testing.T) {
	b := newInteractive(t)
	b.GrantAgent(60)

	// STOP_NOW revokes, so the renewal sees no control first.
	b.SetUserIntent(types.UserIntentStopNow)
	assert.ErrorIs(t, b.RenewAgent(60), ErrNoControl)

	// Re-grant but force the pending-stop path.
	b.GrantAgent(60)
	b.mu.Lock()
	b.state.UserIntent = types.UserIntentStopNow
	b.mu.Unlock()
	assert.ErrorIs(t, b.RenewAgent(60), ErrStopRequested)
}

func TestRenewExtendsLease(t *testing.T) {
	b := newInteractive(t)
	current := time.Now()
	b.now = func() time.Time { return current }

	b.GrantAgent(10)
	first := *b.State().LeaseExpiry

	current = current.Add(5 * time.Second)
	require.NoError(t, b.RenewAgent(10))
	assert.Greater(t, *b.State().LeaseExpiry, first)
}

func TestSafeInterruptDoesNotRevoke(t *testing.T) {
	b := newInteractive(t)
	b.GrantAgent(60)
	b.SetUserIntent(types.UserIntentSafeInterrupt)

	assert.True(t, b.CheckAccess())
	assert.Equal(t, types.ControlModeAgent, b.State().ControlMode)
}

func TestUpdateSessionToInteractiveRevokesAgent(t *testing.T) {
	b := New()
	b.UpdateSession("session-test", false)
	require.Equal(t, types.ControlModeAgent, b.State().ControlMode)

	b.UpdateSession("session-test", true)
	state := b.State()
	assert.Equal(t, types.ControlModeUser, state.ControlMode)
	assert.Equal(t, types.AgentStatusStopping, state.AgentStatus)
}

// The implicit-agent fast path must answer even while a mutator holds
// the state lock: input endpoints call CheckAccess on every request.
func TestCheckAccessNonInteractiveDoesNotBlockOnLock(t *testing.T) {
	b := New()
	b.UpdateSession("session-test", false)

	b.mu.Lock()
	defer b.mu.Unlock()

	granted := make(chan bool, 1)
	go func() { granted <- b.CheckAccess() }()
	select {
	case ok := <-granted:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("CheckAccess blocked on the state lock")
	}
}
