package procutil

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeCommandSuccess(t *testing.T) {
	res := SafeCommand(context.Background(), time.Second, "sh", "-c", "echo hello")
	assert.True(t, res.OK)
	assert.Equal(t, "hello", res.Stdout)
	assert.Empty(t, res.Error)
}

func TestSafeCommandNonZeroExit(t *testing.T) {
	res := SafeCommand(context.Background(), time.Second, "sh", "-c", "echo oops >&2; exit 3")
	assert.False(t, res.OK)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "oops", res.Stderr)
	assert.Empty(t, res.Error)
}

func TestSafeCommandTimeoutIsData(t *testing.T) {
	res := SafeCommand(context.Background(), 50*time.Millisecond, "sleep", "5")
	assert.False(t, res.OK)
	assert.Equal(t, "timeout", res.Error)
}

func TestSafeCommandMissingBinary(t *testing.T) {
	res := SafeCommand(context.Background(), time.Second, "definitely-not-a-real-binary-xyz")
	assert.False(t, res.OK)
	assert.Equal(t, "command not found", res.Error)
}

func TestSafeCommandEmptyArgv(t *testing.T) {
	res := SafeCommand(context.Background(), time.Second)
	assert.False(t, res.OK)
	assert.Equal(t, "empty command", res.Error)
}

func TestCheckBinary(t *testing.T) {
	assert.True(t, CheckBinary("sh").Present)
	assert.NotEmpty(t, CheckBinary("sh").Path)
	assert.False(t, CheckBinary("definitely-not-a-real-binary-xyz").Present)
}

func TestPidRunning(t *testing.T) {
	assert.True(t, PidRunning(os.Getpid()))
	assert.False(t, PidRunning(0))
	assert.False(t, PidRunning(-1))
}

func TestRegistryReapsExitedChildren(t *testing.T) {
	r := NewRegistry()

	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	r.Manage(cmd)
	assert.Equal(t, 1, r.Len())

	require.Eventually(t, func() bool {
		r.Reap()
		return r.Len() == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRegistryKeepsLiveChildren(t *testing.T) {
	r := NewRegistry()

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	r.Manage(cmd)

	r.Reap()
	assert.Equal(t, 1, r.Len())
}

// A managed child that exits must stop looking alive: stop paths poll
// PidRunning on spawned children and would otherwise time out against an
// uncollected zombie.
func TestManagedChildPidClearsAfterExit(t *testing.T) {
	r := NewRegistry()

	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	r.Manage(cmd)

	require.Eventually(t, func() bool {
		return !PidRunning(pid)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRegistryIgnoresUnstartedCommands(t *testing.T) {
	r := NewRegistry()
	r.Manage(exec.Command("true"))
	r.Manage(nil)
	assert.Equal(t, 0, r.Len())
}

func TestFindProcessesFindsSelf(t *testing.T) {
	pids := FindProcesses("procutil.test", false)
	found := false
	for _, pid := range pids {
		if int(pid) == os.Getpid() {
			found = true
		}
	}
	assert.True(t, found, "expected own pid in %v", pids)
}
