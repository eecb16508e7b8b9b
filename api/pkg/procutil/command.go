package procutil

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultCommandTimeout bounds every synchronous helper command.
const DefaultCommandTimeout = 5 * time.Second

// CommandResult is the uniform outcome of a bounded external command.
// Timeouts surface as data (Error == "timeout"), not as a Go error.
type CommandResult struct {
	OK       bool   `json:"ok"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SafeCommand runs argv with the given timeout and never returns a Go
// error; failures are encoded in the result.
func SafeCommand(ctx context.Context, timeout time.Duration, argv ...string) CommandResult {
	if len(argv) == 0 {
		return CommandResult{OK: false, Error: "empty command"}
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	switch {
	case err == nil:
		result.OK = true
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		result.Error = "timeout"
	case errors.Is(err, exec.ErrNotFound):
		result.Error = "command not found"
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Error = err.Error()
		}
	}
	return result
}

// BinaryInfo reports whether a helper binary is on PATH.
type BinaryInfo struct {
	Present bool   `json:"present"`
	Path    string `json:"path,omitempty"`
}

var binaryCache sync.Map

// CheckBinary memoizes exec.LookPath; tool presence does not change over
// the life of the container.
func CheckBinary(name string) BinaryInfo {
	if cached, ok := binaryCache.Load(name); ok {
		return cached.(BinaryInfo)
	}
	path, err := exec.LookPath(name)
	info := BinaryInfo{Present: err == nil, Path: path}
	binaryCache.Store(name, info)
	return info
}
