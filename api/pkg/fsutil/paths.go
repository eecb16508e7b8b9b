// Package fsutil provides the filesystem primitives the control plane is
// built on: prefix-anchored path validation, atomic small-file writes,
// lock-serialised JSONL appends and tail reads.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrInvalidPath marks a path that escapes the allowed prefixes.
var ErrInvalidPath = errors.New("invalid_path")

// AllowedPrefixes is the closed list of directories the API may touch.
var AllowedPrefixes = []string{
	"/apps",
	"/wineprefix",
	"/tmp",
	"/artifacts",
	"/opt/winebot",
	"/automation",
}

// ValidatePath resolves p and returns the canonical absolute path, or an
// ErrInvalidPath-wrapped error unless the resolved path lies under one of
// AllowedPrefixes. Resolution follows symlinks on the deepest existing
// ancestor, so ".." traversals and symlink escapes are both rejected.
func ValidatePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, p)
	}
	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, p)
	}
	for _, prefix := range AllowedPrefixes {
		if resolved == prefix || strings.HasPrefix(resolved, prefix+string(filepath.Separator)) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: path not allowed, must be under one of %s",
		ErrInvalidPath, strings.Join(AllowedPrefixes, ", "))
}

// resolveExisting canonicalises abs by eval-symlinking the deepest
// existing ancestor and re-joining the non-existent remainder lexically.
func resolveExisting(abs string) (string, error) {
	remainder := ""
	current := filepath.Clean(abs)
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			if remainder == "" {
				return resolved, nil
			}
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		if remainder == "" {
			remainder = filepath.Base(current)
		} else {
			remainder = filepath.Join(filepath.Base(current), remainder)
		}
		current = parent
	}
}

// DiskInfo reports space and writeability for one path.
type DiskInfo struct {
	Path       string `json:"path"`
	OK         bool   `json:"ok"`
	TotalBytes uint64 `json:"total_bytes,omitempty"`
	FreeBytes  uint64 `json:"free_bytes,omitempty"`
	AvailBytes uint64 `json:"avail_bytes,omitempty"`
	Writable   bool   `json:"writable,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StatvfsInfo returns filesystem usage for path. A missing path yields
// OK=false rather than an error.
func StatvfsInfo(path string) DiskInfo {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskInfo{Path: path, OK: false, Error: "not found"}
	}
	bsize := uint64(st.Bsize)
	return DiskInfo{
		Path:       path,
		OK:         true,
		TotalBytes: bsize * st.Blocks,
		FreeBytes:  bsize * st.Bfree,
		AvailBytes: bsize * st.Bavail,
		Writable:   unix.Access(path, unix.W_OK) == nil,
	}
}

// FreeBytes returns the available bytes under path, or 0 when unknown.
func FreeBytes(path string) uint64 {
	return StatvfsInfo(path).AvailBytes
}
