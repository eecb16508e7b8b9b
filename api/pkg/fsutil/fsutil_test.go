package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathAcceptsAllowedPrefixes(t *testing.T) {
	for _, p := range []string{"/tmp/winebot-test-file", "/tmp", "/artifacts/sessions/x"} {
		resolved, err := ValidatePath(p)
		require.NoError(t, err, p)
		assert.NotEmpty(t, resolved)
	}
}

func TestValidatePathRejectsOutsiders(t *testing.T) {
	for _, p := range []string{"/etc/passwd", "/", "/home/user/app.exe", ""} {
		_, err := ValidatePath(p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestValidatePathRejectsDotDotEscape(t *testing.T) {
	_, err := ValidatePath("/tmp/../etc/shadow")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestValidatePathRejectsSymlinkEscape(t *testing.T) {
	dir, err := os.MkdirTemp("/tmp", "fsutil-test-")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	link := filepath.Join(dir, "escape")
	require.NoError(t, os.Symlink("/etc", link))

	_, err = ValidatePath(filepath.Join(link, "passwd"))
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestValidatePathNonExistentUnderPrefixOK(t *testing.T) {
	resolved, err := ValidatePath("/tmp/does/not/exist/yet.exe")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/does/not/exist/yet.exe", resolved)
}

func TestAtomicWriteSmallCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "state")
	require.NoError(t, AtomicWriteSmall(path, []byte("active")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "active", string(data))
}

func TestAppendLineTerminatesWithLF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	require.NoError(t, AppendLine(path, []byte(`{"a":1}`)))
	require.NoError(t, AppendLine(path, []byte(`{"b":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", string(data))
}

func TestAppendLineConcurrentWritersDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				line := fmt.Sprintf(`{"writer":%d,"i":%d}`, w, i)
				assert.NoError(t, AppendLine(path, []byte(line)))
			}
		}(w)
	}
	wg.Wait()

	lines, err := TailLines(path, writers*perWriter+10)
	require.NoError(t, err)
	require.Len(t, lines, writers*perWriter)
	for _, line := range lines {
		assert.True(t, len(line) > 0 && line[0] == '{' && line[len(line)-1] == '}', line)
	}
}

func TestTailLinesReturnsLastNInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.txt")
	content := ""
	for i := 1; i <= 10; i++ {
		content += fmt.Sprintf("line-%d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	lines, err := TailLines(path, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"line-8", "line-9", "line-10"}, lines)
}

func TestTailLinesFewerThanRequested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte("only\n"), 0o644))
	lines, err := TailLines(path, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, lines)
}

func TestTailLinesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	lines, err := TailLines(path, 5)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestReadFileTailLimitsBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	require.NoError(t, os.WriteFile(path, []byte("aaaaabbbbb"), 0o644))
	assert.Equal(t, "bbbbb", ReadFileTail(path, 5))
}

func TestReadFileTailMissingFile(t *testing.T) {
	assert.Equal(t, "", ReadFileTail(filepath.Join(t.TempDir(), "nope"), 100))
}

func TestPIDRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.pid")
	require.NoError(t, WritePID(path, 4242))
	pid, ok := ReadPID(path)
	require.True(t, ok)
	assert.Equal(t, 4242, pid)
}

func TestReadPIDGarbageTreatedAsNotRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))
	_, ok := ReadPID(path)
	assert.False(t, ok)

	_, ok = ReadPID(filepath.Join(t.TempDir(), "absent.pid"))
	assert.False(t, ok)
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", TruncateText("short", 100))
	out := TruncateText("0123456789", 4)
	assert.Contains(t, out, "0123")
	assert.Contains(t, out, "truncated")
}
