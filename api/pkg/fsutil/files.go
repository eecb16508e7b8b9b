package fsutil

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
	"golang.org/x/sys/unix"
)

// streamThreshold is the file size above which tail reads must not load
// the whole file.
const streamThreshold = 4 << 20

// AtomicWriteSmall writes data to path via a sibling temp file and rename,
// so readers never observe a partial file.
func AtomicWriteSmall(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

// AppendLine appends one LF-terminated line to path under an exclusive
// advisory lock on the file descriptor. Concurrent appenders from other
// processes are expected; the lock keeps their bytes from interleaving.
func AppendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return err
	}
	defer func() { _ = unix.Flock(fd, unix.LOCK_UN) }()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.Write(buf); err != nil {
		return err
	}
	return f.Sync()
}

// TailLines returns the last n newline-delimited lines of path, in file
// order. Files beyond the streaming threshold are read backwards in
// chunks instead of being loaded whole.
func TailLines(path string, n int) ([]string, error) {
	if n < 1 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() <= streamThreshold {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		return lastLines(data, n), nil
	}
	return tailLinesBackward(f, info.Size(), n)
}

func lastLines(data []byte, n int) []string {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// tailLinesBackward scans chunks from the end of the file until n lines
// have been collected.
func tailLinesBackward(f *os.File, size int64, n int) ([]string, error) {
	const chunk = 64 << 10
	var acc []byte
	offset := size
	for offset > 0 {
		readSize := int64(chunk)
		if offset < readSize {
			readSize = offset
		}
		offset -= readSize
		buf := make([]byte, readSize)
		if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
			return nil, err
		}
		acc = append(buf, acc...)
		if bytes.Count(acc, []byte{'\n'}) > n {
			break
		}
	}
	return lastLines(acc, n), nil
}

// ReadFileTail returns up to maxBytes from the end of path, decoded as
// UTF-8 with invalid sequences replaced. Missing files yield "".
func ReadFileTail(path string, maxBytes int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := int64(0)
	if info.Size() > maxBytes {
		offset = info.Size() - maxBytes
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return ""
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	return strings.ToValidUTF8(string(data), "�")
}

// ReadPID reads a pid sidecar. Any read or parse failure is treated as
// "not running".
func ReadPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// WritePID writes a pid sidecar atomically.
func WritePID(path string, pid int) error {
	return AtomicWriteSmall(path, []byte(strconv.Itoa(pid)))
}

// TruncateText caps value at limit runes-of-bytes, appending a marker
// when truncation happened.
func TruncateText(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "\n...[truncated " + strconv.Itoa(len(value)-limit) + " chars]"
}
