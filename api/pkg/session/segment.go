package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/winebot/winebot/api/pkg/fsutil"
)

var videoSegmentRe = regexp.MustCompile(`^video_(\d{3})\.mkv$`)

// NextSegmentIndex assigns the next segment index for dir. The counter is
// mutated only under an exclusive advisory lock on segment_index.lock, so
// concurrent callers (including other processes) always get distinct
// indices. Returns the assigned index.
func (m *Manager) NextSegmentIndex(dir string) (int, error) {
	lock := flock.New(SegmentLockPath(dir))
	if err := lock.Lock(); err != nil {
		return 0, fmt.Errorf("lock segment counter: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	current := readSegmentCounter(dir)
	if current < 1 {
		current = highestVideoSegment(dir) + 1
	}
	next := strconv.Itoa(current + 1)
	if err := fsutil.AtomicWriteSmall(SegmentIndexPath(dir), []byte(next)); err != nil {
		return 0, fmt.Errorf("write segment counter: %w", err)
	}
	return current, nil
}

func readSegmentCounter(dir string) int {
	data, err := os.ReadFile(SegmentIndexPath(dir))
	if err != nil {
		return 0
	}
	value, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return value
}

// highestVideoSegment scans finalized segment videos; used only when the
// counter file is missing or corrupt.
func highestVideoSegment(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, entry := range entries {
		match := videoSegmentRe.FindStringSubmatch(filepath.Base(entry.Name()))
		if match == nil {
			continue
		}
		if n, err := strconv.Atoi(match[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

// NextPartIndex assigns the next part index within a segment, tracked in
// part_index_NNN.txt. The first part of a segment is 1.
func (m *Manager) NextPartIndex(dir string, segment int) (int, error) {
	path := PartIndexPath(dir, segment)
	current := 0
	if data, err := os.ReadFile(path); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			current = v
		}
	}
	next := current + 1
	if err := fsutil.AtomicWriteSmall(path, []byte(strconv.Itoa(next))); err != nil {
		return 0, err
	}
	return next, nil
}
