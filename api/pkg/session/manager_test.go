package session

import (
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	base := t.TempDir()
	return NewManager(
		filepath.Join(base, "sessions"),
		filepath.Join(base, "current_session"),
		filepath.Join(base, "wineprefix"),
		":0", "1920x1080", 12,
	)
}

func TestCreateSessionLaysOutArtifacts(t *testing.T) {
	m := testManager(t)
	dir, err := m.CreateSession("")
	require.NoError(t, err)

	assert.Equal(t, dir, m.CurrentDir())
	assert.FileExists(t, ManifestPath(dir))
	assert.Equal(t, "active", m.ReadState(dir))
	for _, sub := range []string{LogsDir(dir), ScreenshotsDir(dir), ScriptsDir(dir), UserDir(dir)} {
		info, err := os.Stat(sub)
		require.NoError(t, err, sub)
		assert.True(t, info.IsDir())
	}
	// profile skeleton under user/
	assert.DirExists(t, filepath.Join(UserDir(dir), "AppData", "Local", "Temp"))

	manifest, err := m.ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, IDFromDir(dir), manifest.SessionID)
	assert.Equal(t, ":0", manifest.Display)
	assert.Equal(t, 12, manifest.FPS)
	assert.Greater(t, manifest.StartTimeEpoch, float64(0))
}

func TestEnsureSessionIsIdempotent(t *testing.T) {
	m := testManager(t)
	first, err := m.EnsureSession()
	require.NoError(t, err)
	second, err := m.EnsureSession()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEnsureSessionRecoversFromDanglingPointer(t *testing.T) {
	m := testManager(t)
	require.NoError(t, m.SetCurrentDir(filepath.Join(m.Root, "session-gone")))
	dir, err := m.EnsureSession()
	require.NoError(t, err)
	assert.NotEqual(t, filepath.Join(m.Root, "session-gone"), dir)
	assert.FileExists(t, ManifestPath(dir))
}

func TestGenerateID(t *testing.T) {
	m := testManager(t)
	pattern := regexp.MustCompile(`^session-\d{4}-\d{2}-\d{2}-\d+-[0-9a-f]{6}$`)
	assert.Regexp(t, pattern, m.GenerateID(""))

	labelled := m.GenerateID("My App! v2")
	assert.Regexp(t, regexp.MustCompile(`-My-App-v2$`), labelled)

	// an all-junk label is dropped rather than leaving a trailing dash
	assert.Regexp(t, pattern, m.GenerateID("///"))
}

func TestResolveSessionRejectsTraversal(t *testing.T) {
	m := testManager(t)
	for _, id := range []string{"../other", "a/b", `a\b`, "..", ""} {
		_, err := m.ResolveSession(id, "", "")
		assert.ErrorIs(t, err, ErrBadRequest, id)
	}
}

func TestResolveSessionMissingDirIsNotFound(t *testing.T) {
	m := testManager(t)
	_, err := m.ResolveSession("session-2026-01-01-1-abcdef", "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveSessionByID(t *testing.T) {
	m := testManager(t)
	dir, err := m.CreateSession("")
	require.NoError(t, err)
	resolved, err := m.ResolveSession(IDFromDir(dir), "", "")
	require.NoError(t, err)
	assert.Equal(t, dir, resolved)
}

func TestResolveSessionByExplicitDirOutsidePrefixes(t *testing.T) {
	m := testManager(t)
	_, err := m.ResolveSession("", "/etc", "")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestNextSegmentIndexMonotonic(t *testing.T) {
	m := testManager(t)
	dir := t.TempDir()

	first, err := m.NextSegmentIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := m.NextSegmentIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, second)
}

func TestNextSegmentIndexDistinctUnderConcurrency(t *testing.T) {
	m := testManager(t)
	dir := t.TempDir()

	const callers = 10
	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := m.NextSegmentIndex(dir)
			assert.NoError(t, err)
			mu.Lock()
			assert.False(t, seen[idx], "segment index %d assigned twice", idx)
			seen[idx] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, callers)
}

func TestNextSegmentIndexRecoversFromVideos(t *testing.T) {
	m := testManager(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(VideoPath(dir, 3), []byte("mkv"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video_bad.mkv"), []byte("x"), 0o644))

	idx, err := m.NextSegmentIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, 4, idx)
}

func TestNextPartIndexStartsAtOne(t *testing.T) {
	m := testManager(t)
	dir := t.TempDir()

	part, err := m.NextPartIndex(dir, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, part)

	part, err = m.NextPartIndex(dir, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, part)

	// a different segment gets its own counter
	part, err = m.NextPartIndex(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, part)
}

func TestStateRoundTrip(t *testing.T) {
	m := testManager(t)
	dir, err := m.CreateSession("")
	require.NoError(t, err)
	require.NoError(t, m.WriteState(dir, "suspended"))
	assert.Equal(t, "suspended", m.ReadState(dir))
	assert.Equal(t, "", m.ReadState(filepath.Join(m.Root, "absent")))
}

func TestListNewestFirstWithLimit(t *testing.T) {
	m := testManager(t)
	older, err := m.CreateSession("older")
	require.NoError(t, err)
	newer, err := m.CreateSession("newer")
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	sessions, err := m.List("", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, IDFromDir(newer), sessions[0].SessionID)
	assert.True(t, sessions[0].Active)
	assert.False(t, sessions[1].Active)
	assert.True(t, sessions[0].HasManifest)

	limited, err := m.List("", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, IDFromDir(newer), limited[0].SessionID)
}

func TestListMissingRootIsEmpty(t *testing.T) {
	m := testManager(t)
	sessions, err := m.List(filepath.Join(t.TempDir(), "nothing"), 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestEnsureUserProfileReplacesSymlinks(t *testing.T) {
	m := testManager(t)
	userDir := t.TempDir()
	elsewhere := t.TempDir()
	require.NoError(t, os.Symlink(elsewhere, filepath.Join(userDir, "Desktop")))

	require.NoError(t, m.EnsureUserProfile(userDir))

	info, err := os.Lstat(filepath.Join(userDir, "Desktop"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Zero(t, info.Mode()&os.ModeSymlink)
}

func TestLinkUserDirBacksUpRealDir(t *testing.T) {
	m := testManager(t)
	target := filepath.Join(m.WinePrefix, "drive_c", "users", "winebot")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep.txt"), []byte("x"), 0o644))

	userDir := t.TempDir()
	require.NoError(t, m.LinkUserDir(userDir))

	resolved, err := os.Readlink(target)
	require.NoError(t, err)
	assert.Equal(t, userDir, resolved)

	backups, err := filepath.Glob(target + ".bak.*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.FileExists(t, filepath.Join(backups[0], "keep.txt"))
}

func TestLinkUserDirRepointsExistingSymlink(t *testing.T) {
	m := testManager(t)
	first := t.TempDir()
	second := t.TempDir()
	require.NoError(t, m.LinkUserDir(first))
	require.NoError(t, m.LinkUserDir(second))

	target := filepath.Join(m.WinePrefix, "drive_c", "users", "winebot")
	resolved, err := os.Readlink(target)
	require.NoError(t, err)
	assert.Equal(t, second, resolved)
}

func TestAppendLifecycleToleratesEmptyDir(t *testing.T) {
	m := testManager(t)
	// must not panic or create anything
	m.AppendLifecycle("", "noop", "", "test", nil)
}

func TestLifecycleEventsAreAppended(t *testing.T) {
	m := testManager(t)
	dir, err := m.CreateSession("")
	require.NoError(t, err)
	m.AppendLifecycle(dir, "api_started", "listening", "api", map[string]any{"port": 7900})

	data, err := os.ReadFile(LifecycleLogPath(dir))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"api_started"`)
	assert.Contains(t, string(data), `"session_id":"`+IDFromDir(dir)+`"`)
}
