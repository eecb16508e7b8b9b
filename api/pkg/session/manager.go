package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/types"
	"github.com/winebot/winebot/api/pkg/version"
)

var (
	// ErrBadRequest marks malformed session references.
	ErrBadRequest = errors.New("bad_request")
	// ErrNotFound marks absent session directories.
	ErrNotFound = errors.New("not_found")
)

var labelSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Manager owns all filesystem writes for sessions.
type Manager struct {
	Root        string
	PointerPath string
	WinePrefix  string
	Display     string
	Resolution  string
	FPS         int
}

func NewManager(root, pointerPath, winePrefix, display, resolution string, fps int) *Manager {
	return &Manager{
		Root:        root,
		PointerPath: pointerPath,
		WinePrefix:  winePrefix,
		Display:     display,
		Resolution:  resolution,
		FPS:         fps,
	}
}

// CurrentDir reads the current-session pointer. Readers tolerate a
// momentarily missing file.
func (m *Manager) CurrentDir() string {
	data, err := os.ReadFile(m.PointerPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SetCurrentDir updates the pointer atomically.
func (m *Manager) SetCurrentDir(dir string) error {
	return fsutil.AtomicWriteSmall(m.PointerPath, []byte(dir))
}

// GenerateID produces session-YYYY-MM-DD-<epoch>-<6hex>[-<label>].
func (m *Manager) GenerateID(label string) string {
	now := time.Now()
	id := fmt.Sprintf("session-%s-%d-%s",
		now.UTC().Format("2006-01-02"),
		now.Unix(),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	if label != "" {
		safe := strings.Trim(labelSanitizer.ReplaceAllString(label, "-"), "-")
		if safe != "" {
			id += "-" + safe
		}
	}
	return id
}

// EnsureSession returns the current session directory, synthesising a new
// session when no current one exists. Idempotent: a live session only has
// its subdirs re-ensured.
func (m *Manager) EnsureSession() (string, error) {
	dir := m.CurrentDir()
	if dir != "" {
		if _, err := os.Stat(ManifestPath(dir)); err == nil {
			if err := m.EnsureSubdirs(dir); err != nil {
				return "", err
			}
			return dir, nil
		}
	}
	return m.CreateSession("")
}

// CreateSession allocates a fresh session directory and makes it current.
func (m *Manager) CreateSession(label string) (string, error) {
	if err := os.MkdirAll(m.Root, 0o755); err != nil {
		return "", err
	}
	id := m.GenerateID(label)
	dir := filepath.Join(m.Root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := m.SetCurrentDir(dir); err != nil {
		return "", err
	}
	if err := m.WriteManifest(dir, id); err != nil {
		return "", err
	}
	if err := m.EnsureSubdirs(dir); err != nil {
		return "", err
	}
	if err := m.WriteState(dir, "active"); err != nil {
		return "", err
	}
	log.Info().Str("session_id", id).Str("session_dir", dir).Msg("session created")
	return dir, nil
}

// ResolveSession maps an id or explicit directory to a validated path.
// Ids carrying separators or dot-dot are rejected.
func (m *Manager) ResolveSession(id, dir, root string) (string, error) {
	if dir != "" {
		resolved, err := fsutil.ValidatePath(dir)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrBadRequest, err.Error())
		}
		return m.requireDir(resolved)
	}
	if id == "" {
		return "", fmt.Errorf("%w: session_id or session_dir required", ErrBadRequest)
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: invalid session_id", ErrBadRequest)
	}
	if root == "" {
		root = m.Root
	}
	return m.requireDir(filepath.Join(root, id))
}

func (m *Manager) requireDir(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: session directory not found", ErrNotFound)
	}
	return dir, nil
}

// WriteManifest writes the immutable session manifest.
func (m *Manager) WriteManifest(dir, id string) error {
	hostname, _ := os.Hostname()
	now := time.Now()
	manifest := types.SessionManifest{
		SchemaVersion:  version.ArtifactSchemaVersion,
		SessionID:      id,
		StartTimeEpoch: float64(now.UnixMilli()),
		StartTimeISO:   types.NowISO(now),
		Hostname:       hostname,
		Display:        m.Display,
		Resolution:     m.Resolution,
		FPS:            m.FPS,
		GitSHA:         os.Getenv("GIT_SHA"),
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.AtomicWriteSmall(ManifestPath(dir), data)
}

// ReadManifest loads session.json.
func (m *Manager) ReadManifest(dir string) (types.SessionManifest, error) {
	var manifest types.SessionManifest
	data, err := os.ReadFile(ManifestPath(dir))
	if err != nil {
		return manifest, err
	}
	err = json.Unmarshal(data, &manifest)
	return manifest, err
}

// WriteState writes session.state (active | suspended).
func (m *Manager) WriteState(dir, state string) error {
	return fsutil.AtomicWriteSmall(StatePath(dir), []byte(state))
}

// ReadState returns the session state, "" when unknown.
func (m *Manager) ReadState(dir string) string {
	data, err := os.ReadFile(StatePath(dir))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// EnsureSubdirs creates the session subtree skeleton.
func (m *Manager) EnsureSubdirs(dir string) error {
	for _, sub := range []string{LogsDir(dir), ScreenshotsDir(dir), ScriptsDir(dir), UserDir(dir)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return err
		}
	}
	return m.EnsureUserProfile(UserDir(dir))
}

// windowsProfileSubdirs mirrors the profile tree wine expects under
// drive_c/users/<name>.
var windowsProfileSubdirs = []string{
	"Desktop",
	"Documents",
	"Downloads",
	"Music",
	"Pictures",
	"Videos",
	"AppData/Local",
	"AppData/Local/Temp",
	"AppData/Roaming",
	"AppData/LocalLow",
	"Temp",
}

// EnsureUserProfile creates the Windows-style profile skeleton under
// userDir. Pre-existing symlinks at those locations are unlinked and
// replaced with real directories.
func (m *Manager) EnsureUserProfile(userDir string) error {
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return err
	}
	for _, sub := range windowsProfileSubdirs {
		path := filepath.Join(userDir, filepath.FromSlash(sub))
		if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(path); err != nil {
				return err
			}
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// LinkUserDir points <prefix>/drive_c/users/winebot at userDir, backing
// up any existing non-link directory.
func (m *Manager) LinkUserDir(userDir string) error {
	target := filepath.Join(m.WinePrefix, "drive_c", "users", "winebot")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if info, err := os.Lstat(target); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(target); err != nil {
				return err
			}
		} else {
			backup := fmt.Sprintf("%s.bak.%d", target, time.Now().Unix())
			if err := os.Rename(target, backup); err != nil {
				return err
			}
			log.Info().Str("backup", backup).Msg("existing wine user dir backed up")
		}
	}
	return os.Symlink(userDir, target)
}

// AppendLifecycle best-effort appends a lifecycle event. Telemetry
// failures never break the mutation that triggered them.
func (m *Manager) AppendLifecycle(dir, kind, message, source string, extra map[string]any) {
	if dir == "" {
		return
	}
	now := time.Now()
	event := types.LifecycleEvent{
		SchemaVersion:    version.EventSchemaVersion,
		TimestampEpochMS: now.UnixMilli(),
		TimestampUTC:     types.NowISO(now),
		SessionID:        IDFromDir(dir),
		Kind:             kind,
		Message:          message,
		Source:           source,
		Extra:            extra,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := fsutil.AppendLine(LifecycleLogPath(dir), data); err != nil {
		log.Debug().Err(err).Str("kind", kind).Msg("lifecycle append failed")
	}
}

// Info is one entry of the session listing.
type Info struct {
	SessionID         string                 `json:"session_id"`
	SessionDir        string                 `json:"session_dir"`
	Active            bool                   `json:"active"`
	State             string                 `json:"state,omitempty"`
	HasManifest       bool                   `json:"has_session_json"`
	LastModifiedEpoch int64                  `json:"last_modified_epoch"`
	Manifest          *types.SessionManifest `json:"manifest,omitempty"`
}

// List enumerates session directories under root, newest first.
func (m *Manager) List(root string, limit int) ([]Info, error) {
	if root == "" {
		root = m.Root
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	current := m.CurrentDir()
	var sessions []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		info := Info{
			SessionID:  entry.Name(),
			SessionDir: dir,
			Active:     dir == current,
			State:      m.ReadState(dir),
		}
		if fi, err := entry.Info(); err == nil {
			info.LastModifiedEpoch = fi.ModTime().Unix()
		}
		if manifest, err := m.ReadManifest(dir); err == nil {
			info.HasManifest = true
			info.Manifest = &manifest
		}
		sessions = append(sessions, info)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastModifiedEpoch > sessions[j].LastModifiedEpoch
	})
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}
