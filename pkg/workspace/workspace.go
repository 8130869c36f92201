package workspace

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatvault/pkg/cursordb"
)

// Env locates the editor's storage on this machine. Tests point it at a
// temp directory; production code uses DefaultEnv.
type Env struct {
	// UserDir is the editor's User data directory, e.g.
	// ~/Library/Application Support/Cursor/User on darwin or
	// ~/.config/Cursor/User on linux.
	UserDir string

	// ProjectsDir is the editor's per-project side storage
	// (~/.cursor/projects), holding agent transcripts among other
	// things. Empty when unknown; transcripts are then skipped.
	ProjectsDir string
}

func DefaultEnv() (Env, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Env{}, errors.Wrap(err, "workspace: resolve home dir")
	}
	projects := filepath.Join(home, ".cursor", "projects")
	switch runtime.GOOS {
	case "darwin":
		return Env{
			UserDir:     filepath.Join(home, "Library", "Application Support", "Cursor", "User"),
			ProjectsDir: projects,
		}, nil
	case "linux":
		return Env{
			UserDir:     filepath.Join(home, ".config", "Cursor", "User"),
			ProjectsDir: projects,
		}, nil
	default:
		return Env{}, errors.Errorf("workspace: unsupported platform %q", runtime.GOOS)
	}
}

// GlobalDBPath is the store holding conversation bodies, bubbles and
// content blobs, shared across all projects.
func (e Env) GlobalDBPath() string {
	return filepath.Join(e.UserDir, "globalStorage", "state.vscdb")
}

// StorageDir holds one directory per workspace, each with a
// workspace.json marker and its own state.vscdb registry store.
func (e Env) StorageDir() string {
	return filepath.Join(e.UserDir, "workspaceStorage")
}

// TranscriptDir returns the agent-transcripts directory for a project,
// or "" when the editor never wrote one. The editor names the project
// directory by flattening the absolute path into dashes.
func (e Env) TranscriptDir(projectPath string) string {
	if e.ProjectsDir == "" {
		return ""
	}
	flattened := strings.ReplaceAll(strings.TrimPrefix(normalizePath(projectPath), "/"), "/", "-")
	dir := filepath.Join(e.ProjectsDir, flattened, "agent-transcripts")
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return ""
	}
	return dir
}

// Handle binds a project identity to one physical workspace store. It is
// recomputed on every invocation and never persisted.
type Handle struct {
	FolderURI string
	Path      string // filesystem path extracted from the folder URI
	Kind      string // "local" or "ssh"
	Host      string // ssh host for remote workspaces, empty otherwise
	Dir       string // workspaceStorage/<id>
	ModTime   time.Time
}

func (h Handle) DBPath() string {
	return filepath.Join(h.Dir, "state.vscdb")
}

// ListAll scans workspaceStorage for every workspace the editor knows,
// newest store first. Directories without a readable workspace.json are
// skipped, not errors.
func (e Env) ListAll() ([]Handle, error) {
	entries, err := os.ReadDir(e.StorageDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "workspace: read storage dir")
	}

	handles := []Handle{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(e.StorageDir(), entry.Name())
		h, ok := readHandle(dir)
		if !ok {
			continue
		}
		handles = append(handles, h)
	}

	sort.Slice(handles, func(i, j int) bool {
		return handles[i].ModTime.After(handles[j].ModTime)
	})
	return handles, nil
}

// FindForProject returns all workspaces whose folder resolves to the
// given project path, newest first.
func (e Env) FindForProject(projectPath string) ([]Handle, error) {
	target := normalizePath(projectPath)
	all, err := e.ListAll()
	if err != nil {
		return nil, err
	}
	matches := []Handle{}
	for _, h := range all {
		if normalizePath(h.Path) == target {
			matches = append(matches, h)
		}
	}
	return matches, nil
}

// Resolve maps a selector to a workspace: a 1-based index into the
// handle list, or a path substring.
func Resolve(selector string, handles []Handle) (*Handle, bool) {
	if idx, err := strconv.Atoi(selector); err == nil {
		if idx >= 1 && idx <= len(handles) {
			return &handles[idx-1], true
		}
		return nil, false
	}
	for i := range handles {
		if strings.Contains(handles[i].Path, selector) {
			return &handles[i], true
		}
	}
	return nil, false
}

// CreateForProject registers a fresh workspace directory for a project
// that has never been opened on this machine: a random id directory, a
// workspace.json marker and an empty registry store.
func (e Env) CreateForProject(projectPath string) (Handle, error) {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	dir := filepath.Join(e.StorageDir(), id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Handle{}, errors.Wrap(err, "workspace: create workspace dir")
	}

	abs := normalizePath(projectPath)
	folderURI := "file://" + abs
	marker, err := json.Marshal(map[string]string{"folder": folderURI})
	if err != nil {
		return Handle{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, "workspace.json"), marker, 0o644); err != nil {
		return Handle{}, errors.Wrap(err, "workspace: write workspace.json")
	}

	h := Handle{FolderURI: folderURI, Path: abs, Kind: "local", Dir: dir, ModTime: time.Now()}
	if err := cursordb.InitSchema(h.DBPath()); err != nil {
		return Handle{}, err
	}
	log.Info().Str("project", abs).Str("dir", dir).Msg("created workspace")
	return h, nil
}

func readHandle(dir string) (Handle, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "workspace.json"))
	if err != nil {
		return Handle{}, false
	}
	var marker struct {
		Folder string `json:"folder"`
	}
	if err := json.Unmarshal(data, &marker); err != nil || marker.Folder == "" {
		return Handle{}, false
	}

	h := Handle{FolderURI: marker.Folder, Dir: dir}
	switch {
	case strings.HasPrefix(marker.Folder, "file://"):
		h.Kind = "local"
		p := strings.TrimPrefix(marker.Folder, "file://")
		if unescaped, err := url.PathUnescape(p); err == nil {
			p = unescaped
		}
		h.Path = normalizePath(p)
	case strings.HasPrefix(marker.Folder, "vscode-remote://"):
		// vscode-remote://ssh-remote%2B<host>/<path> marks a store that
		// lives on a different host than the local filesystem suggests.
		h.Kind = "ssh"
		rest := strings.TrimPrefix(marker.Folder, "vscode-remote://")
		authority, path, ok := strings.Cut(rest, "/")
		if !ok {
			return Handle{}, false
		}
		if _, host, ok := strings.Cut(authority, "%2B"); ok {
			h.Host = host
		} else if _, host, ok := strings.Cut(authority, "+"); ok {
			h.Host = host
		}
		h.Path = normalizePath("/" + path)
	default:
		return Handle{}, false
	}

	if st, err := os.Stat(h.DBPath()); err == nil {
		h.ModTime = st.ModTime()
	}
	return h, true
}

func normalizePath(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.Clean(p)
}
