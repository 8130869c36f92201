package cursordb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNoData is returned when the store file does not exist. An empty
// project is a valid state, so callers usually treat this as "nothing to
// do" rather than a failure.
var ErrNoData = errors.New("cursordb: store file does not exist")

// Store provides safe access to one state.vscdb key-value database.
//
// All reads run against a temporary copy of the database. The main file
// and any -wal/-shm side files are copied together before any of them is
// opened, so a live editor writing through its WAL never produces a torn
// read. Reading only the main file while a WAL exists is never safe.
//
// Writes go to the original file and require the editor to be closed;
// that precondition is enforced by the import transaction, not here.
type Store struct {
	path   string
	tmpDir string
	db     *sql.DB
}

func Open(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// ensureReadCopy captures db+wal+shm into a temp directory as one unit
// and opens the copy. The copy is checkpointed so pending WAL frames are
// folded into the main file before any query runs.
func (s *Store) ensureReadCopy() (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil, ErrNoData
	}

	tmpDir, err := os.MkdirTemp("", "chatvault-read-")
	if err != nil {
		return nil, errors.Wrap(err, "cursordb: create temp dir")
	}
	tmpDB := filepath.Join(tmpDir, filepath.Base(s.path))
	if err := copyFile(s.path, tmpDB); err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, errors.Wrap(err, "cursordb: copy store file")
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		side := s.path + suffix
		if _, err := os.Stat(side); err == nil {
			if err := copyFile(side, tmpDB+suffix); err != nil {
				_ = os.RemoveAll(tmpDir)
				return nil, errors.Wrapf(err, "cursordb: copy side file %s", suffix)
			}
		}
	}

	db, err := sql.Open("sqlite3", sqliteDSNForFile(tmpDB))
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, errors.Wrap(err, "cursordb: open read copy")
	}
	if _, err := db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		// not in WAL mode, nothing to fold in
		log.Debug().Str("path", s.path).Err(err).Msg("wal checkpoint skipped")
	}

	s.tmpDir = tmpDir
	s.db = db
	return db, nil
}

// Close releases the read copy. The original store is never touched.
func (s *Store) Close() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
		s.db = nil
	}
	if s.tmpDir != "" {
		_ = os.RemoveAll(s.tmpDir)
		s.tmpDir = ""
	}
	return err
}

// GetItem looks up one key in the given table of the read copy.
func (s *Store) GetItem(table Table, key string) (string, bool, error) {
	db, err := s.ensureReadCopy()
	if err != nil {
		return "", false, err
	}
	row := db.QueryRow(fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, table), key)
	var value []byte
	switch err := row.Scan(&value); {
	case err == nil:
		return string(value), true, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case isNoSuchTable(err):
		return "", false, nil
	default:
		return "", false, errors.Wrapf(err, "cursordb: get %s[%s]", table, key)
	}
}

// GetJSON looks up a key and unmarshals its value.
func (s *Store) GetJSON(table Table, key string, v any) (bool, error) {
	raw, ok, err := s.GetItem(table, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, errors.Wrapf(err, "cursordb: parse %s[%s]", table, key)
	}
	return true, nil
}

// ListKeys returns all keys in a table matching the prefix, sorted.
func (s *Store) ListKeys(table Table, prefix string) ([]string, error) {
	db, err := s.ensureReadCopy()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		fmt.Sprintf(`SELECT key FROM %s WHERE key LIKE ? ORDER BY key ASC`, table),
		prefix+"%",
	)
	if err != nil {
		if isNoSuchTable(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "cursordb: list keys %s[%s*]", table, prefix)
	}
	defer func() { _ = rows.Close() }()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "cursordb: list keys")
	}
	return keys, nil
}

// WriteItem upserts a key on the ORIGINAL database file, not the read
// copy. Callers must hold the editor-not-running precondition.
func (s *Store) WriteItem(table Table, key string, value string) error {
	db, err := sql.Open("sqlite3", sqliteDSNForFile(s.path))
	if err != nil {
		return errors.Wrap(err, "cursordb: open for write")
	}
	defer func() { _ = db.Close() }()

	_, err = db.Exec(
		fmt.Sprintf(`INSERT OR REPLACE INTO %s (key, value) VALUES (?, ?)`, table),
		key, value,
	)
	if err != nil {
		return errors.Wrapf(err, "cursordb: write %s[%s]", table, key)
	}
	return nil
}

// WriteJSON marshals v compactly and upserts it on the original file.
func (s *Store) WriteJSON(table Table, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "cursordb: marshal %s[%s]", table, key)
	}
	return s.WriteItem(table, key, string(data))
}

// InitSchema creates an empty store with the two key-value tables the
// editor expects. Used when importing into a machine that has never
// opened the project.
func InitSchema(path string) error {
	db, err := sql.Open("sqlite3", sqliteDSNForFile(path))
	if err != nil {
		return errors.Wrap(err, "cursordb: open for init")
	}
	defer func() { _ = db.Close() }()

	for _, table := range []Table{TableItem, TableDiskKV} {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key TEXT UNIQUE, value BLOB)`, table)
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "cursordb: create table %s", table)
		}
	}
	return nil
}

// Backup copies the store plus any wal/shm side files next to the
// original, named with a timestamp so repeated imports never clobber an
// earlier backup. Returns the backup path of the main file.
func Backup(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", ErrNoData
	}
	stamp := time.Now().Format("20060102_150405")
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	backup := filepath.Join(filepath.Dir(path), fmt.Sprintf("%s.backup_%s%s", stem, stamp, ext))

	if err := copyFile(path, backup); err != nil {
		return "", errors.Wrap(err, "cursordb: backup store file")
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		side := path + suffix
		if _, err := os.Stat(side); err == nil {
			if err := copyFile(side, backup+suffix); err != nil {
				return "", errors.Wrapf(err, "cursordb: backup side file %s", suffix)
			}
		}
	}
	log.Debug().Str("path", path).Str("backup", backup).Msg("store backed up")
	return backup, nil
}

func sqliteDSNForFile(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000", path)
}

func isNoSuchTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
