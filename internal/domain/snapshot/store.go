package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/backend/internal/types"
)

const (
	snapshotExt  = ".json"
	snapshotPerm = 0o600
	dirPerm      = 0o700
)

// Store owns the snapshot directory: one file per session, named by the
// session's stable id. It is the single delete primitive shared by the
// engine and the sweeper.
type Store struct {
	dir         string
	maxFileSize int64
}

// Entry describes one on-disk snapshot in a listing
type Entry struct {
	ID      string
	Size    int64
	ModTime time.Time
}

// NewStore creates a store rooted at dir, creating it if missing
func NewStore(dir string, maxFileSize int64) (*Store, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, types.WrapError(types.KindIO, types.ReasonIOFailure, err)
	}
	return &Store{dir: dir, maxFileSize: maxFileSize}, nil
}

// path maps a session id to its snapshot file. The id is checked against
// path metacharacters so a crafted id can never escape the directory.
func (s *Store) path(sessionID string) (string, error) {
	if sessionID == "" ||
		strings.ContainsAny(sessionID, "/\\") ||
		strings.Contains(sessionID, "..") {
		return "", types.NewError(types.KindValidation, types.ReasonMissingID)
	}
	return filepath.Join(s.dir, sessionID+snapshotExt), nil
}

// Exists reports whether a snapshot file is present for the session
func (s *Store) Exists(sessionID string) bool {
	path, err := s.path(sessionID)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Write lands data atomically: temp file with an unpredictable suffix in
// the destination directory, final permissions set before rename, symlink
// check, then rename over the destination.
func (s *Store) Write(sessionID string, data []byte) error {
	dest, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		return types.NewError(types.KindValidation, types.ReasonSnapshotTooLarge)
	}

	// Unpredictable suffix: a colocated attacker cannot pre-create or
	// symlink the temp path
	tmp := dest + ".tmp-" + uuid.NewString()

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, snapshotPerm)
	if err != nil {
		return mapIOError(err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return mapIOError(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return mapIOError(err)
	}

	// Permissions are final before the file becomes visible under its
	// real name
	if err := os.Chmod(tmp, snapshotPerm); err != nil {
		os.Remove(tmp)
		return mapIOError(err)
	}

	info, err := os.Lstat(tmp)
	if err != nil {
		os.Remove(tmp)
		return mapIOError(err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		os.Remove(tmp)
		return types.NewError(types.KindIO, types.ReasonDenied)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return mapIOError(err)
	}
	return nil
}

// Read returns the snapshot bytes for a session, enforcing the size cap
// before reading.
func (s *Store) Read(sessionID string) ([]byte, error) {
	path, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, mapIOError(err)
	}
	if s.maxFileSize > 0 && info.Size() > s.maxFileSize {
		return nil, types.NewError(types.KindValidation, types.ReasonSnapshotTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mapIOError(err)
	}
	return data, nil
}

// Delete removes a snapshot file. Idempotent: a missing file is success.
func (s *Store) Delete(sessionID string) error {
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return mapIOError(err)
	}
	return nil
}

// List returns an entry per snapshot file, oldest first by modification time
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, mapIOError(err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), snapshotExt) {
			continue
		}
		if strings.Contains(de.Name(), ".tmp-") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			ID:      strings.TrimSuffix(de.Name(), snapshotExt),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	return entries, nil
}

// Count returns the on-disk snapshot population
func (s *Store) Count() (int, error) {
	entries, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// mapIOError reduces filesystem failures to the fixed safe categories
func mapIOError(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return types.WrapError(types.KindIO, types.ReasonNotFound, err)
	case errors.Is(err, os.ErrPermission):
		return types.WrapError(types.KindIO, types.ReasonDenied, err)
	default:
		return types.WrapError(types.KindIO, types.ReasonIOFailure, fmt.Errorf("storage: %w", err))
	}
}
