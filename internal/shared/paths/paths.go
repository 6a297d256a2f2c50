package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ValidateProjectPath validates a project directory path for use by a session.
// The path must be absolute, free of traversal segments, resolve through any
// symlinks to a real directory, and exist. Returns the resolved path.
func ValidateProjectPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("project path is empty")
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("project path must be absolute")
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return "", fmt.Errorf("project path contains traversal segments")
		}
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("project path does not exist: %w", err)
		}
		return "", fmt.Errorf("resolving project path: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat project path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project path is not a directory")
	}

	return resolved, nil
}

// PathStat is an identity snapshot of a directory, captured at validation
// time and re-compared immediately before the path is handed to a worker.
// A change in any field during that window is treated as tampering.
type PathStat struct {
	Inode uint64
	UID   uint32
	GID   uint32
	Mode  os.FileMode
}

// Capture records the current identity of the path
func Capture(path string) (PathStat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return PathStat{}, err
	}

	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return PathStat{}, fmt.Errorf("stat: platform does not expose inode metadata")
	}

	return PathStat{
		Inode: sys.Ino,
		UID:   sys.Uid,
		GID:   sys.Gid,
		Mode:  info.Mode(),
	}, nil
}

// Equal reports whether two snapshots describe the same directory identity
func (s PathStat) Equal(other PathStat) bool {
	return s.Inode == other.Inode &&
		s.UID == other.UID &&
		s.GID == other.GID &&
		s.Mode == other.Mode
}
