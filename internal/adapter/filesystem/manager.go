package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/N283T/pdb-sync-sub001/internal/domain"
	"github.com/N283T/pdb-sync-sub001/internal/domain/vo"
	"github.com/N283T/pdb-sync-sub001/internal/port"
)

// TempSuffix marks in-progress downloads
const TempSuffix = ".downloading"

// Manager handles filesystem operations below the mirror root
type Manager struct {
	rootDir string
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a manager for rootDir. The directory is not created
// until EnsureRoot is called.
func NewManager(rootDir string) (*Manager, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("%w: empty mirror root", domain.ErrInvalidInput)
	}
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mirror root: %w", err)
	}
	return &Manager{rootDir: abs}, nil
}

// RootDir returns the mirror root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// EnsureRoot creates the mirror root
func (m *Manager) EnsureRoot() error {
	if err := os.MkdirAll(m.rootDir, 0755); err != nil {
		return fmt.Errorf("failed to create mirror root: %w", err)
	}
	return nil
}

// Resolve validates subpath and returns its destination under the root
func (m *Manager) Resolve(subpath string) (string, error) {
	return vo.Resolve(m.rootDir, subpath)
}

// TempPath returns the temp sibling of dest
func (m *Manager) TempPath(dest string) string {
	return dest + TempSuffix
}

// Stat returns the size of path and whether it exists
func (m *Manager) Stat(path string) (int64, bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if info.IsDir() {
		return 0, false, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), true, nil
}

// OpenTemp opens the temp file for dest
func (m *Manager) OpenTemp(dest string, resume bool) (port.TempFile, int64, error) {
	if err := m.checkWithin(dest); err != nil {
		return nil, 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, 0, fmt.Errorf("failed to create parent dir: %w", err)
	}

	tempPath := m.TempPath(dest)
	if resume {
		if info, err := os.Stat(tempPath); err == nil {
			f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to open temp file for resume: %w", err)
			}
			return f, info.Size(), nil
		}
	}

	f, err := os.Create(tempPath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	return f, 0, nil
}

// Commit renames the temp file of dest to dest
func (m *Manager) Commit(dest string) error {
	if err := m.checkWithin(dest); err != nil {
		return err
	}
	if err := os.Rename(m.TempPath(dest), dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// DiscardTemp removes the temp file of dest
func (m *Manager) DiscardTemp(dest string) error {
	if err := m.checkWithin(dest); err != nil {
		return err
	}
	if err := os.Remove(m.TempPath(dest)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete temp file: %w", err)
	}
	return nil
}

// CheckSpace returns domain.ErrInsufficientSpace when needed exceeds free space
func (m *Manager) CheckSpace(needed int64) error {
	if needed <= 0 {
		return nil
	}
	usage, err := m.GetDiskUsage()
	if err != nil {
		return err
	}
	if uint64(needed) > usage.Free {
		return fmt.Errorf("%w: need %d bytes, %d free", domain.ErrInsufficientSpace, needed, usage.Free)
	}
	return nil
}

// CleanOldTempFiles removes temp files older than the specified duration
func (m *Manager) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := filepath.WalkDir(m.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, TempSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(threshold) {
			if removeErr := os.Remove(path); removeErr == nil {
				count++
			}
		}
		return nil
	})
	return count, err
}

// CleanEmptyDirs removes empty directories under root
func (m *Manager) CleanEmptyDirs() error {
	var dirs []string
	err := filepath.WalkDir(m.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() && path != m.rootDir {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Deepest first so parents emptied by the loop are removed too
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Remove(dirs[i]) // Will only succeed if empty
	}
	return nil
}

func (m *Manager) checkWithin(dest string) error {
	if !vo.IsWithin(m.rootDir, dest) || filepath.Clean(dest) == m.rootDir {
		return &vo.PathError{Path: dest, Reason: "outside mirror root"}
	}
	return nil
}
