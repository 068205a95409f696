//go:build !windows

package filesystem

import (
	"fmt"
	"syscall"

	"github.com/N283T/pdb-sync-sub001/internal/port"
)

// GetDiskUsage returns disk usage for the filesystem holding the mirror root.
// The nearest existing ancestor is used when the root does not exist yet.
func (m *Manager) GetDiskUsage() (*port.DiskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(existingAncestor(m.rootDir), &stat); err != nil {
		return nil, fmt.Errorf("failed to get disk stats: %w", err)
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	used := total - free

	usage := &port.DiskUsage{Total: total, Used: used, Free: free}
	if total > 0 {
		usage.UsedPct = float64(used) / float64(total) * 100
	}
	return usage, nil
}
