package port

import (
	"time"

	"github.com/N283T/pdb-sync-sub001/internal/domain"
)

// PassSummary is a persisted pass header
type PassSummary struct {
	PassID     string
	Engine     domain.EngineType
	StartedAt  time.Time
	FinishedAt time.Time
	Totals     domain.Totals
	Abandoned  int
	Aborted    bool
}

// HistoryRepository persists finished sync reports
type HistoryRepository interface {
	// SaveReport stores the pass header and every file result
	SaveReport(report *domain.SyncReport) error

	// LatestPass returns the most recent pass, or nil if none
	LatestPass() (*PassSummary, error)

	// FailedSubpaths returns the subpaths that failed in a pass
	FailedSubpaths(passID string) ([]string, error)

	// PrunePasses deletes passes that finished before now minus olderThan
	PrunePasses(olderThan time.Duration) (int, error)

	// Close closes the database connection
	Close() error
}
