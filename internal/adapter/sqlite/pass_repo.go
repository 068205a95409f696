package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/N283T/pdb-sync-sub001/internal/domain"
	"github.com/N283T/pdb-sync-sub001/internal/port"
)

// StateAbandoned marks file rows for descriptors that were never dispatched
const StateAbandoned = "abandoned"

// Ensure Store implements port.HistoryRepository
var _ port.HistoryRepository = (*Store)(nil)

// SaveReport stores the pass header and every file result in one transaction
func (s *Store) SaveReport(report *domain.SyncReport) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var abortReason sql.NullString
	if report.AbortReason != nil {
		abortReason = sql.NullString{String: report.AbortReason.Error(), Valid: true}
	}

	_, err = tx.Exec(`
		INSERT INTO passes (
			pass_id, engine, started_at, finished_at, attempted, bytes_transferred,
			verified_ok, failed, skipped, resumed, abandoned, aborted, abort_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.PassID, string(report.Engine),
		report.StartedAt.UnixMilli(), report.FinishedAt.UnixMilli(),
		report.Totals.Attempted, report.Totals.BytesTransferred,
		report.Totals.VerifiedOK, report.Totals.Failed,
		report.Totals.Skipped, report.Totals.Resumed,
		len(report.Abandoned), report.Aborted, abortReason)
	if err != nil {
		return fmt.Errorf("failed to insert pass: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO file_results (
			pass_id, subpath, destination, state, outcome, bytes_written, resumed_from,
			verify, expected_digest, actual_digest, attempts, last_error, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, res := range report.Entries() {
		var lastError sql.NullString
		if res.Err != nil {
			lastError = sql.NullString{String: res.Err.Error(), Valid: true}
		}
		_, err := stmt.Exec(
			report.PassID, res.Subpath, res.Destination, string(res.State),
			res.Outcome.Kind.String(), res.Outcome.BytesWritten, res.Outcome.ResumedFrom,
			res.Verify.Kind.String(), res.Verify.Expected, res.Verify.Actual,
			res.Attempts, lastError, res.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", res.Subpath, err)
		}
	}

	for _, subpath := range report.Abandoned {
		if _, err := stmt.Exec(report.PassID, subpath, "", StateAbandoned,
			"", 0, 0, "", "", "", 0, nil, 0); err != nil {
			return fmt.Errorf("failed to insert abandoned %s: %w", subpath, err)
		}
	}

	return tx.Commit()
}

// LatestPass returns the most recently started pass, or nil if none exists
func (s *Store) LatestPass() (*port.PassSummary, error) {
	row := s.db.QueryRow(`
		SELECT pass_id, engine, started_at, finished_at, attempted, bytes_transferred,
			   verified_ok, failed, skipped, resumed, abandoned, aborted
		FROM passes
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`)

	var p port.PassSummary
	var engine string
	var startedAt, finishedAt int64
	err := row.Scan(&p.PassID, &engine, &startedAt, &finishedAt,
		&p.Totals.Attempted, &p.Totals.BytesTransferred, &p.Totals.VerifiedOK,
		&p.Totals.Failed, &p.Totals.Skipped, &p.Totals.Resumed,
		&p.Abandoned, &p.Aborted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.Engine = domain.EngineType(engine)
	p.StartedAt = time.UnixMilli(startedAt)
	p.FinishedAt = time.UnixMilli(finishedAt)
	return &p, nil
}

// FailedSubpaths returns the failed and abandoned subpaths of a pass, sorted
func (s *Store) FailedSubpaths(passID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT subpath FROM file_results
		WHERE pass_id = ? AND state IN (?, ?)
		ORDER BY subpath
	`, passID, string(domain.StateFailed), StateAbandoned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subpaths []string
	for rows.Next() {
		var subpath string
		if err := rows.Scan(&subpath); err != nil {
			return nil, err
		}
		subpaths = append(subpaths, subpath)
	}
	return subpaths, rows.Err()
}

// PrunePasses deletes passes that finished before now minus olderThan
func (s *Store) PrunePasses(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM file_results
		WHERE pass_id IN (SELECT pass_id FROM passes WHERE finished_at < ?)
	`, cutoff); err != nil {
		return 0, err
	}

	result, err := tx.Exec(`DELETE FROM passes WHERE finished_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(n), tx.Commit()
}
