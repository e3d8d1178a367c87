package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"mailpipe/internal/models"
)

const jobColumns = `id, to_email, template_type, variables, status, scheduled_for,
	attempts, COALESCE(last_error, ''), created_at, updated_at`

func scanJob(row pgx.Row) (*models.EmailJob, error) {
	var job models.EmailJob
	var variables []byte

	err := row.Scan(
		&job.ID,
		&job.ToEmail,
		&job.TemplateType,
		&variables,
		&job.Status,
		&job.ScheduledFor,
		&job.Attempts,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(variables, &job.Variables); err != nil {
		return nil, err
	}

	return &job, nil
}

// Enqueue inserts a pending job. Unknown template types are accepted here
// and fail later at render time.
func (s *Store) Enqueue(
	ctx context.Context,
	toEmail string,
	templateType string,
	variables map[string]string,
	scheduledFor time.Time,
) (int64, error) {

	if variables == nil {
		variables = map[string]string{}
	}

	varsJSON, err := json.Marshal(variables)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.Pool.QueryRow(ctx,
		`INSERT INTO email_jobs
		 (to_email, template_type, variables, status, scheduled_for, attempts, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,0,NOW(),NOW())
		 RETURNING id`,
		toEmail,
		templateType,
		varsJSON,
		models.StatusPending,
		scheduledFor,
	).Scan(&id)

	return id, err
}

// FetchEligible returns pending jobs due at or before now, oldest schedule
// first, capped at limit.
func (s *Store) FetchEligible(ctx context.Context, limit int, now time.Time) ([]models.EmailJob, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM email_jobs
		 WHERE status = $1 AND scheduled_for <= $2
		 ORDER BY scheduled_for ASC
		 LIMIT $3`,
		models.StatusPending,
		now,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]models.EmailJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

// Claim flips one pending job to processing and increments its attempt
// counter in a single conditional update. At most one caller wins; losers
// get ok=false. This is what keeps two overlapping worker runs from sending
// the same email twice.
func (s *Store) Claim(ctx context.Context, jobID int64) (*models.EmailJob, bool, error) {
	row := s.Pool.QueryRow(ctx,
		`UPDATE email_jobs
		 SET status = $1, attempts = attempts + 1, updated_at = NOW()
		 WHERE id = $2 AND status = $3
		 RETURNING `+jobColumns,
		models.StatusProcessing,
		jobID,
		models.StatusPending,
	)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return job, true, nil
}

// MarkSent finalizes a processing job. Terminal rows are never touched.
func (s *Store) MarkSent(ctx context.Context, jobID int64) error {
	cmdTag, err := s.Pool.Exec(ctx,
		`UPDATE email_jobs
		 SET status = $1, last_error = NULL, updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		models.StatusSent,
		jobID,
		models.StatusProcessing,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records the failure reason. A terminal failure ends the job;
// otherwise it returns to pending for the next scheduler tick.
func (s *Store) MarkFailed(ctx context.Context, jobID int64, errorMsg string, terminal bool) error {
	next := models.StatusPending
	if terminal {
		next = models.StatusFailed
	}

	cmdTag, err := s.Pool.Exec(ctx,
		`UPDATE email_jobs
		 SET status = $1, last_error = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		next,
		errorMsg,
		jobID,
		models.StatusProcessing,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HasEligible is the cheap existence check behind the periodic trigger.
func (s *Store) HasEligible(ctx context.Context, now time.Time) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM email_jobs
			WHERE status = $1 AND scheduled_for <= $2
		 )`,
		models.StatusPending,
		now,
	).Scan(&exists)

	return exists, err
}

// ResetStuck recovers jobs stuck in processing (a worker run that died
// mid-batch) since before cutoff. Rows with attempts left return to
// pending; rows that died holding their final claim have no attempts left
// and are failed outright, otherwise nothing could ever move them again.
func (s *Store) ResetStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	failedTag, err := s.Pool.Exec(ctx,
		`UPDATE email_jobs
		 SET status = $1, last_error = $2, updated_at = NOW()
		 WHERE status = $3 AND attempts >= $4 AND updated_at < $5`,
		models.StatusFailed,
		"processing timed out on final attempt",
		models.StatusProcessing,
		models.MaxAttempts,
		cutoff,
	)
	if err != nil {
		return 0, err
	}

	resetTag, err := s.Pool.Exec(ctx,
		`UPDATE email_jobs
		 SET status = $1, updated_at = NOW()
		 WHERE status = $2 AND attempts < $3 AND updated_at < $4`,
		models.StatusPending,
		models.StatusProcessing,
		models.MaxAttempts,
		cutoff,
	)
	if err != nil {
		return failedTag.RowsAffected(), err
	}

	return failedTag.RowsAffected() + resetTag.RowsAffected(), nil
}

// CountByStatus returns job counts keyed by status for the observability
// surface.
func (s *Store) CountByStatus(ctx context.Context) (map[models.EmailStatus]int64, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT status, COUNT(*) FROM email_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.EmailStatus]int64)
	for rows.Next() {
		var status models.EmailStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

// ListRecent returns the newest jobs for the observability surface.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]models.EmailJob, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM email_jobs
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]models.EmailJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}
