package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"wapipe/internal/db"
	"wapipe/internal/models"
)

// Store persists webhook jobs in the database. Jobs survive restarts and
// dead ones stay queryable, which a broker-backed queue would not give us.
type Store struct {
	db          *sqlx.DB
	maxAttempts int
	backoffBase time.Duration
}

func NewStore(conn *sqlx.DB, maxAttempts int, backoffBase time.Duration) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = 2 * time.Second
	}
	return &Store{db: conn, maxAttempts: maxAttempts, backoffBase: backoffBase}
}

// Enqueue stores a raw payload as a pending job, runnable immediately.
func (s *Store) Enqueue(ctx context.Context, payload []byte, orderingKey string) (int64, error) {
	now := time.Now().UTC()

	if db.IsPostgres(s.db) {
		var id int64
		err := s.db.QueryRowxContext(ctx,
			`INSERT INTO webhook_jobs (payload, ordering_key, status, attempts, next_attempt_at, created_at, updated_at)
			 VALUES ($1, $2, 'pending', 0, $3, $4, $5) RETURNING id`,
			payload, orderingKey, now, now, now).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to enqueue webhook job: %w", err)
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO webhook_jobs (payload, ordering_key, status, attempts, next_attempt_at, created_at, updated_at)
		 VALUES (?, ?, 'pending', 0, ?, ?, ?)`),
		payload, orderingKey, now, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue webhook job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read webhook job id: %w", err)
	}
	return id, nil
}

// Claim atomically moves up to limit due pending jobs to processing and
// returns them in id order. On Postgres concurrent dispatchers skip each
// other's rows; on sqlite the whole claim runs in one transaction.
func (s *Store) Claim(ctx context.Context, limit int) ([]models.WebhookJob, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT id, payload, ordering_key, status, attempts, next_attempt_at, last_error, created_at, updated_at
		FROM webhook_jobs
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?`
	if db.IsPostgres(s.db) {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	var jobs []models.WebhookJob
	if err := tx.SelectContext(ctx, &jobs, tx.Rebind(query), now, limit); err != nil {
		return nil, fmt.Errorf("failed to select pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, tx.Commit()
	}

	for i := range jobs {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE webhook_jobs SET status = 'processing', updated_at = ? WHERE id = ?`),
			now, jobs[i].ID); err != nil {
			return nil, fmt.Errorf("failed to mark job processing: %w", err)
		}
		jobs[i].Status = models.JobProcessing
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return jobs, nil
}

// Complete removes a successfully processed job.
func (s *Store) Complete(ctx context.Context, jobID int64) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM webhook_jobs WHERE id = ?`), jobID); err != nil {
		return fmt.Errorf("failed to delete completed job: %w", err)
	}
	return nil
}

// Fail records a failed attempt. Below the attempt ceiling the job goes back
// to pending with exponential backoff (base, 2*base, ...); at the ceiling it
// is parked as dead and never retried automatically.
func (s *Store) Fail(ctx context.Context, job *models.WebhookJob, attemptErr error) (dead bool, err error) {
	now := time.Now().UTC()
	attempts := job.Attempts + 1
	lastError := attemptErr.Error()

	if attempts >= s.maxAttempts {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(
			`UPDATE webhook_jobs SET status = 'dead', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`),
			attempts, lastError, now, job.ID)
		if err != nil {
			return false, fmt.Errorf("failed to mark job dead: %w", err)
		}
		return true, nil
	}

	delay := s.backoffBase << (attempts - 1)
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE webhook_jobs SET status = 'pending', attempts = ?, last_error = ?, next_attempt_at = ?, updated_at = ? WHERE id = ?`),
		attempts, lastError, now.Add(delay), now, job.ID)
	if err != nil {
		return false, fmt.Errorf("failed to schedule job retry: %w", err)
	}
	return false, nil
}

// ReleaseStale returns processing jobs older than cutoff to pending. Covers
// crashes between claiming a job and recording its outcome.
func (s *Store) ReleaseStale(ctx context.Context, cutoff time.Duration) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE webhook_jobs SET status = 'pending', next_attempt_at = ?, updated_at = ?
		 WHERE status = 'processing' AND updated_at < ?`),
		now, now, now.Add(-cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to release stale jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeadJobs lists parked jobs for inspection and archival.
func (s *Store) DeadJobs(ctx context.Context, limit int) ([]models.WebhookJob, error) {
	var jobs []models.WebhookJob
	err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(
		`SELECT id, payload, ordering_key, status, attempts, next_attempt_at, last_error, created_at, updated_at
		 FROM webhook_jobs WHERE status = 'dead' ORDER BY id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead jobs: %w", err)
	}
	return jobs, nil
}
