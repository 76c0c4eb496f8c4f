package jobs

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store records job attempts and terminal outcomes. The queue itself lives in
// Kafka; this is the bookkeeping callers poll instead of expecting a
// synchronous failure signal from the async path.
type Store struct{ DB *pgxpool.Pool }

func (s *Store) RecordAttempt(ctx context.Context, jobID string, t Type) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO jobs(id, type, attempts, status) VALUES ($1, $2, 1, 'running')
		ON CONFLICT (id) DO UPDATE SET attempts = jobs.attempts + 1, status = 'running'`,
		jobID, t)
	return err
}

func (s *Store) MarkCompleted(ctx context.Context, jobID string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE jobs SET status=$2, finished_at=now() WHERE id=$1`, jobID, StateCompleted)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, jobID string, lastErr string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE jobs SET status=$2, last_error=$3, finished_at=now() WHERE id=$1`,
		jobID, StateFailed, lastErr)
	return err
}
