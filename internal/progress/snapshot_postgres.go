package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// SnapshotSchema creates the table used by PostgresSnapshotStore.
const SnapshotSchema = `CREATE TABLE IF NOT EXISTS learning_snapshots (
	enrollment_id TEXT PRIMARY KEY,
	course_name   TEXT NOT NULL DEFAULT '',
	data          JSONB NOT NULL,
	saved_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresSnapshotStore is a PostgreSQL-backed SnapshotStore implementation.
type PostgresSnapshotStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSnapshotStore creates a snapshot store on pool.
func NewPostgresSnapshotStore(pool *pgxpool.Pool) (*PostgresSnapshotStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresSnapshotStore{pool: pool}, nil
}

// EnsureSchema creates the snapshot table if it does not exist.
func (s *PostgresSnapshotStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, SnapshotSchema); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

func (s *PostgresSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.EnrollmentID == "" {
		return fmt.Errorf("enrollment_id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
		snap.SavedAt = savedAt
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO learning_snapshots (enrollment_id, course_name, data, saved_at)
		 VALUES ($1, $2, $3::jsonb, $4)
		 ON CONFLICT (enrollment_id) DO UPDATE
		 SET course_name = EXCLUDED.course_name,
		     data = EXCLUDED.data,
		     saved_at = EXCLUDED.saved_at
		 WHERE learning_snapshots.saved_at <= EXCLUDED.saved_at`,
		snap.EnrollmentID,
		snap.CourseName,
		string(data),
		savedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresSnapshotStore) Load(ctx context.Context, enrollmentID string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM learning_snapshots WHERE enrollment_id = $1`,
		enrollmentID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, enrollmentID)
		}
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (s *PostgresSnapshotStore) Delete(ctx context.Context, enrollmentID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx,
		`DELETE FROM learning_snapshots WHERE enrollment_id = $1`,
		enrollmentID,
	); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
