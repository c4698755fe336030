package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"moodcam/internal/pipeline"
)

// PostgresStore keeps session history in PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and ensures the schema exists
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// initSchema creates the sessions table if it does not exist
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			stopped_at TIMESTAMPTZ NOT NULL,
			results INT NOT NULL DEFAULT 0,
			faces INT NOT NULL DEFAULT 0,
			failures INT NOT NULL DEFAULT 0,
			counts JSONB,
			dominant_emotion TEXT,
			last_error TEXT
		);
		CREATE INDEX IF NOT EXISTS sessions_camera_started_idx ON sessions (camera_id, started_at DESC);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close closes the pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// SaveSession implements pipeline.HistoryStore
func (s *PostgresStore) SaveSession(ctx context.Context, rec *pipeline.SessionRecord) error {
	counts, err := json.Marshal(rec.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions
			(id, camera_id, started_at, stopped_at, results, faces, failures, counts, dominant_emotion, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			stopped_at = EXCLUDED.stopped_at,
			results = EXCLUDED.results,
			faces = EXCLUDED.faces,
			failures = EXCLUDED.failures,
			counts = EXCLUDED.counts,
			dominant_emotion = EXCLUDED.dominant_emotion,
			last_error = EXCLUDED.last_error
	`, rec.ID, rec.CameraID, rec.StartedAt, rec.StoppedAt, rec.Results, rec.Faces, rec.Failures,
		counts, string(rec.Dominant), rec.LastError)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// ListSessions implements pipeline.HistoryStore. Newest first; empty cameraID lists all.
func (s *PostgresStore) ListSessions(ctx context.Context, cameraID string, limit int) ([]*pipeline.SessionRecord, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, camera_id, started_at, stopped_at, results, faces, failures,
		counts, dominant_emotion, last_error FROM sessions`)
	args := []any{}

	if cameraID != "" {
		args = append(args, cameraID)
		fmt.Fprintf(&sb, " WHERE camera_id = $%d", len(args))
	}
	sb.WriteString(" ORDER BY started_at DESC")
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*pipeline.SessionRecord, error) {
		var rec pipeline.SessionRecord
		var counts []byte
		var dominant, lastError *string

		if err := row.Scan(&rec.ID, &rec.CameraID, &rec.StartedAt, &rec.StoppedAt, &rec.Results,
			&rec.Faces, &rec.Failures, &counts, &dominant, &lastError); err != nil {
			return nil, err
		}
		if dominant != nil {
			rec.Dominant = pipeline.Emotion(*dominant)
		}
		if lastError != nil {
			rec.LastError = *lastError
		}
		if len(counts) > 0 {
			if err := json.Unmarshal(counts, &rec.Counts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal counts: %w", err)
			}
		}
		return &rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return sessions, nil
}

var _ pipeline.HistoryStore = (*PostgresStore)(nil)
