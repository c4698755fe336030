package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"moodcam/internal/pipeline"
)

// Database handles SQLite database operations
type Database struct {
	db     *sql.DB
	logger *slog.Logger
}

// CameraRecord represents a camera stored in the database
type CameraRecord struct {
	ID         string
	Name       string
	Device     string
	Resolution string
	FPS        int
	Status     string
	CreatedAt  time.Time
}

// New creates a new database connection
func New(dbPath string, logger *slog.Logger) (*Database, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db, logger: logger.With("component", "database")}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			device TEXT NOT NULL,
			resolution TEXT,
			fps INTEGER DEFAULT 15,
			status TEXT DEFAULT 'idle',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			stopped_at DATETIME NOT NULL,
			results INTEGER DEFAULT 0,
			faces INTEGER DEFAULT 0,
			failures INTEGER DEFAULT 0,
			counts TEXT,
			dominant_emotion TEXT,
			last_error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_camera_time ON sessions(camera_id, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_time ON sessions(started_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	d.logger.Info("database migrations completed")
	return nil
}

// SaveCamera saves or updates a camera
func (d *Database) SaveCamera(cam *CameraRecord) error {
	query := `INSERT INTO cameras (id, name, device, resolution, fps, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			device = excluded.device,
			resolution = excluded.resolution,
			fps = excluded.fps`

	createdAt := cam.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	status := cam.Status
	if status == "" {
		status = string(pipeline.StatusIdle)
	}

	_, err := d.db.Exec(query, cam.ID, cam.Name, cam.Device, cam.Resolution, cam.FPS, status, createdAt)
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

// GetCamera retrieves a camera by ID, nil if it does not exist
func (d *Database) GetCamera(id string) (*CameraRecord, error) {
	query := `SELECT id, name, device, resolution, fps, status, created_at FROM cameras WHERE id = ?`

	var cam CameraRecord
	err := d.db.QueryRow(query, id).Scan(&cam.ID, &cam.Name, &cam.Device, &cam.Resolution, &cam.FPS, &cam.Status, &cam.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return &cam, nil
}

// ListCameras returns all cameras
func (d *Database) ListCameras() ([]*CameraRecord, error) {
	query := `SELECT id, name, device, resolution, fps, status, created_at FROM cameras ORDER BY id`

	rows, err := d.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []*CameraRecord
	for rows.Next() {
		var cam CameraRecord
		if err := rows.Scan(&cam.ID, &cam.Name, &cam.Device, &cam.Resolution, &cam.FPS, &cam.Status, &cam.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, &cam)
	}
	return cameras, rows.Err()
}

// UpdateCameraStatus updates only the status of a camera
func (d *Database) UpdateCameraStatus(id, status string) error {
	_, err := d.db.Exec("UPDATE cameras SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update camera status: %w", err)
	}
	return nil
}

// OnEvent implements pipeline.EventHandler, tracking camera status
func (d *Database) OnEvent(event pipeline.Event) {
	var status pipeline.Status
	switch event.Type {
	case pipeline.EventStarted:
		status = pipeline.StatusRunning
	case pipeline.EventStopped:
		status = pipeline.StatusIdle
	default:
		return
	}
	if err := d.UpdateCameraStatus(event.CameraID, string(status)); err != nil {
		d.logger.Warn("failed to record camera status", "camera", event.CameraID, "error", err)
	}
}

// SaveSession implements pipeline.HistoryStore
func (d *Database) SaveSession(ctx context.Context, s *pipeline.SessionRecord) error {
	countsJSON, err := json.Marshal(s.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}

	query := `INSERT INTO sessions
		(id, camera_id, started_at, stopped_at, results, faces, failures, counts, dominant_emotion, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stopped_at = excluded.stopped_at,
			results = excluded.results,
			faces = excluded.faces,
			failures = excluded.failures,
			counts = excluded.counts,
			dominant_emotion = excluded.dominant_emotion,
			last_error = excluded.last_error`

	_, err = d.db.ExecContext(ctx, query, s.ID, s.CameraID, s.StartedAt.UTC(), s.StoppedAt.UTC(),
		s.Results, s.Faces, s.Failures, string(countsJSON), string(s.Dominant), s.LastError)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// ListSessions implements pipeline.HistoryStore. Newest first; empty cameraID lists all.
func (d *Database) ListSessions(ctx context.Context, cameraID string, limit int) ([]*pipeline.SessionRecord, error) {
	query := `SELECT id, camera_id, started_at, stopped_at, results, faces, failures,
		counts, dominant_emotion, last_error
		FROM sessions WHERE 1=1`
	args := []any{}

	if cameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, cameraID)
	}

	query += " ORDER BY started_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*pipeline.SessionRecord
	for rows.Next() {
		var s pipeline.SessionRecord
		var countsJSON, dominant, lastError sql.NullString

		if err := rows.Scan(&s.ID, &s.CameraID, &s.StartedAt, &s.StoppedAt, &s.Results, &s.Faces,
			&s.Failures, &countsJSON, &dominant, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		s.Dominant = pipeline.Emotion(dominant.String)
		s.LastError = lastError.String
		if countsJSON.String != "" {
			if err := json.Unmarshal([]byte(countsJSON.String), &s.Counts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal counts: %w", err)
			}
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

// DeleteOldSessions deletes sessions that started before the given time
func (d *Database) DeleteOldSessions(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM sessions WHERE started_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	return result.RowsAffected()
}

var (
	_ pipeline.HistoryStore = (*Database)(nil)
	_ pipeline.EventHandler = (*Database)(nil)
)
