package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
)

// SessionRecord is one persisted capture session.
type SessionRecord struct {
	ID            string
	Badge         string
	GuardName     string
	State         string
	DroppedFrames uint64
	Error         string
	StartedAt     time.Time
	FinishedAt    *time.Time
	Artifacts     []liveness.CapturedImage
}

// SessionRepository provides PostgreSQL-backed capture session storage.
type SessionRepository struct {
	pool *Pool
}

// NewSessionRepository creates a new PostgreSQL session repository.
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Save upserts a session row. Artifacts are stored separately through
// SaveArtifacts once the session completes.
func (r *SessionRepository) Save(ctx context.Context, rec SessionRecord) error {
	query := `
		INSERT INTO capture_sessions (id, badge, guard_name, state, dropped_frames, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			dropped_frames = EXCLUDED.dropped_frames,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.Badge, rec.GuardName, rec.State,
		rec.DroppedFrames, rec.Error, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("save capture session: %w", err)
	}
	return nil
}

// SaveArtifacts records the captured stills of a completed session.
func (r *SessionRepository) SaveArtifacts(ctx context.Context, sessionID string, artifacts []liveness.CapturedImage) error {
	if len(artifacts) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO capture_artifacts (session_id, sequence_index, step_tag, handle, captured_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, sequence_index) DO NOTHING
	`
	for _, img := range artifacts {
		if _, err := tx.ExecContext(ctx, query, sessionID, img.SequenceIndex, img.StepTag, img.Handle, img.CapturedAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("save artifact %d of session %s: %w", img.SequenceIndex, sessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit artifacts of session %s: %w", sessionID, err)
	}
	return nil
}

// Get retrieves a session with its artifacts. Returns nil when not found.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*SessionRecord, error) {
	query := `
		SELECT id, badge, guard_name, state, dropped_frames, error, started_at, finished_at
		FROM capture_sessions
		WHERE id = $1
	`

	var rec SessionRecord
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&rec.ID, &rec.Badge, &rec.GuardName, &rec.State,
		&rec.DroppedFrames, &rec.Error, &rec.StartedAt, &rec.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get capture session: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT sequence_index, step_tag, handle, captured_at
		FROM capture_artifacts
		WHERE session_id = $1
		ORDER BY sequence_index
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var img liveness.CapturedImage
		if err := rows.Scan(&img.SequenceIndex, &img.StepTag, &img.Handle, &img.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		rec.Artifacts = append(rec.Artifacts, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}

	return &rec, nil
}

// ListAttendance returns completed sessions in the given window, newest first.
// A completed session is the attendance proof for the badge it carries.
func (r *SessionRepository) ListAttendance(ctx context.Context, from, to time.Time) ([]SessionRecord, error) {
	query := `
		SELECT id, badge, guard_name, state, dropped_frames, error, started_at, finished_at
		FROM capture_sessions
		WHERE state = 'completed' AND started_at >= $1 AND started_at < $2
		ORDER BY started_at DESC
	`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(
			&rec.ID, &rec.Badge, &rec.GuardName, &rec.State,
			&rec.DroppedFrames, &rec.Error, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan capture session: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate capture sessions: %w", err)
	}
	return records, nil
}
