package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/serena-health/breath-engine/internal/model"
)

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO sessions (session_id, device_id, started_at, technique, param_version, target_rr, status, last_emitted_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.SessionID, sess.DeviceID, sess.StartedAt, sess.Technique, sess.ParamVersion, sess.TargetRR, sess.Status, sess.LastEmittedTS)
	return err
}

// ActiveSession returns the most recently started active session for a
// device, if any.
func (s *Store) ActiveSession(ctx context.Context, deviceID string) (model.Session, bool, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT session_id, device_id, started_at, ended_at, technique, param_version, target_rr, status, last_emitted_ts
		FROM sessions
		WHERE device_id = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1
	`, deviceID, model.SessionActive)
	return scanSession(row)
}

// GetSession looks up a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (model.Session, bool, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT session_id, device_id, started_at, ended_at, technique, param_version, target_rr, status, last_emitted_ts
		FROM sessions WHERE session_id = $1
	`, sessionID)
	return scanSession(row)
}

func scanSession(row pgx.Row) (model.Session, bool, error) {
	var sess model.Session
	err := row.Scan(&sess.SessionID, &sess.DeviceID, &sess.StartedAt, &sess.EndedAt,
		&sess.Technique, &sess.ParamVersion, &sess.TargetRR, &sess.Status, &sess.LastEmittedTS)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, err
	}
	return sess, true, nil
}

// UpdateSessionTarget updates a session's technique and target RR — called
// when a BreathTarget record changes the exercise mid-session.
func (s *Store) UpdateSessionTarget(ctx context.Context, sessionID, technique string, targetRR float64, paramVersion string) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE sessions SET technique = $2, target_rr = $3, param_version = $4
		WHERE session_id = $1
	`, sessionID, technique, targetRR, paramVersion)
	return err
}

// UpdateLastEmittedTS advances a session's emission watermark.
func (s *Store) UpdateLastEmittedTS(ctx context.Context, sessionID string, ts int64) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE sessions SET last_emitted_ts = $2 WHERE session_id = $1
	`, sessionID, ts)
	return err
}

// EndSession marks a session completed or cancelled.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time, status model.SessionStatus) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE sessions SET ended_at = $2, status = $3 WHERE session_id = $1
	`, sessionID, endedAt, status)
	return err
}
