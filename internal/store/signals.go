package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/serena-health/breath-engine/internal/model"
)

// InsertSignalRecords batch-inserts derived/raw signal records, used as the
// flush function for the pipeline's Batcher[model.SignalRecord].
func (s *Store) InsertSignalRecords(ctx context.Context, recs []model.SignalRecord) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range recs {
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}
		sessionID := any(nil)
		if r.SessionID != "" {
			sessionID = r.SessionID
		}
		batch.Queue(`
			INSERT INTO signal_records (device_id, session_id, signal, ts, payload)
			VALUES ($1, $2, $3, $4, $5)
		`, r.DeviceID, sessionID, string(r.Signal), r.TS, payload)
	}

	br := s.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range recs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// RecentSignals returns the most recent records for a device, optionally
// filtered to one signal type, newest first, backing
// GET /api/v1/signals/recent.
func (s *Store) RecentSignals(ctx context.Context, deviceID string, signal model.SignalType, limit int) ([]model.SignalRecord, error) {
	var rows pgx.Rows
	var err error
	if signal != "" {
		rows, err = s.db.Pool.Query(ctx, `
			SELECT payload FROM signal_records
			WHERE device_id = $1 AND signal = $2
			ORDER BY ts DESC LIMIT $3
		`, deviceID, string(signal), limit)
	} else {
		rows, err = s.db.Pool.Query(ctx, `
			SELECT payload FROM signal_records
			WHERE device_id = $1
			ORDER BY ts DESC LIMIT $2
		`, deviceID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SignalRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec model.SignalRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
