package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/serena-health/breath-engine/internal/model"
)

// Technique looks up one named breathing technique document.
func (s *Store) Technique(ctx context.Context, name string) (model.Technique, bool, error) {
	row := s.db.Pool.QueryRow(ctx, `SELECT document FROM techniques WHERE name = $1`, name)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Technique{}, false, nil
		}
		return model.Technique{}, false, err
	}
	var t model.Technique
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Technique{}, false, err
	}
	return t, true, nil
}

// Techniques returns every technique marked show_in_app and is_active, for
// listing in a client's exercise picker. Filtered at the SQL level against
// the promoted columns rather than the embedded document.
func (s *Store) Techniques(ctx context.Context) ([]model.Technique, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT document FROM techniques WHERE show_in_app AND is_active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Technique
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var t model.Technique
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
