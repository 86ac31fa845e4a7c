package store

import (
	"context"
	"encoding/json"

	"github.com/serena-health/breath-engine/internal/model"
)

// FeedbackRules returns the singleton feedback rules document.
func (s *Store) FeedbackRules(ctx context.Context) (model.FeedbackRules, error) {
	row := s.db.Pool.QueryRow(ctx, `SELECT document FROM feedback_rules WHERE id = 1`)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return model.FeedbackRules{}, err
	}
	var rules model.FeedbackRules
	if err := json.Unmarshal(raw, &rules); err != nil {
		return model.FeedbackRules{}, err
	}
	return rules, nil
}
