package store

import (
	"context"
	"encoding/json"

	"github.com/serena-health/breath-engine/internal/model"
)

// ParamSets returns every stored parameter set, keyed by version — the read
// path the paramset registry's TTL cache refreshes from. is_default is read
// from its promoted column, not the embedded document, so it stays
// authoritative even if a document was written without the field.
func (s *Store) ParamSets(ctx context.Context) (map[string]model.ParameterSet, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT document, is_default FROM parameter_sets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.ParameterSet)
	for rows.Next() {
		var raw []byte
		var isDefault bool
		if err := rows.Scan(&raw, &isDefault); err != nil {
			return nil, err
		}
		var ps model.ParameterSet
		if err := json.Unmarshal(raw, &ps); err != nil {
			return nil, err
		}
		ps.IsDefault = isDefault
		out[ps.Version] = ps
	}
	return out, rows.Err()
}
