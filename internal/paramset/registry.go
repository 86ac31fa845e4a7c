// Package paramset resolves estimator parameter sets by version or by
// technique name, backed by storage with a short TTL cache and a
// compiled-in default so a storage hiccup never blocks ingestion.
package paramset

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/serena-health/breath-engine/internal/model"
)

// Store is the storage-facing dependency the registry refreshes from.
type Store interface {
	ParamSets(ctx context.Context) (map[string]model.ParameterSet, error)
	Technique(ctx context.Context, name string) (model.Technique, bool, error)
}

// Registry caches the full parameter-set table for cacheTTL, resolving by
// explicit version or by technique name.
type Registry struct {
	mu sync.Mutex

	store    Store
	cacheTTL time.Duration
	now      func() time.Time
	log      zerolog.Logger

	cachedAt       time.Time
	paramSets      map[string]model.ParameterSet
	defaultVersion string
}

// NewRegistry builds a Registry with the original's 60s cache TTL.
func NewRegistry(store Store, log zerolog.Logger) *Registry {
	return &Registry{
		store:    store,
		cacheTTL: 60 * time.Second,
		now:      time.Now,
		log:      log.With().Str("component", "paramset").Logger(),
	}
}

func (r *Registry) refreshLocked(ctx context.Context) {
	now := r.now()
	if r.paramSets != nil && now.Sub(r.cachedAt) < r.cacheTTL {
		return
	}

	sets, err := r.store.ParamSets(ctx)
	if err != nil || len(sets) == 0 {
		if err != nil {
			r.log.Warn().Err(err).Msg("parameter set load failed, falling back to compiled-in default")
		}
		sets = map[string]model.ParameterSet{model.DefaultParamVersion: model.DefaultParameterSet()}
	}
	r.paramSets = sets
	r.cachedAt = now
	r.defaultVersion = pickDefaultVersion(sets)
}

// pickDefaultVersion honors a store-marked is_default set first (multiple
// marked defaults resolve to the lexicographically smallest version name, so
// the choice stays deterministic); falls back to the compiled-in default
// version name, then — since Go maps have no defined iteration order, unlike
// the Python dict this registry mirrors, which falls back to its first
// inserted key — to the lexicographically smallest version of all.
func pickDefaultVersion(sets map[string]model.ParameterSet) string {
	marked := ""
	for k, ps := range sets {
		if ps.IsDefault && (marked == "" || k < marked) {
			marked = k
		}
	}
	if marked != "" {
		return marked
	}

	if _, ok := sets[model.DefaultParamVersion]; ok {
		return model.DefaultParamVersion
	}

	first := ""
	for k := range sets {
		if first == "" || k < first {
			first = k
		}
	}
	return first
}

// Resolve returns the parameter set for version, or the registry default if
// version is empty or unknown.
func (r *Registry) Resolve(ctx context.Context, version string) model.ParameterSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshLocked(ctx)

	if version != "" {
		if ps, ok := r.paramSets[version]; ok {
			return ps
		}
		r.log.Warn().Str("version", version).Msg("unknown parameter version, using default")
	}
	if ps, ok := r.paramSets[r.defaultVersion]; ok {
		return ps
	}
	return model.DefaultParameterSet()
}

// DefaultVersion returns the registry's current default version name.
func (r *Registry) DefaultVersion(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshLocked(ctx)
	return r.defaultVersion
}

// ResolveByTechnique looks up the named technique's param_version and
// resolves it, falling back to the registry default if the technique is
// unknown or names no version.
func (r *Registry) ResolveByTechnique(ctx context.Context, name string) (model.ParameterSet, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshLocked(ctx)

	if name == "" {
		return r.paramSets[r.defaultVersion], r.defaultVersion
	}
	tech, ok, err := r.store.Technique(ctx, name)
	if err != nil {
		r.log.Warn().Err(err).Str("technique", name).Msg("technique lookup failed, using default parameters")
	}
	if err != nil || !ok {
		return r.paramSets[r.defaultVersion], r.defaultVersion
	}
	version := tech.ParamVersion
	if version == "" {
		version = r.defaultVersion
	}
	if ps, ok := r.paramSets[version]; ok {
		return ps, version
	}
	r.log.Warn().Str("technique", name).Str("version", version).Msg("technique names an unknown parameter version, using default")
	return r.paramSets[r.defaultVersion], r.defaultVersion
}
