package paramset

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/serena-health/breath-engine/internal/model"
)

type fakeStore struct {
	sets    map[string]model.ParameterSet
	setsErr error
	techs   map[string]model.Technique
}

func (f *fakeStore) ParamSets(ctx context.Context) (map[string]model.ParameterSet, error) {
	return f.sets, f.setsErr
}

func (f *fakeStore) Technique(ctx context.Context, name string) (model.Technique, bool, error) {
	t, ok := f.techs[name]
	return t, ok, nil
}

func TestResolveFallsBackToDefaultOnStoreError(t *testing.T) {
	store := &fakeStore{setsErr: errors.New("db down")}
	reg := NewRegistry(store, zerolog.Nop())

	ps := reg.Resolve(context.Background(), "")
	if ps.Version != model.DefaultParamVersion {
		t.Fatalf("version = %q, want compiled-in default", ps.Version)
	}
}

func TestResolveUnknownVersionFallsBackToDefault(t *testing.T) {
	store := &fakeStore{sets: map[string]model.ParameterSet{
		model.DefaultParamVersion: model.DefaultParameterSet(),
	}}
	reg := NewRegistry(store, zerolog.Nop())

	ps := reg.Resolve(context.Background(), "does-not-exist")
	if ps.Version != model.DefaultParamVersion {
		t.Fatalf("version = %q, want default fallback", ps.Version)
	}
}

func TestResolveByTechniqueUsesTechniqueParamVersion(t *testing.T) {
	custom := model.DefaultParameterSet()
	custom.Version = "v2_slow"
	custom.BPMMin = 3.0

	store := &fakeStore{
		sets: map[string]model.ParameterSet{
			model.DefaultParamVersion: model.DefaultParameterSet(),
			"v2_slow":                 custom,
		},
		techs: map[string]model.Technique{
			"box-breathing": {Name: "box-breathing", ParamVersion: "v2_slow"},
		},
	}
	reg := NewRegistry(store, zerolog.Nop())

	ps, version := reg.ResolveByTechnique(context.Background(), "box-breathing")
	if version != "v2_slow" || ps.BPMMin != 3.0 {
		t.Fatalf("got (%v, %+v), want v2_slow custom set", version, ps)
	}
}

func TestResolveHonorsStoreMarkedDefaultOverCompiledInName(t *testing.T) {
	unmarked := model.DefaultParameterSet()
	unmarked.IsDefault = false
	marked := model.ParameterSet{Version: "v3_custom_default", IsDefault: true, BPMMin: 5.0}
	store := &fakeStore{sets: map[string]model.ParameterSet{
		model.DefaultParamVersion: unmarked,
		"v3_custom_default":       marked,
	}}
	reg := NewRegistry(store, zerolog.Nop())

	ps := reg.Resolve(context.Background(), "")
	if ps.Version != "v3_custom_default" || ps.BPMMin != 5.0 {
		t.Fatalf("got %+v, want the store-marked default", ps)
	}
}

func TestResolveByTechniqueUnknownNameFallsBackToDefault(t *testing.T) {
	store := &fakeStore{sets: map[string]model.ParameterSet{
		model.DefaultParamVersion: model.DefaultParameterSet(),
	}}
	reg := NewRegistry(store, zerolog.Nop())

	ps, version := reg.ResolveByTechnique(context.Background(), "unknown-technique")
	if version != model.DefaultParamVersion || ps.Version != model.DefaultParamVersion {
		t.Fatalf("got (%v, %+v), want default fallback", version, ps)
	}
}
