// Package registry maps user-facing strategy keys to engine constructors.
// The mapping is compiled in: configs name strategies by key and never by
// implementation path, so the database stays free of code-level detail.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/quantflow/stratd/internal/domain"
	"github.com/quantflow/stratd/internal/engine"
)

var (
	ErrUnknownEngine   = errors.New("unknown engine family")
	ErrUnknownStrategy = errors.New("unknown strategy key")
)

// Constructor builds a strategy engine for one instrument.
type Constructor func(spec engine.Spec) (engine.Engine, error)

// strategies is shared by both families: the backtest family runs the same
// logic with backtest-tagged engine names.
var strategies = map[string]Constructor{
	"hidden_dragon": engine.NewHiddenDragon,
	"turtle":        engine.NewTurtle,
	"single_yang":   engine.NewSingleYang,
	"grid":          engine.NewGrid,
}

var families = map[domain.EngineFamily]map[string]Constructor{
	domain.EngineVnpy:       strategies,
	domain.EngineBacktrader: strategies,
}

// Lookup resolves a constructor for an engine family and strategy key.
func Lookup(family domain.EngineFamily, strategyKey string) (Constructor, error) {
	set, ok := families[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, family)
	}
	ctor, ok := set[strategyKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyKey)
	}
	return ctor, nil
}

// Resolve builds an engine from a strategy config. engine_class, when set,
// overrides the strategy key as the constructor name; it exists for configs
// written before keys became the only lookup.
func Resolve(cfg domain.StrategyConfig, spec engine.Spec) (engine.Engine, error) {
	name := cfg.StrategyKey
	if cfg.EngineClass != "" {
		name = cfg.EngineClass
	}
	ctor, err := Lookup(cfg.Engine, name)
	if err != nil {
		return nil, err
	}
	spec.Backtest = cfg.Engine == domain.EngineBacktrader
	return ctor(spec)
}

// IsValidStrategy reports whether a key resolves for the family.
func IsValidStrategy(family domain.EngineFamily, strategyKey string) bool {
	_, err := Lookup(family, strategyKey)
	return err == nil
}

// Strategies lists the registered keys for a family, sorted.
func Strategies(family domain.EngineFamily) []string {
	set, ok := families[family]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Families lists the known engine families, sorted.
func Families() []domain.EngineFamily {
	out := make([]domain.EngineFamily, 0, len(families))
	for f := range families {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
