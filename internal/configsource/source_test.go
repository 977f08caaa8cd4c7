package configsource

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/quantflow/stratd/internal/domain"
)

func newTestSource(families ...domain.EngineFamily) *Source {
	set := make(map[domain.EngineFamily]bool, len(families))
	for _, f := range families {
		set[f] = true
	}
	return &Source{log: zerolog.Nop(), families: set}
}

func TestSource_ShouldSkip_MissingFields(t *testing.T) {
	s := newTestSource(domain.EngineVnpy)

	skip, _ := s.shouldSkip(domain.StrategyConfig{StrategyKey: "turtle", Engine: domain.EngineVnpy})
	assert.True(t, skip, "missing symbol must be skipped")

	skip, _ = s.shouldSkip(domain.StrategyConfig{Symbol: "600000.SH", Engine: domain.EngineVnpy})
	assert.True(t, skip, "missing strategy_key must be skipped")
}

func TestSource_ShouldSkip_DisabledFamily(t *testing.T) {
	s := newTestSource(domain.EngineVnpy)

	skip, _ := s.shouldSkip(domain.StrategyConfig{
		Symbol:      "600000.SH",
		StrategyKey: "turtle",
		Engine:      domain.EngineBacktrader,
	})
	assert.True(t, skip)

	skip, _ = s.shouldSkip(domain.StrategyConfig{
		Symbol:      "600000.SH",
		StrategyKey: "turtle",
		Engine:      domain.EngineVnpy,
	})
	assert.False(t, skip)
}

func TestSource_ShouldSkip_NoFamilyGate(t *testing.T) {
	// An empty gate set accepts every family; the orchestrator still skips
	// keys whose family has no registered factory.
	s := newTestSource()

	skip, _ := s.shouldSkip(domain.StrategyConfig{
		Symbol:      "600000.SH",
		StrategyKey: "turtle",
		Engine:      domain.EngineFamily("madeup"),
	})
	assert.False(t, skip)
}
