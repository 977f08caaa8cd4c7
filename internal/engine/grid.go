package engine

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/stat"
)

// Grid ladders buys below a base price and sells above it, one unit per
// grid level crossed. The base recentres on the rolling mean once price
// drifts further than a few standard deviations, so a trending market does
// not pin the grid at one edge forever.
type Grid struct {
	name   string
	symbol string
	log    zerolog.Logger

	stepPct        float64
	levels         int
	unit           float64
	recenterWindow int
	recenterBand   float64

	mu        sync.Mutex
	bars      *series
	processed int64
	pos       float64
	entry     float64
	base      float64
	lastLevel int
	trades    int64
}

func NewGrid(spec Spec) (Engine, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	g := &Grid{
		name:           spec.engineName("grid"),
		symbol:         spec.Symbol,
		log:            spec.Log,
		stepPct:        floatOption(spec.Options, "grid_step_pct", 0.02),
		levels:         intOption(spec.Options, "grid_levels", 5),
		unit:           floatOption(spec.Options, "unit", 100),
		recenterWindow: intOption(spec.Options, "recenter_window", 30),
		recenterBand:   floatOption(spec.Options, "recenter_band", 3),
		bars:           newSeries(0),
	}
	if g.stepPct <= 0 || g.levels <= 0 {
		return nil, fmt.Errorf("grid step and levels must be positive")
	}
	return g, nil
}

func (g *Grid) Name() string { return g.name }

// Warmup seeds history and centres the grid on the recent mean close.
func (g *Grid) Warmup(bars []Bar) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range bars {
		g.bars.push(b)
	}
	if tail := g.tailCloses(); len(tail) > 0 {
		g.base = stat.Mean(tail, nil)
	}
	return nil
}

func (g *Grid) OnBar(bar Bar) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.bars.push(bar)
	g.processed++

	price := bar.Close
	if g.base <= 0 {
		g.base = price
		return nil
	}

	level := g.levelFor(price)
	switch {
	case level > g.lastLevel:
		// Price fell through one or more grid lines.
		units := float64(level-g.lastLevel) * g.unit
		newPos := g.pos + units
		g.entry = (g.entry*g.pos + price*units) / newPos
		g.pos = newPos
		g.trades++
		g.log.Info().Msgf("grid buy for %s at %.2f (level %d, position %.0f)", g.symbol, price, level, g.pos)
	case level < g.lastLevel && g.pos > 0:
		units := math.Min(float64(g.lastLevel-level)*g.unit, g.pos)
		g.pos -= units
		if g.pos == 0 {
			g.entry = 0
		}
		g.trades++
		g.log.Info().Msgf("grid sell for %s at %.2f (level %d, position %.0f)", g.symbol, price, level, g.pos)
	}
	g.lastLevel = level

	g.maybeRecenter(price)
	return nil
}

func (g *Grid) levelFor(price float64) int {
	step := g.base * g.stepPct
	if step <= 0 {
		return 0
	}
	level := int(math.Round((g.base - price) / step))
	if level > g.levels {
		level = g.levels
	}
	if level < -g.levels {
		level = -g.levels
	}
	return level
}

// maybeRecenter moves the base to the rolling mean when price has walked
// outside the recenter band. The current level is recomputed against the
// new base so the move itself does not trade.
func (g *Grid) maybeRecenter(price float64) {
	tail := g.tailCloses()
	if len(tail) < g.recenterWindow {
		return
	}
	mean, std := stat.MeanStdDev(tail, nil)
	if std <= 0 || math.Abs(price-g.base) <= g.recenterBand*std {
		return
	}
	g.base = mean
	g.lastLevel = g.levelFor(price)
	g.log.Info().Msgf("grid recentered for %s at %.2f", g.symbol, g.base)
}

func (g *Grid) tailCloses() []float64 {
	n := len(g.bars.close)
	w := g.recenterWindow
	if w <= 0 || n < w {
		return g.bars.close
	}
	return g.bars.close[n-w:]
}

type gridState struct {
	Position   float64 `msgpack:"position"`
	EntryPrice float64 `msgpack:"entry_price"`
	Bars       int64   `msgpack:"bars_processed"`
	BasePrice  float64 `msgpack:"base_price"`
	LastLevel  int     `msgpack:"last_level"`
	Trades     int64   `msgpack:"trades"`
}

func (g *Grid) SaveState() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return msgpack.Marshal(&gridState{
		Position:   g.pos,
		EntryPrice: g.entry,
		Bars:       g.processed,
		BasePrice:  g.base,
		LastLevel:  g.lastLevel,
		Trades:     g.trades,
	})
}

func (g *Grid) LoadState(data []byte) error {
	var st gridState
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode grid state: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pos = st.Position
	g.entry = st.EntryPrice
	g.processed = st.Bars
	g.base = st.BasePrice
	g.lastLevel = st.LastLevel
	g.trades = st.Trades
	return nil
}

func (g *Grid) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		BarsProcessed: g.processed,
		Position:      g.pos,
		EntryPrice:    g.entry,
		Extras: map[string]interface{}{
			"base_price": g.base,
			"grid_level": g.lastLevel,
			"trades":     g.trades,
		},
	}
}
