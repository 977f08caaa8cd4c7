package engine

import (
	"fmt"
	"sync"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Turtle trades Donchian channel breakouts: buy when the close clears the
// highest high of the entry window, exit on the lowest low of the exit
// window or an ATR-multiple stop below entry.
type Turtle struct {
	name   string
	symbol string
	log    zerolog.Logger

	entryWindow int
	exitWindow  int
	atrWindow   int
	size        float64
	stopMult    float64

	mu        sync.Mutex
	bars      *series
	processed int64
	pos       float64
	entry     float64
	lastATR   float64
	upper     float64
	lower     float64
}

func NewTurtle(spec Spec) (Engine, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	t := &Turtle{
		name:        spec.engineName("turtle"),
		symbol:      spec.Symbol,
		log:         spec.Log,
		entryWindow: intOption(spec.Options, "entry_window", 20),
		exitWindow:  intOption(spec.Options, "exit_window", 10),
		atrWindow:   intOption(spec.Options, "atr_window", 14),
		size:        floatOption(spec.Options, "size", 100),
		stopMult:    floatOption(spec.Options, "stop_atr", 2),
		bars:        newSeries(0),
	}
	if t.entryWindow <= 0 || t.exitWindow <= 0 || t.atrWindow <= 0 {
		return nil, fmt.Errorf("turtle windows must be positive")
	}
	return t, nil
}

func (t *Turtle) Name() string { return t.name }

func (t *Turtle) Warmup(bars []Bar) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range bars {
		t.bars.push(b)
	}
	return nil
}

func (t *Turtle) OnBar(bar Bar) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.bars.push(bar)
	t.processed++

	upper, okU := t.bars.highestIn(t.entryWindow)
	lower, okL := t.bars.lowestIn(t.exitWindow)
	if !okU || !okL {
		return nil
	}
	t.upper, t.lower = upper, lower

	if atr, ok := lastValid(talib.Atr(t.bars.high, t.bars.low, t.bars.close, t.atrWindow)); ok {
		t.lastATR = atr
	}

	price := bar.Close
	switch {
	case t.pos == 0 && price > upper:
		t.pos = t.size
		t.entry = price
		t.log.Info().Msgf("turtle entry for %s at %.2f (channel %.2f)", t.symbol, price, upper)
	case t.pos > 0 && price < lower:
		t.log.Info().Msgf("turtle channel exit for %s at %.2f (entry %.2f)", t.symbol, price, t.entry)
		t.pos = 0
		t.entry = 0
	case t.pos > 0 && t.lastATR > 0 && price < t.entry-t.stopMult*t.lastATR:
		t.log.Info().Msgf("turtle stop for %s at %.2f (entry %.2f, atr %.3f)", t.symbol, price, t.entry, t.lastATR)
		t.pos = 0
		t.entry = 0
	}
	return nil
}

type turtleState struct {
	Position   float64 `msgpack:"position"`
	EntryPrice float64 `msgpack:"entry_price"`
	Bars       int64   `msgpack:"bars_processed"`
}

func (t *Turtle) SaveState() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return msgpack.Marshal(&turtleState{
		Position:   t.pos,
		EntryPrice: t.entry,
		Bars:       t.processed,
	})
}

func (t *Turtle) LoadState(data []byte) error {
	var st turtleState
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode turtle state: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos = st.Position
	t.entry = st.EntryPrice
	t.processed = st.Bars
	return nil
}

func (t *Turtle) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		BarsProcessed: t.processed,
		Position:      t.pos,
		EntryPrice:    t.entry,
		Extras: map[string]interface{}{
			"atr":           t.lastATR,
			"entry_channel": t.upper,
			"exit_channel":  t.lower,
		},
	}
}
