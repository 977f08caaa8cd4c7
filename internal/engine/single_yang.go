package engine

import (
	"fmt"
	"sync"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// SingleYang watches for one strong bullish candle (the anchor) whose low is
// then left unbroken. Holding above the anchor low for the confirmation
// period, with momentum still positive, triggers an entry; any close back
// under the anchor low exits and clears the setup.
type SingleYang struct {
	name   string
	symbol string
	log    zerolog.Logger

	yangPct       float64
	confirmDays   int
	maxWaitDays   int
	rsiWindow     int
	rsiFloor      float64
	takeProfitPct float64
	size          float64

	mu           sync.Mutex
	bars         *series
	processed    int64
	pos          float64
	entry        float64
	anchorDay    int64
	anchorLow    float64
	unbrokenDays int
	lastRSI      float64
}

func NewSingleYang(spec Spec) (Engine, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	y := &SingleYang{
		name:          spec.engineName("single_yang"),
		symbol:        spec.Symbol,
		log:           spec.Log,
		yangPct:       floatOption(spec.Options, "yang_pct", 0.05),
		confirmDays:   intOption(spec.Options, "confirm_days", 3),
		maxWaitDays:   intOption(spec.Options, "max_wait_days", 8),
		rsiWindow:     intOption(spec.Options, "rsi_window", 14),
		rsiFloor:      floatOption(spec.Options, "rsi_floor", 50),
		takeProfitPct: floatOption(spec.Options, "take_profit_pct", 0.12),
		size:          floatOption(spec.Options, "size", 100),
		bars:          newSeries(0),
		anchorDay:     -1,
	}
	if y.yangPct <= 0 || y.confirmDays <= 0 {
		return nil, fmt.Errorf("single_yang yang_pct and confirm_days must be positive")
	}
	return y, nil
}

func (y *SingleYang) Name() string { return y.name }

func (y *SingleYang) Warmup(bars []Bar) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	for _, b := range bars {
		y.bars.push(b)
	}
	return nil
}

func (y *SingleYang) OnBar(bar Bar) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	y.bars.push(bar)
	y.processed++

	if rsi, ok := lastValid(talib.Rsi(y.bars.close, y.rsiWindow)); ok {
		y.lastRSI = rsi
	}

	if y.pos > 0 {
		switch {
		case bar.Close < y.anchorLow:
			y.log.Info().Msgf("single_yang anchor broken for %s at %.2f (anchor low %.2f)", y.symbol, bar.Close, y.anchorLow)
			y.pos = 0
			y.entry = 0
			y.clearAnchor()
		case bar.Close >= y.entry*(1+y.takeProfitPct):
			y.log.Info().Msgf("single_yang take profit for %s at %.2f (entry %.2f)", y.symbol, bar.Close, y.entry)
			y.pos = 0
			y.entry = 0
			y.clearAnchor()
		}
		return nil
	}

	if y.anchorDay < 0 {
		if bar.Open > 0 && (bar.Close-bar.Open)/bar.Open >= y.yangPct {
			y.anchorDay = y.processed
			y.anchorLow = bar.Low
			y.unbrokenDays = 0
			y.log.Info().Msgf("single_yang anchor candle for %s: low %.2f", y.symbol, bar.Low)
		}
		return nil
	}

	if bar.Low < y.anchorLow {
		y.log.Info().Msgf("single_yang anchor low broken for %s before entry", y.symbol)
		y.clearAnchor()
		return nil
	}

	y.unbrokenDays++
	if y.unbrokenDays > y.maxWaitDays {
		y.log.Info().Msgf("single_yang setup for %s expired after %d days", y.symbol, y.unbrokenDays)
		y.clearAnchor()
		return nil
	}

	if y.unbrokenDays >= y.confirmDays && y.lastRSI >= y.rsiFloor {
		y.pos = y.size
		y.entry = bar.Close
		y.log.Info().Msgf("single_yang entry for %s at %.2f after %d unbroken days", y.symbol, bar.Close, y.unbrokenDays)
	}
	return nil
}

func (y *SingleYang) clearAnchor() {
	y.anchorDay = -1
	y.anchorLow = 0
	y.unbrokenDays = 0
}

type singleYangState struct {
	Position     float64 `msgpack:"position"`
	EntryPrice   float64 `msgpack:"entry_price"`
	Bars         int64   `msgpack:"bars_processed"`
	AnchorDay    int64   `msgpack:"anchor_day"`
	AnchorLow    float64 `msgpack:"anchor_low"`
	UnbrokenDays int     `msgpack:"unbroken_days"`
}

func (y *SingleYang) SaveState() ([]byte, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	return msgpack.Marshal(&singleYangState{
		Position:     y.pos,
		EntryPrice:   y.entry,
		Bars:         y.processed,
		AnchorDay:    y.anchorDay,
		AnchorLow:    y.anchorLow,
		UnbrokenDays: y.unbrokenDays,
	})
}

func (y *SingleYang) LoadState(data []byte) error {
	var st singleYangState
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode single_yang state: %w", err)
	}
	y.mu.Lock()
	defer y.mu.Unlock()
	y.pos = st.Position
	y.entry = st.EntryPrice
	y.processed = st.Bars
	y.anchorDay = st.AnchorDay
	y.anchorLow = st.AnchorLow
	y.unbrokenDays = st.UnbrokenDays
	return nil
}

func (y *SingleYang) Stats() Stats {
	y.mu.Lock()
	defer y.mu.Unlock()
	return Stats{
		BarsProcessed: y.processed,
		Position:      y.pos,
		EntryPrice:    y.entry,
		Extras: map[string]interface{}{
			"anchor_day":    y.anchorDay,
			"unbroken_days": y.unbrokenDays,
			"rsi":           y.lastRSI,
		},
	}
}
