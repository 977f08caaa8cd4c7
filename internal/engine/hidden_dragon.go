package engine

import (
	"fmt"
	"sync"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// HiddenDragon looks for a "boom day" (a strong advance on unusually heavy
// volume), then waits through a shallow pullback that must hold above the
// boom day's low. The first up-close after enough pullback days triggers an
// entry; breaking the boom low at any point abandons the setup.
type HiddenDragon struct {
	name   string
	symbol string
	log    zerolog.Logger

	boomPct         float64
	volumeRatio     float64
	volumeWindow    int
	minCallbackDays int
	maxCallbackDays int
	stopLossPct     float64
	takeProfitPct   float64
	size            float64

	mu           sync.Mutex
	bars         *series
	processed    int64
	pos          float64
	entry        float64
	boomDay      int64
	boomLow      float64
	boomClose    float64
	callbackDays int
}

func NewHiddenDragon(spec Spec) (Engine, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	h := &HiddenDragon{
		name:            spec.engineName("hidden_dragon"),
		symbol:          spec.Symbol,
		log:             spec.Log,
		boomPct:         floatOption(spec.Options, "boom_pct", 0.09),
		volumeRatio:     floatOption(spec.Options, "volume_ratio", 2.0),
		volumeWindow:    intOption(spec.Options, "volume_window", 20),
		minCallbackDays: intOption(spec.Options, "min_callback_days", 2),
		maxCallbackDays: intOption(spec.Options, "max_callback_days", 5),
		stopLossPct:     floatOption(spec.Options, "stop_loss_pct", 0.05),
		takeProfitPct:   floatOption(spec.Options, "take_profit_pct", 0.15),
		size:            floatOption(spec.Options, "size", 100),
		bars:            newSeries(0),
		boomDay:         -1,
		callbackDays:    -1,
	}
	if h.boomPct <= 0 {
		return nil, fmt.Errorf("hidden_dragon boom_pct must be positive")
	}
	return h, nil
}

func (h *HiddenDragon) Name() string { return h.name }

func (h *HiddenDragon) Warmup(bars []Bar) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range bars {
		h.bars.push(b)
	}
	return nil
}

func (h *HiddenDragon) OnBar(bar Bar) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.bars.len()
	var prevClose float64
	if n > 0 {
		prevClose = h.bars.close[n-1]
	}
	h.bars.push(bar)
	h.processed++

	if h.pos > 0 {
		h.manageOpenPosition(bar)
		return nil
	}

	if h.boomDay < 0 {
		h.detectBoom(bar, prevClose)
		return nil
	}

	// Setup armed: the boom low is the line in the sand.
	if bar.Low < h.boomLow {
		h.log.Info().Msgf("hidden_dragon setup for %s broken at %.2f (boom low %.2f)", h.symbol, bar.Low, h.boomLow)
		h.resetSetup()
		return nil
	}

	if bar.Close < h.boomClose {
		h.callbackDays++
	}

	if h.callbackDays > h.maxCallbackDays {
		h.log.Info().Msgf("hidden_dragon setup for %s expired after %d pullback days", h.symbol, h.callbackDays)
		h.resetSetup()
		return nil
	}

	if h.callbackDays >= h.minCallbackDays && prevClose > 0 && bar.Close > prevClose {
		h.pos = h.size
		h.entry = bar.Close
		h.log.Info().Msgf("hidden_dragon entry for %s at %.2f after %d pullback days", h.symbol, bar.Close, h.callbackDays)
	}
	return nil
}

func (h *HiddenDragon) detectBoom(bar Bar, prevClose float64) {
	if prevClose <= 0 {
		return
	}
	gain := (bar.Close - prevClose) / prevClose
	if gain < h.boomPct {
		return
	}
	avgVol, ok := lastValid(talib.Sma(h.bars.volume, h.volumeWindow))
	if !ok || bar.Volume < h.volumeRatio*avgVol {
		return
	}

	h.boomDay = h.processed
	h.boomLow = bar.Low
	h.boomClose = bar.Close
	h.callbackDays = 0
	h.log.Info().Msgf("hidden_dragon boom day for %s: +%.1f%% on %.0f volume", h.symbol, gain*100, bar.Volume)
}

func (h *HiddenDragon) manageOpenPosition(bar Bar) {
	price := bar.Close
	switch {
	case price <= h.entry*(1-h.stopLossPct), bar.Low < h.boomLow:
		h.log.Info().Msgf("hidden_dragon stop for %s at %.2f (entry %.2f)", h.symbol, price, h.entry)
		h.pos = 0
		h.entry = 0
		h.resetSetup()
	case price >= h.entry*(1+h.takeProfitPct):
		h.log.Info().Msgf("hidden_dragon take profit for %s at %.2f (entry %.2f)", h.symbol, price, h.entry)
		h.pos = 0
		h.entry = 0
		h.resetSetup()
	}
}

func (h *HiddenDragon) resetSetup() {
	h.boomDay = -1
	h.boomLow = 0
	h.boomClose = 0
	h.callbackDays = -1
}

type hiddenDragonState struct {
	Position     float64 `msgpack:"position"`
	EntryPrice   float64 `msgpack:"entry_price"`
	Bars         int64   `msgpack:"bars_processed"`
	BoomDay      int64   `msgpack:"boom_day"`
	BoomLow      float64 `msgpack:"boom_low"`
	BoomClose    float64 `msgpack:"boom_close"`
	CallbackDays int     `msgpack:"callback_days"`
}

func (h *HiddenDragon) SaveState() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return msgpack.Marshal(&hiddenDragonState{
		Position:     h.pos,
		EntryPrice:   h.entry,
		Bars:         h.processed,
		BoomDay:      h.boomDay,
		BoomLow:      h.boomLow,
		BoomClose:    h.boomClose,
		CallbackDays: h.callbackDays,
	})
}

func (h *HiddenDragon) LoadState(data []byte) error {
	var st hiddenDragonState
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode hidden_dragon state: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = st.Position
	h.entry = st.EntryPrice
	h.processed = st.Bars
	h.boomDay = st.BoomDay
	h.boomLow = st.BoomLow
	h.boomClose = st.BoomClose
	h.callbackDays = st.CallbackDays
	return nil
}

func (h *HiddenDragon) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		BarsProcessed: h.processed,
		Position:      h.pos,
		EntryPrice:    h.entry,
		Extras: map[string]interface{}{
			"boom_day":      h.boomDay,
			"callback_days": h.callbackDays,
		},
	}
}
