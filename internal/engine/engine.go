// Package engine contains the built-in strategy engines and the market data
// feed they poll. An engine processes one instrument bar by bar; everything
// around it (threads, persistence, log routing) is the adapter's job.
package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quantflow/stratd/internal/domain"
)

// Engine is one strategy computation for one instrument. Implementations
// must be safe for Stats and SaveState to be called while OnBar runs.
type Engine interface {
	// Name identifies the engine, e.g. "turtle" or "turtle-backtest".
	Name() string

	// Warmup seeds indicator history from past bars without trading.
	Warmup(bars []Bar) error

	// OnBar processes one live bar and updates positions.
	OnBar(bar Bar) error

	// SaveState encodes the engine's trading state for persistence.
	SaveState() ([]byte, error)

	// LoadState restores a previously saved trading state.
	LoadState(data []byte) error

	// Stats returns a point-in-time snapshot of the engine's counters.
	Stats() Stats
}

// Stats is the engine-level slice of a worker stats snapshot.
type Stats struct {
	BarsProcessed int64
	Position      float64
	EntryPrice    float64
	Extras        map[string]interface{}
}

// Spec carries everything an engine constructor needs.
type Spec struct {
	Symbol  string
	Options map[string]interface{}
	Account domain.AccountInfo

	// Backtest marks engines built for the backtest family; they run the
	// same logic but carry a distinct name so their logs and stats are
	// never confused with live ones.
	Backtest bool

	Log zerolog.Logger
}

func (s Spec) engineName(strategy string) string {
	if s.Backtest {
		return strategy + "-backtest"
	}
	return strategy
}

func (s Spec) validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("engine spec needs a symbol")
	}
	return nil
}

// floatOption reads a numeric strategy parameter, tolerating the integer
// types document stores hand back.
func floatOption(opts map[string]interface{}, key string, def float64) float64 {
	if opts == nil {
		return def
	}
	switch v := opts[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func intOption(opts map[string]interface{}, key string, def int) int {
	if opts == nil {
		return def
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	}
	return def
}

// series is a bounded OHLCV history shared by the engines. Oldest bars are
// discarded once cap is reached; every indicator here needs far less than
// the default window.
type series struct {
	limit  int
	high   []float64
	low    []float64
	close  []float64
	volume []float64
}

const defaultSeriesLimit = 250

func newSeries(limit int) *series {
	if limit <= 0 {
		limit = defaultSeriesLimit
	}
	return &series{limit: limit}
}

func (s *series) push(b Bar) {
	s.high = append(s.high, b.High)
	s.low = append(s.low, b.Low)
	s.close = append(s.close, b.Close)
	s.volume = append(s.volume, b.Volume)
	if len(s.close) > s.limit {
		s.high = s.high[1:]
		s.low = s.low[1:]
		s.close = s.close[1:]
		s.volume = s.volume[1:]
	}
}

func (s *series) len() int { return len(s.close) }

// highestIn returns the maximum high over the window ending just before the
// latest bar. Returns false when not enough history exists.
func (s *series) highestIn(window int) (float64, bool) {
	n := len(s.high)
	if window <= 0 || n < window+1 {
		return 0, false
	}
	max := s.high[n-1-window]
	for _, v := range s.high[n-1-window : n-1] {
		if v > max {
			max = v
		}
	}
	return max, true
}

// lowestIn mirrors highestIn over the lows.
func (s *series) lowestIn(window int) (float64, bool) {
	n := len(s.low)
	if window <= 0 || n < window+1 {
		return 0, false
	}
	min := s.low[n-1-window]
	for _, v := range s.low[n-1-window : n-1] {
		if v < min {
			min = v
		}
	}
	return min, true
}

// lastValid returns the most recent usable value of a talib output slice.
// go-talib leaves the warmup prefix at zero and can produce NaN on bad
// input, so both are skipped.
func lastValid(values []float64) (float64, bool) {
	for i := len(values) - 1; i >= 0; i-- {
		v := values[i]
		if v == v && v != 0 {
			return v, true
		}
	}
	return 0, false
}
