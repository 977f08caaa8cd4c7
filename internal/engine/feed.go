package engine

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bar is one OHLCV candle for a single instrument.
type Bar struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Feed supplies candles for instruments. History serves warmup; Next blocks
// until the next bar is available or the context is done.
type Feed interface {
	History(ctx context.Context, symbol string, days int) ([]Bar, error)
	Next(ctx context.Context, symbol string) (Bar, error)
}

// SyntheticFeed generates a deterministic random walk per symbol. It exists
// so engines can run and be tested without a market data connection; real
// ingestion is explicitly out of scope.
type SyntheticFeed struct {
	interval time.Duration
	runID    string

	mu     sync.Mutex
	states map[string]*walkState
}

type walkState struct {
	rng   *rand.Rand
	price float64
}

const defaultFeedInterval = time.Second

// NewSyntheticFeed builds a feed emitting one bar per interval per symbol.
func NewSyntheticFeed(interval time.Duration) *SyntheticFeed {
	if interval <= 0 {
		interval = defaultFeedInterval
	}
	return &SyntheticFeed{
		interval: interval,
		runID:    uuid.NewString(),
		states:   make(map[string]*walkState),
	}
}

// RunID identifies this feed instance in logs and stats.
func (f *SyntheticFeed) RunID() string { return f.runID }

// History returns `days` daily bars ending yesterday. The walk is seeded
// from the symbol, so repeated calls and repeated test runs see the same
// prices.
func (f *SyntheticFeed) History(_ context.Context, symbol string, days int) ([]Bar, error) {
	if days <= 0 {
		return nil, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	st := f.stateLocked(symbol)
	bars := make([]Bar, 0, days)
	day := time.Now().AddDate(0, 0, -days).Truncate(24 * time.Hour)
	for i := 0; i < days; i++ {
		bars = append(bars, st.nextBar(symbol, day))
		day = day.AddDate(0, 0, 1)
	}
	return bars, nil
}

// Next emits the next bar of the walk after one interval.
func (f *SyntheticFeed) Next(ctx context.Context, symbol string) (Bar, error) {
	select {
	case <-ctx.Done():
		return Bar{}, ctx.Err()
	case <-time.After(f.interval):
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked(symbol).nextBar(symbol, time.Now()), nil
}

func (f *SyntheticFeed) stateLocked(symbol string) *walkState {
	st, ok := f.states[symbol]
	if !ok {
		seed := fnv.New64a()
		_, _ = seed.Write([]byte(symbol))
		rng := rand.New(rand.NewSource(int64(seed.Sum64())))
		st = &walkState{
			rng:   rng,
			price: 8 + rng.Float64()*92,
		}
		f.states[symbol] = st
	}
	return st
}

// nextBar advances the walk one step. Daily moves stay within roughly ±3%
// with a slight upward drift, and OHLC envelopes the move.
func (s *walkState) nextBar(symbol string, ts time.Time) Bar {
	open := s.price
	change := (s.rng.Float64() - 0.48) * 0.06
	last := open * (1 + change)
	if last < 0.01 {
		last = 0.01
	}

	high := open
	if last > high {
		high = last
	}
	high *= 1 + s.rng.Float64()*0.01
	low := open
	if last < low {
		low = last
	}
	low *= 1 - s.rng.Float64()*0.01

	s.price = last
	return Bar{
		Symbol: symbol,
		Time:   ts,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  last,
		Volume: 1e5 + s.rng.Float64()*9e5,
	}
}
