package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatBar builds a bar with a narrow range around one price.
func flatBar(price float64) Bar {
	return Bar{
		Open:   price,
		High:   price * 1.01,
		Low:    price * 0.99,
		Close:  price,
		Volume: 1e5,
	}
}

func flatBars(price float64, n int) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = flatBar(price)
	}
	return bars
}

func testSpec(opts map[string]interface{}) Spec {
	return Spec{Symbol: "000001.SZ", Options: opts, Log: zerolog.Nop()}
}

func TestSpecValidateRequiresSymbol(t *testing.T) {
	_, err := NewTurtle(Spec{Log: zerolog.Nop()})
	require.Error(t, err)
}

func TestSpecEngineNameBacktestSuffix(t *testing.T) {
	live, err := NewTurtle(testSpec(nil))
	require.NoError(t, err)
	assert.Equal(t, "turtle", live.Name())

	bt, err := NewTurtle(Spec{Symbol: "000001.SZ", Backtest: true, Log: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, "turtle-backtest", bt.Name())
}

func TestOptionHelpers(t *testing.T) {
	opts := map[string]interface{}{
		"f64": 1.5,
		"i":   3,
		"i32": int32(4),
		"i64": int64(5),
	}

	assert.Equal(t, 1.5, floatOption(opts, "f64", 0))
	assert.Equal(t, 3.0, floatOption(opts, "i", 0))
	assert.Equal(t, 4.0, floatOption(opts, "i32", 0))
	assert.Equal(t, 5.0, floatOption(opts, "i64", 0))
	assert.Equal(t, 9.0, floatOption(opts, "missing", 9))
	assert.Equal(t, 9.0, floatOption(nil, "any", 9))

	assert.Equal(t, 3, intOption(opts, "i", 0))
	assert.Equal(t, 1, intOption(opts, "f64", 0))
	assert.Equal(t, 7, intOption(opts, "missing", 7))
}

func TestSeriesTrimsAtLimit(t *testing.T) {
	s := newSeries(5)
	for i := 0; i < 8; i++ {
		s.push(flatBar(float64(10 + i)))
	}
	require.Equal(t, 5, s.len())
	assert.Equal(t, 13.0, s.close[0])
	assert.Equal(t, 17.0, s.close[4])
}

func TestSeriesChannelWindows(t *testing.T) {
	s := newSeries(0)
	for _, p := range []float64{10, 11, 12, 11, 10, 15} {
		s.push(Bar{High: p + 1, Low: p - 1, Close: p})
	}

	// Windows exclude the most recent bar.
	high, ok := s.highestIn(5)
	require.True(t, ok)
	assert.Equal(t, 13.0, high)

	low, ok := s.lowestIn(5)
	require.True(t, ok)
	assert.Equal(t, 9.0, low)

	_, ok = s.highestIn(10)
	assert.False(t, ok)
}
