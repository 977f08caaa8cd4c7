package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurtleEntersOnBreakout(t *testing.T) {
	eng, err := NewTurtle(testSpec(nil))
	require.NoError(t, err)
	require.NoError(t, eng.Warmup(flatBars(10, 30)))

	require.NoError(t, eng.OnBar(flatBar(12)))

	stats := eng.Stats()
	assert.Equal(t, 100.0, stats.Position)
	assert.Equal(t, 12.0, stats.EntryPrice)
	assert.Equal(t, int64(1), stats.BarsProcessed)
}

func TestTurtleStaysFlatWithoutBreakout(t *testing.T) {
	eng, err := NewTurtle(testSpec(nil))
	require.NoError(t, err)
	require.NoError(t, eng.Warmup(flatBars(10, 30)))

	require.NoError(t, eng.OnBar(flatBar(10.05)))

	assert.Equal(t, 0.0, eng.Stats().Position)
}

func TestTurtleExitsOnChannelBreak(t *testing.T) {
	eng, err := NewTurtle(testSpec(nil))
	require.NoError(t, err)
	require.NoError(t, eng.Warmup(flatBars(10, 30)))
	require.NoError(t, eng.OnBar(flatBar(12)))
	require.Equal(t, 100.0, eng.Stats().Position)

	require.NoError(t, eng.OnBar(flatBar(9)))

	stats := eng.Stats()
	assert.Equal(t, 0.0, stats.Position)
	assert.Equal(t, 0.0, stats.EntryPrice)
}

func TestTurtleNoTradeWithoutHistory(t *testing.T) {
	eng, err := NewTurtle(testSpec(nil))
	require.NoError(t, err)

	require.NoError(t, eng.OnBar(flatBar(100)))

	assert.Equal(t, 0.0, eng.Stats().Position)
}

func TestTurtleStateRoundTrip(t *testing.T) {
	eng, err := NewTurtle(testSpec(nil))
	require.NoError(t, err)
	require.NoError(t, eng.Warmup(flatBars(10, 30)))
	require.NoError(t, eng.OnBar(flatBar(12)))

	data, err := eng.SaveState()
	require.NoError(t, err)

	restored, err := NewTurtle(testSpec(nil))
	require.NoError(t, err)
	require.NoError(t, restored.LoadState(data))

	stats := restored.Stats()
	assert.Equal(t, 100.0, stats.Position)
	assert.Equal(t, 12.0, stats.EntryPrice)
	assert.Equal(t, int64(1), stats.BarsProcessed)
}

func TestTurtleCustomWindows(t *testing.T) {
	eng, err := NewTurtle(testSpec(map[string]interface{}{
		"entry_window": 5,
		"exit_window":  3,
		"size":         200,
	}))
	require.NoError(t, err)
	require.NoError(t, eng.Warmup(flatBars(10, 10)))

	require.NoError(t, eng.OnBar(flatBar(11)))

	assert.Equal(t, 200.0, eng.Stats().Position)
}

func TestTurtleRejectsBadWindows(t *testing.T) {
	_, err := NewTurtle(testSpec(map[string]interface{}{"entry_window": 0}))
	require.Error(t, err)
}
