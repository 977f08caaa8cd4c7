package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticFeedHistoryShape(t *testing.T) {
	feed := NewSyntheticFeed(time.Millisecond)

	bars, err := feed.History(context.Background(), "000001.SZ", 90)
	require.NoError(t, err)
	require.Len(t, bars, 90)

	for _, b := range bars {
		assert.Equal(t, "000001.SZ", b.Symbol)
		assert.Greater(t, b.Close, 0.0)
		assert.GreaterOrEqual(t, b.High, b.Open)
		assert.GreaterOrEqual(t, b.High, b.Close)
		assert.LessOrEqual(t, b.Low, b.Open)
		assert.LessOrEqual(t, b.Low, b.Close)
		assert.Greater(t, b.Volume, 0.0)
	}
	assert.True(t, bars[0].Time.Before(bars[89].Time))
}

func TestSyntheticFeedDeterministicPerSymbol(t *testing.T) {
	a, err := NewSyntheticFeed(time.Millisecond).History(context.Background(), "000001.SZ", 30)
	require.NoError(t, err)
	b, err := NewSyntheticFeed(time.Millisecond).History(context.Background(), "000001.SZ", 30)
	require.NoError(t, err)

	for i := range a {
		assert.Equal(t, a[i].Close, b[i].Close)
	}
}

func TestSyntheticFeedSymbolsDiffer(t *testing.T) {
	feed := NewSyntheticFeed(time.Millisecond)

	a, err := feed.History(context.Background(), "000001.SZ", 1)
	require.NoError(t, err)
	b, err := feed.History(context.Background(), "600000.SH", 1)
	require.NoError(t, err)

	assert.NotEqual(t, a[0].Close, b[0].Close)
}

func TestSyntheticFeedNext(t *testing.T) {
	feed := NewSyntheticFeed(time.Millisecond)

	bar, err := feed.Next(context.Background(), "000001.SZ")
	require.NoError(t, err)
	assert.Equal(t, "000001.SZ", bar.Symbol)
	assert.Greater(t, bar.Close, 0.0)
}

func TestSyntheticFeedNextHonorsContext(t *testing.T) {
	feed := NewSyntheticFeed(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := feed.Next(ctx, "000001.SZ")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSyntheticFeedHistoryContinuesIntoNext(t *testing.T) {
	feed := NewSyntheticFeed(time.Millisecond)

	hist, err := feed.History(context.Background(), "000001.SZ", 10)
	require.NoError(t, err)

	bar, err := feed.Next(context.Background(), "000001.SZ")
	require.NoError(t, err)

	// The walk carries on from the last historical close rather than
	// jumping to a fresh seed.
	last := hist[len(hist)-1].Close
	assert.InEpsilon(t, last, bar.Open, 0.0001)
}

func TestSyntheticFeedRunID(t *testing.T) {
	feed := NewSyntheticFeed(time.Millisecond)
	assert.NotEmpty(t, feed.RunID())
	assert.NotEqual(t, feed.RunID(), NewSyntheticFeed(time.Millisecond).RunID())
}
