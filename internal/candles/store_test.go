package candles

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"trailbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Shapes(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
		want models.Candle
		ok   bool
	}{
		{
			name: "plain floats",
			raw:  map[string]any{"time": float64(60), "open": 10.0, "high": 10.6, "low": 9.9, "close": 10.5, "volume": 150.0},
			want: models.Candle{Time: 60, Open: 10, High: 10.6, Low: 9.9, Close: 10.5, Volume: 150},
			ok:   true,
		},
		{
			name: "string numerics with aliases",
			raw:  map[string]any{"t": "60", "o": "10", "h": "10.6", "l": "9.9", "c": "10.5", "vol": "150"},
			want: models.Candle{Time: 60, Open: 10, High: 10.6, Low: 9.9, Close: 10.5, Volume: 150},
			ok:   true,
		},
		{
			name: "millisecond epoch",
			raw:  map[string]any{"start": float64(1_700_000_000_000), "open": 1.0, "high": 1.0, "low": 1.0, "close": 1.0, "volume": 0.0},
			want: models.Candle{Time: 1_700_000_000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 0},
			ok:   true,
		},
		{
			name: "missing close",
			raw:  map[string]any{"time": float64(60), "open": 1.0, "high": 1.0, "low": 1.0, "volume": 1.0},
			ok:   false,
		},
		{
			name: "negative volume",
			raw:  map[string]any{"time": float64(60), "open": 1.0, "high": 1.0, "low": 1.0, "close": 1.0, "volume": -5.0},
			ok:   false,
		},
		{
			name: "NaN price",
			raw:  map[string]any{"time": float64(60), "open": math.NaN(), "high": 1.0, "low": 1.0, "close": 1.0, "volume": 1.0},
			ok:   false,
		},
		{
			name: "zero timestamp",
			raw:  map[string]any{"time": float64(0), "open": 1.0, "high": 1.0, "low": 1.0, "close": 1.0, "volume": 1.0},
			ok:   false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Parse(tc.raw)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestMerge_OrderDedupCap(t *testing.T) {
	s := NewStore("BTC-USDT", "1m", 3, t.TempDir())

	s.Merge([]models.Candle{
		{Time: 120, Close: 2},
		{Time: 60, Close: 1},
	})
	s.Merge([]models.Candle{
		{Time: 60, Close: 1.5}, // newer value for same timestamp wins
		{Time: 180, Close: 3},
	})

	all := s.All()
	require.Len(t, all, 3)
	assert.Equal(t, int64(60), all[0].Time)
	assert.Equal(t, 1.5, all[0].Close)
	assert.Equal(t, int64(180), all[2].Time)

	// overflow evicts the oldest
	s.Merge([]models.Candle{{Time: 240, Close: 4}, {Time: 300, Close: 5}})
	all = s.All()
	require.Len(t, all, 3)
	assert.Equal(t, int64(180), all[0].Time)
	assert.Equal(t, int64(300), all[2].Time)

	// strict ascending, unique
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Time, all[i].Time)
	}
}

func TestMerge_KeepsChronologicalOrder(t *testing.T) {
	s := NewStore("BTC-USDT", "1m", 60, t.TempDir())
	s.Merge([]models.Candle{
		{Time: 0, Close: 10.0, High: 10.0, Low: 9.9, Volume: 100},
		{Time: 60, Close: 10.5, High: 10.6, Low: 10.4, Volume: 150},
	})
	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, int64(0), all[0].Time)
	assert.Equal(t, int64(60), all[1].Time)
}

func TestIngestRaw_SkipsBadRowsWithoutAborting(t *testing.T) {
	s := NewStore("BTC-USDT", "1m", 60, t.TempDir())

	accepted := s.IngestRaw([]map[string]any{
		{"time": float64(60), "open": 1.0, "high": 1.0, "low": 1.0, "close": 1.0, "volume": 1.0},
		{"time": float64(120)}, // missing everything else
		{"time": float64(180), "open": 1.0, "high": 1.0, "low": 1.0, "close": 1.0, "volume": 1.0},
	})
	assert.Equal(t, 2, accepted)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.Dropped())
}

func TestPersistLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore("BTC-USDT", "1m", 60, dir)
	s.Merge([]models.Candle{
		{Time: 60, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Time: 120, Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 20},
	})
	require.NoError(t, s.Persist())

	// no stray temp file left behind
	_, err := os.Stat(filepath.Join(dir, "candles_BTC-USDT_1m.json.tmp"))
	assert.True(t, os.IsNotExist(err))

	reloaded := NewStore("BTC-USDT", "1m", 60, dir)
	needsFetch := reloaded.Load()
	assert.False(t, needsFetch)
	assert.Equal(t, s.All(), reloaded.All())
}

func TestLoad_CorruptDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	s := NewStore("BTC-USDT", "1m", 60, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "candles_BTC-USDT_1m.json"), []byte("{nope"), 0o644))

	needsFetch := s.Load()
	assert.True(t, needsFetch)
	assert.Equal(t, 0, s.Len())
}

func TestLoad_MissingFileNeedsFetch(t *testing.T) {
	s := NewStore("BTC-USDT", "1m", 60, t.TempDir())
	assert.True(t, s.Load())
}
