package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarAggregator(t *testing.T) {
	agg := NewBarAggregator(time.Minute)
	ts := time.Unix(0, 0)
	if closed := agg.OnTrade(100, 1, ts); closed != nil {
		t.Fatalf("should not close on first trade")
	}
	agg.OnTrade(102, 2, ts.Add(10*time.Second))
	agg.OnTrade(99, 3, ts.Add(20*time.Second))
	closed := agg.OnTrade(101, 1, ts.Add(70*time.Second))
	if closed == nil {
		t.Fatalf("expected bar close")
	}
	if closed.Open != 100 || closed.High != 102 || closed.Low != 99 || closed.Close != 99 {
		t.Fatalf("unexpected bar %+v", closed)
	}
	assert.Equal(t, 6.0, closed.Volume)
}

func TestAggregate(t *testing.T) {
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	bars := []Bar{
		{Open: 1, High: 2, Low: 1, Close: 2, Volume: 10, Ts: base},
		{Open: 2, High: 3, Low: 2, Close: 3, Volume: 20, Ts: base.Add(time.Minute)},
		{Open: 3, High: 3, Low: 0.5, Close: 1, Volume: 5, Ts: base.Add(5 * time.Minute)},
	}
	out := Aggregate(bars, 5*time.Minute)
	require.Len(t, out, 2)
	assert.Equal(t, 30.0, out[0].Volume)
	assert.Equal(t, 3.0, out[0].High)
	assert.Equal(t, 3.0, out[0].Close)
	assert.Equal(t, base.Add(5*time.Minute), out[1].Ts)
}
