package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-engine/market"
	"strategy-engine/order"
)

func newTestPaper(t *testing.T, cfg PaperConfig) *Paper {
	t.Helper()
	p, err := NewPaper(cfg, nil)
	require.NoError(t, err)
	return p
}

func TestPaperMarketOrderNeedsQuote(t *testing.T) {
	p := newTestPaper(t, PaperConfig{})
	_, err := p.PlaceMarketOrder(context.Background(), "AAPL", 10, order.SideBuy)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestPaperMarketOrderFillsAndTracksPosition(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(t, PaperConfig{})
	p.OnQuote(market.Quote{Symbol: "AAPL", Last: 100})

	o, err := p.PlaceMarketOrder(ctx, "AAPL", 10, order.SideBuy)
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, order.StatusFilled, o.Status)
	assert.Equal(t, 100.0, o.FilledPrice)

	pos, err := p.GetPosition(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 10, pos.Quantity)
	assert.Equal(t, 100.0, pos.EntryPrice)

	_, err = p.PlaceMarketOrder(ctx, "AAPL", 10, order.SideSell)
	require.NoError(t, err)
	pos, err = p.GetPosition(ctx, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestPaperLimitOrderRestsUntilCrossed(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(t, PaperConfig{})
	p.OnQuote(market.Quote{Symbol: "AAPL", Last: 100})

	o, err := p.PlaceLimitOrder(ctx, "AAPL", 5, order.SideBuy, 98, order.DurationDay, order.SessionRegular)
	require.NoError(t, err)
	assert.Equal(t, order.StatusOpen, o.Status)

	p.OnQuote(market.Quote{Symbol: "AAPL", Last: 99})
	got, _ := p.Order(o.ID)
	assert.Equal(t, order.StatusOpen, got.Status)

	p.OnQuote(market.Quote{Symbol: "AAPL", Last: 97.5})
	got, _ = p.Order(o.ID)
	assert.Equal(t, order.StatusFilled, got.Status)
	assert.Equal(t, 98.0, got.FilledPrice)
}

func TestPaperMarketableLimitFillsImmediately(t *testing.T) {
	p := newTestPaper(t, PaperConfig{})
	p.OnQuote(market.Quote{Symbol: "AAPL", Last: 100})
	o, err := p.PlaceLimitOrder(context.Background(), "AAPL", 5, order.SideSell, 99.5, order.DurationEXTO, order.SessionExtended)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFilled, o.Status)
}

func TestPaperCancel(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(t, PaperConfig{})
	o, err := p.PlaceLimitOrder(ctx, "AAPL", 5, order.SideBuy, 50, order.DurationGTC, order.SessionRegular)
	require.NoError(t, err)

	ok, err := p.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.CancelOrder(ctx, "nope")
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestPaperRejections(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(t, PaperConfig{
		Symbols:     []string{"AAPL"},
		NoShort:     true,
		Constraints: map[string]order.SymbolConstraints{"AAPL": {TickSize: 0.01, MaxQty: 100}},
	})
	p.OnQuote(market.Quote{Symbol: "AAPL", Last: 100})

	_, err := p.PlaceMarketOrder(ctx, "TSLA", 1, order.SideBuy)
	assert.ErrorIs(t, err, ErrInvalidSymbol)
	assert.False(t, IsRetryable(err))

	_, err = p.PlaceMarketOrder(ctx, "AAPL", 1, order.SideSell)
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	_, err = p.PlaceLimitOrder(ctx, "AAPL", 1, order.SideBuy, 99.999, order.DurationDay, order.SessionRegular)
	assert.ErrorIs(t, err, ErrRejected)

	_, err = p.PlaceMarketOrder(ctx, "AAPL", 0, order.SideBuy)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestPaperInjectedClockAndFillHook(t *testing.T) {
	at := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	var fills []order.Order
	p := newTestPaper(t, PaperConfig{
		Now:    func() time.Time { return at },
		OnFill: func(o order.Order) { fills = append(fills, o) },
	})
	ctx := context.Background()
	p.OnQuote(market.Quote{Symbol: "AAPL", Last: 100})

	_, err := p.PlaceMarketOrder(ctx, "AAPL", 10, order.SideBuy)
	require.NoError(t, err)
	rest, err := p.PlaceLimitOrder(ctx, "AAPL", 10, order.SideSell, 105, order.DurationDay, order.SessionRegular)
	require.NoError(t, err)
	require.Len(t, fills, 1)

	p.OnQuote(market.Quote{Symbol: "AAPL", Last: 106})
	require.Len(t, fills, 2)
	assert.Equal(t, rest.ID, fills[1].ID)
	assert.Equal(t, 105.0, fills[1].FilledPrice)
	assert.Equal(t, at, fills[1].FilledAt)
	assert.Equal(t, at, fills[0].SubmittedAt)
	assert.InDelta(t, 50.0, p.RealizedPnL("AAPL"), 1e-9)
	assert.Zero(t, p.RealizedPnL("MSFT"))
}
