package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyFactory_CreateAllTypes(t *testing.T) {
	gw := newRecordingGateway()
	deps := testDeps(gw, quoteFeed(t, "AAPL", 100))
	factory := NewStrategyFactory(deps)

	cases := map[StrategyType]map[string]any{
		LadderStrategy:      ladderParams(),
		TWAPStrategy:        slicedParams(10, 2),
		VWAPStrategy:        slicedParams(10, 2),
		OscillatingStrategy: oscParams(),
		HighLowStrategy:     highLowParams(),
		OTOLadderStrategy:   otoParams(),
	}
	for typ, params := range cases {
		s, err := factory.CreateStrategy(string(typ), "id-"+string(typ), params)
		require.NoError(t, err, typ)
		assert.Equal(t, typ, s.Type())
		assert.Equal(t, StateInitialized, s.State())
	}
}

func TestStrategyFactory_Interfaces(t *testing.T) {
	deps := testDeps(newRecordingGateway(), quoteFeed(t, "AAPL", 100))
	factory := NewStrategyFactory(deps)

	s, err := factory.CreateStrategy("ladder", "a", ladderParams())
	require.NoError(t, err)
	_, ok := s.(OneShot)
	assert.True(t, ok)

	s, err = factory.CreateStrategy("twap", "b", slicedParams(10, 2))
	require.NoError(t, err)
	_, ok = s.(Scheduled)
	assert.True(t, ok)

	s, err = factory.CreateStrategy("highlow", "c", highLowParams())
	require.NoError(t, err)
	_, ok = s.(QuoteDriven)
	assert.True(t, ok)
}

func TestStrategyFactory_CreateInvalidStrategy(t *testing.T) {
	factory := NewStrategyFactory(testDeps(newRecordingGateway(), nil))

	s, err := factory.CreateStrategy("invalid", "id", nil)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, KindValidation, KindOf(err))

	s, err = factory.CreateStrategy("ladder", "id", map[string]any{"symbol": "AAPL"})
	require.Error(t, err)
	assert.Nil(t, s)
}

func TestStrategyFactory_RequiresFeedForOTO(t *testing.T) {
	factory := NewStrategyFactory(testDeps(newRecordingGateway(), nil))
	_, err := factory.CreateStrategy("oto_ladder", "id", otoParams())
	require.Error(t, err)
}

func TestSchema(t *testing.T) {
	specs, err := Schema(LadderStrategy)
	require.NoError(t, err)
	byName := make(map[string]FieldSpec)
	for _, s := range specs {
		byName[s.Name] = s
	}
	require.Contains(t, byName, "total_quantity")
	assert.Equal(t, "integer", byName["total_quantity"].Type)
	assert.True(t, byName["symbol"].Required)
	assert.Equal(t, "number", byName["start_price"].Type)
	assert.Equal(t, "equal", byName["distribution"].Default)

	specs, err = Schema(TWAPStrategy)
	require.NoError(t, err)
	for _, s := range specs {
		if s.Name == "end_time" {
			assert.Equal(t, "datetime", s.Type)
		}
	}

	specs, err = Schema(OscillatingStrategy)
	require.NoError(t, err)
	for _, s := range specs {
		if s.Name == "is_percentage" {
			assert.Equal(t, "boolean", s.Type)
			assert.Equal(t, "true", s.Default)
		}
	}

	_, err = Schema("nope")
	assert.Error(t, err)
}

func TestDecodeParamsWeakTypes(t *testing.T) {
	var p LadderParams
	require.NoError(t, decodeParams(map[string]any{
		"symbol":         "AAPL",
		"side":           " sell ",
		"steps":          "3",
		"start_price":    "12.5",
		"end_price":      10,
		"total_quantity": 9.0,
		"distribution":   "WEIGHTED",
	}, &p))
	assert.Equal(t, "SELL", string(p.Side))
	assert.Equal(t, 3, p.Steps)
	assert.Equal(t, 12.5, p.StartPrice)
	assert.Equal(t, 9, p.TotalQuantity)
	assert.Equal(t, DistributionWeighted, p.Distribution)
}

func TestSymbolIsUppercased(t *testing.T) {
	raw := map[string]any{
		"symbol":         " aapl ",
		"quantity":       1,
		"low_threshold":  1,
		"high_threshold": 2,
	}
	s := mustCreate(t, testDeps(newRecordingGateway(), nil), HighLowStrategy, raw)
	assert.Equal(t, "AAPL", s.Symbol())
	assert.Equal(t, "AAPL", s.(*HighLow).params.Symbol)
	assert.Equal(t, " aapl ", raw["symbol"])
}
