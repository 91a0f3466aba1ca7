package monitor

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderAndStrategyCounters(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordOrderPlaced("ladder", "BUY")
	m.RecordOrderPlaced("ladder", "BUY")
	m.RecordOrderPlaced("twap", "SELL")
	m.RecordOrderFailure("ladder")
	m.RecordStrategyError("oscillating", "gateway_error")
	m.RecordTick("twap")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersPlaced.WithLabelValues("ladder", "BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersPlaced.WithLabelValues("twap", "SELL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orderFailures.WithLabelValues("ladder")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.strategyErrors.WithLabelValues("oscillating", "gateway_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.strategyTicks.WithLabelValues("twap")))
}

func TestSetStrategyStatesResets(t *testing.T) {
	m := New(DefaultConfig())
	m.SetStrategyStates(map[string]int{"running": 2, "paused": 1})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.strategies.WithLabelValues("running")))

	m.SetStrategyStates(map[string]int{"stopped": 3})
	assert.Equal(t, 1, testutil.CollectAndCount(m.strategies))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.strategies.WithLabelValues("stopped")))
}

func TestRecordGatewayCall(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordGatewayCall("place_limit", 5*time.Millisecond, nil)
	m.RecordGatewayCall("place_limit", 5*time.Millisecond, errors.New("rejected"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.gatewayRequests.WithLabelValues("place_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gatewayErrors.WithLabelValues("place_limit")))
}

func TestNilMonitorIsNoop(t *testing.T) {
	var m *Monitor
	assert.NotPanics(t, func() {
		m.RecordOrderPlaced("ladder", "BUY")
		m.RecordQuoteDropped()
		m.SetStrategyStates(map[string]int{"running": 1})
		m.RecordGatewayCall("cancel", time.Millisecond, nil)
	})
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordQuoteDropped()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "strat_quotes_dropped_total 1")
}
