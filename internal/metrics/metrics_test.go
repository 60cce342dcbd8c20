package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.RecordBuy("FLOW_SURGE")
	m.RecordBuy("FLOW_SURGE")
	m.RecordExit("stop_loss")
	m.RecordPartial()
	m.RecordReconciliation("manual_sell")
	m.RecordRestart("monitor")
	m.RecordQuoteFailure()
	m.SetPortfolio(3, 4, true)
	m.ObserveCycle(20 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Buys.WithLabelValues("FLOW_SURGE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exits.WithLabelValues("stop_loss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PartialTakes))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SlotsUsed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradingPaused))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskRestarts.WithLabelValues("monitor")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordBuy("x")
		m.RecordExit("x")
		m.RecordPartial()
		m.RecordBuyRejection("x")
		m.SetPortfolio(1, 1, false)
		m.ObserveCycle(time.Second)
		m.RecordQuoteFailure()
		m.RecordReconciliation("x")
		m.RecordRestart("x")
	})
}

func TestHandlerExposesNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("", reg)
	m.RecordExit("trailing_stop")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `intraday_trader_lifecycle_exits_total{reason="trailing_stop"} 1`))
}
