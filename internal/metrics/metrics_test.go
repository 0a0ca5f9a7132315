package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	Init()
	Init()

	RecordSourceFetch("metrics-test", true)
	RecordSourceFetch("metrics-test", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(SourceFetchTotal.WithLabelValues("metrics-test", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(SourceFetchTotal.WithLabelValues("metrics-test", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(SourceHealth.WithLabelValues("metrics-test")))

	RecordGasPrice("metrics-test", 21.5)
	assert.Equal(t, 21.5, testutil.ToFloat64(GasPriceGwei.WithLabelValues("metrics-test")))

	before := testutil.ToFloat64(SkippedTicksTotal)
	RecordSkippedTick()
	assert.Equal(t, before+1, testutil.ToFloat64(SkippedTicksTotal))

	RecordCycle("updated")
	RecordCycleDuration(150 * time.Millisecond)
	RecordBuySignal("metrics-test")
	RecordPublish(false)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "gasrelay_cycles_total"))
	assert.True(t, strings.Contains(body, `gasrelay_buy_signals_total{source="metrics-test"} 1`))
}
