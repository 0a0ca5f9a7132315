package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gas-price-relay/internal/history"
	"gas-price-relay/internal/scheduler"
	"gas-price-relay/internal/stats"
)

type fakeStatus struct{ snap scheduler.Snapshot }

func (f fakeStatus) Stats() scheduler.Snapshot { return f.snap }

type fakeWindows map[string]*history.Window

func (f fakeWindows) Sources() []string {
	out := make([]string, 0, len(f))
	for _, id := range []string{"ethereum", "polygon"} {
		if _, ok := f[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (f fakeWindows) Window(id string) (*history.Window, bool) {
	w, ok := f[id]
	return w, ok
}

func newTestServer() *Server {
	eth := history.New(10)
	for _, gwei := range []int64{80, 120, 100} {
		eth.Append(new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1e9)))
	}
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(Config{
		Scheduler: fakeStatus{snap: scheduler.Snapshot{UpdateCount: 3, ErrorCount: 1, SkippedCount: 2, StartedAt: started}},
		Windows:   fakeWindows{"ethereum": eth, "polygon": history.New(10)},
		Engine:    stats.NewEngine(10),
	}, zerolog.Nop())
	s.now = func() time.Time { return started.Add(time.Hour) }
	return s
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Scheduler struct {
			Updates int64  `json:"updates"`
			Skipped int64  `json:"skipped"`
			Uptime  string `json:"uptime"`
		} `json:"scheduler"`
		Threshold int64        `json:"threshold_pct"`
		Sources   []WindowView `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.Scheduler.Updates)
	assert.Equal(t, int64(2), body.Scheduler.Skipped)
	assert.Equal(t, "1h0m0s", body.Scheduler.Uptime)
	assert.Equal(t, int64(10), body.Threshold)

	require.Len(t, body.Sources, 2)
	assert.Equal(t, WindowView{Source: "ethereum", Samples: 3, Capacity: 10, HighGwei: "120", LowGwei: "80", MeanGwei: "100", VolatilityPct: "16.33"}, body.Sources[0])
	assert.Equal(t, 0, body.Sources[1].Samples)
	assert.Empty(t, body.Sources[1].HighGwei)
}

func TestSourceLookup(t *testing.T) {
	s := newTestServer()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sources/ethereum", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sources/solana", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
