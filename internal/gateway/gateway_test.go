package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scanforge/analysis-gateway/internal/analyzer"
	"github.com/scanforge/analysis-gateway/internal/config"
	"github.com/scanforge/analysis-gateway/internal/identity"
	"github.com/scanforge/analysis-gateway/internal/ledger"
	"github.com/scanforge/analysis-gateway/internal/monitoring"
	"github.com/scanforge/analysis-gateway/internal/plan"
	"github.com/scanforge/analysis-gateway/internal/session"
)

// testEnv wires a gateway against an in-memory ledger and a mock upstream.
type testEnv struct {
	gw       *Gateway
	ledger   *ledger.Ledger
	sessions *session.Store
	server   *httptest.Server
}

const (
	testToken   = "tok-alpha"
	testAccount = "acct-alpha"
)

func newTestEnv(t *testing.T, upstreamURL string) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{BaseURL: upstreamURL},
		Cost: config.CostConfig{
			Unit:            1024,
			Sizing:          "bytes",
			LanguageFactors: map[string]int{"cpp": 2},
		},
		Sessions: config.SessionConfig{
			TTL:                time.Hour,
			SweepInterval:      time.Hour,
			CompletedGrace:     10 * time.Minute,
			MaxSessionLifetime: 30 * time.Second,
			HeartbeatInterval:  time.Second,
		},
	}

	ldg, err := ledger.New(context.Background(), ledger.NewMemoryStore(),
		ledger.WithSettleRetry(2, time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, ldg.Credit(context.Background(), testAccount, 100))

	metrics := monitoring.NewMetricsCollector()
	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{})
	require.NoError(t, err)

	sessions := session.NewStore(session.Config{
		TTL:            cfg.Sessions.TTL,
		CompletedGrace: cfg.Sessions.CompletedGrace,
		SweepInterval:  cfg.Sessions.SweepInterval,
	}, RefundForSweep(ldg, metrics))

	gw := New(Deps{
		Config:   cfg,
		Ledger:   ldg,
		Sessions: sessions,
		Upstream: analyzer.NewClient(upstreamURL, "test-key"),
		Verifier: identity.NewStaticVerifier(map[string]string{testToken: testAccount}),
		Plans: plan.NewStaticResolver("free",
			map[string]plan.Limits{"free": {MaxScanCost: 50}}, nil),
		Tracker: tracker,
		Metrics: metrics,
	})

	server := httptest.NewServer(gw.Routes())
	t.Cleanup(server.Close)

	return &testEnv{gw: gw, ledger: ldg, sessions: sessions, server: server}
}

// mockUpstream serves the analyze SSE stream with the given events.
func mockUpstream(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		require.Equal(t, "/v1/analyze", r.URL.Path)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, event := range events {
			_, _ = w.Write([]byte("data: " + event + "\n\n"))
			flusher.Flush()
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// mockRejectingUpstream refuses every analyze call.
func mockRejectingUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)
	return server
}

// timeAfterTTL is a clock far enough ahead that every session ages out.
func timeAfterTTL() time.Time {
	return time.Now().Add(2 * time.Hour)
}

// openSession POSTs an analyze request and returns the session key.
func (e *testEnv) openSession(t *testing.T, snippet, language string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/analyze",
		`{"snippet":`+strconv.Quote(snippet)+`,"language":`+strconv.Quote(language)+`}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created analyzeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	return created.SessionKey
}
