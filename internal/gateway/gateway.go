// HTTP surface of the credit-gated analysis gateway.
//
// DESIGN: Main request flow:
//   - handleAnalyze(): validates, reserves credits, opens a session
//   - handleStream():  relays the upstream SSE stream and settles the
//     reservation exactly once
//   - handleWS():      same relay over a websocket
//   - handleStatus():  session state for polling clients
//
// Also includes health check, stats, and telemetry helpers.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scanforge/analysis-gateway/internal/analyzer"
	"github.com/scanforge/analysis-gateway/internal/config"
	"github.com/scanforge/analysis-gateway/internal/identity"
	"github.com/scanforge/analysis-gateway/internal/ledger"
	"github.com/scanforge/analysis-gateway/internal/monitoring"
	"github.com/scanforge/analysis-gateway/internal/plan"
	"github.com/scanforge/analysis-gateway/internal/relay"
	"github.com/scanforge/analysis-gateway/internal/session"
)

// Gateway wires the ledger, session store, and upstream client behind the
// HTTP handlers.
type Gateway struct {
	cfg      *config.Config
	ledger   *ledger.Ledger
	sessions *session.Store
	upstream *analyzer.Client
	verifier identity.Verifier
	plans    plan.Resolver
	cost     *CostCalculator
	tracker  *monitoring.Tracker
	metrics  *monitoring.MetricsCollector

	maxLifetime time.Duration
	heartbeat   time.Duration
}

// Deps are the collaborators a Gateway needs.
type Deps struct {
	Config   *config.Config
	Ledger   *ledger.Ledger
	Sessions *session.Store
	Upstream *analyzer.Client
	Verifier identity.Verifier
	Plans    plan.Resolver
	Tracker  *monitoring.Tracker
	Metrics  *monitoring.MetricsCollector
}

// New creates a Gateway.
func New(deps Deps) *Gateway {
	return &Gateway{
		cfg:         deps.Config,
		ledger:      deps.Ledger,
		sessions:    deps.Sessions,
		upstream:    deps.Upstream,
		verifier:    deps.Verifier,
		plans:       deps.Plans,
		cost:        NewCostCalculator(deps.Config.Cost),
		tracker:     deps.Tracker,
		metrics:     deps.Metrics,
		maxLifetime: deps.Config.Sessions.MaxSessionLifetime,
		heartbeat:   deps.Config.Sessions.HeartbeatInterval,
	}
}

// Routes returns the gateway's HTTP mux.
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze", g.handleAnalyze)
	mux.HandleFunc("POST /analyze/stream/{key}", g.handleStream)
	mux.HandleFunc("GET /analyze/ws/{key}", g.handleWS)
	mux.HandleFunc("GET /analyze/session/{key}/status", g.handleStatus)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)
	return mux
}

// authenticate resolves the request's bearer token to an account ID.
func (g *Gateway) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", identity.ErrUnauthorized
	}
	return g.verifier.Verify(token)
}

// handleHealth returns gateway health status.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":              "ok",
		"time":                time.Now().Format(time.RFC3339),
		"upstream_configured": g.upstream.Configured(),
	}

	if g.upstream.Configured() {
		ctx, cancel := context.WithTimeout(r.Context(), config.DefaultHealthTimeout)
		if err := g.upstream.Health(ctx); err != nil {
			health["status"] = "degraded"
			health["upstream_error"] = err.Error()
		}
		cancel()
	}

	w.Header().Set("Content-Type", "application/json")
	if health["status"] != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}

// handleStats returns operational counters and live session totals.
func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	sessions := make(map[string]int)
	for state, n := range g.sessions.Count() {
		sessions[string(state)] = n
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"metrics":  g.metrics.Snapshot(),
		"sessions": sessions,
	})
}

// RefundForSweep adapts the ledger for the session sweeper.
func RefundForSweep(l *ledger.Ledger, metrics *monitoring.MetricsCollector) session.RefundFunc {
	return func(ctx context.Context, reservationID string) error {
		if err := l.Refund(ctx, reservationID); err != nil {
			return err
		}
		if metrics != nil {
			metrics.RecordRefund()
		}
		return nil
	}
}

// relayOptions builds the relay for one session.
func (g *Gateway) relayOptions(key string) []relay.Option {
	return []relay.Option{
		relay.WithHeartbeat(g.heartbeat),
		relay.WithProgress(func(chunks int, bytes int64) {
			g.sessions.Touch(key, chunks, bytes)
			g.metrics.RecordRelay(chunks, bytes)
		}),
	}
}

func logRequest(r *http.Request, msg string) {
	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote", r.RemoteAddr).
		Msg(msg)
}
