package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/scanforge/analysis-gateway/internal/config"
	"github.com/scanforge/analysis-gateway/internal/ledger"
	"github.com/scanforge/analysis-gateway/internal/session"
	"github.com/scanforge/analysis-gateway/internal/utils"
)

// analyzeRequest is the caller-facing analyze payload.
type analyzeRequest struct {
	Snippet  string `json:"snippet"`
	Language string `json:"language"`
}

// analyzeResponse returns the session handle the caller streams against.
type analyzeResponse struct {
	SessionKey string `json:"session_key"`
	Cost       int64  `json:"cost"`
	Balance    int64  `json:"balance"`
	Language   string `json:"language"`
	State      string `json:"state"`
}

// handleAnalyze validates the request, reserves credits, and opens a session.
//
// Anything that can be checked without money changing hands happens before
// the reserve: validation, plan limits, and upstream configuration. After the
// reserve, every failure path refunds.
func (g *Gateway) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	logRequest(r, "analyze request")

	accountID, err := g.authenticate(r)
	if err != nil {
		g.writeError(w, errTypeAuth, "invalid or missing bearer token", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, config.MaxRequestBodySize+1))
	if err != nil {
		g.writeError(w, errTypeValidation, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > config.MaxRequestBodySize {
		g.writeError(w, errTypeValidation, "request body exceeds 10MB limit", http.StatusRequestEntityTooLarge)
		return
	}

	var req analyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		g.writeError(w, errTypeValidation, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Snippet == "" {
		g.writeError(w, errTypeValidation, "snippet must not be empty", http.StatusBadRequest)
		return
	}
	if req.Language == "" {
		req.Language = "text"
	}

	// Fail fast while nothing is reserved: an unconfigured upstream must
	// never cost the caller a reserve/refund round trip.
	if !g.upstream.Configured() {
		g.metrics.RecordRejection()
		g.writeError(w, errTypeUpstream, "analysis upstream is not configured", http.StatusServiceUnavailable)
		return
	}

	cost := g.cost.Cost(req.Snippet, req.Language)

	limits := g.plans.Limits(accountID)
	if !limits.Allows(cost) {
		g.metrics.RecordRejection()
		g.writeError(w, errTypePlan, "scan cost exceeds plan limit", http.StatusForbidden)
		return
	}

	reservationID, err := g.ledger.Reserve(r.Context(), accountID, cost)
	if err != nil {
		g.metrics.RecordRejection()
		switch {
		case errors.Is(err, ledger.ErrInsufficientCredits):
			balance, _ := g.ledger.Balance(accountID)
			g.writeCreditError(w, "insufficient credits for scan", cost, balance)
		case errors.Is(err, ledger.ErrAccountNotFound):
			g.writeCreditError(w, "account has no credit balance", cost, 0)
		default:
			log.Error().Err(err).Str("account_id", accountID).Msg("reserve failed")
			g.writeError(w, errTypeInternal, "failed to reserve credits", http.StatusInternalServerError)
		}
		return
	}

	sess, err := g.sessions.Create(accountID, reservationID, cost, session.Meta{
		Snippet:   req.Snippet,
		Language:  req.Language,
		SizeBytes: len(req.Snippet),
	})
	if err != nil {
		// Reserved but no session: give the credits back before erroring.
		if refundErr := g.ledger.Refund(r.Context(), reservationID); refundErr != nil {
			log.Error().Err(refundErr).Str("reservation_id", reservationID).Msg("refund after session create failure")
		}
		g.writeError(w, errTypeInternal, "failed to create session", http.StatusInternalServerError)
		return
	}

	balance, _ := g.ledger.Balance(accountID)

	log.Info().
		Str("account_id", accountID).
		Str("session_key", utils.MaskSessionKey(sess.Key)).
		Str("language", req.Language).
		Int64("cost", cost).
		Int64("balance", balance).
		Msg("session opened")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(analyzeResponse{
		SessionKey: sess.Key,
		Cost:       cost,
		Balance:    balance,
		Language:   req.Language,
		State:      string(sess.State),
	})
}

// handleStatus reports session state to its owning account.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	accountID, err := g.authenticate(r)
	if err != nil {
		g.writeError(w, errTypeAuth, "invalid or missing bearer token", http.StatusUnauthorized)
		return
	}

	sess, err := g.sessions.Get(r.PathValue("key"))
	if err != nil || sess.AccountID != accountID {
		// Unknown key and foreign key are indistinguishable to the caller.
		g.writeError(w, errTypeSession, "session not found; start a new analysis", http.StatusNotFound)
		return
	}

	balance, _ := g.ledger.Balance(accountID)

	resp := map[string]interface{}{
		"session_key":    sess.Key,
		"state":          string(sess.State),
		"cost":           sess.Cost,
		"balance":        balance,
		"language":       sess.Meta.Language,
		"size_bytes":     sess.Meta.SizeBytes,
		"chunks_relayed": sess.ChunksRelayed,
		"bytes_relayed":  sess.BytesRelayed,
		"created_at":     sess.CreatedAt,
	}
	if sess.FailureReason != "" {
		resp["failure_reason"] = sess.FailureReason
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
