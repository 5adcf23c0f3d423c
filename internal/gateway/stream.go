package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scanforge/analysis-gateway/internal/analyzer"
	"github.com/scanforge/analysis-gateway/internal/ledger"
	"github.com/scanforge/analysis-gateway/internal/monitoring"
	"github.com/scanforge/analysis-gateway/internal/relay"
	"github.com/scanforge/analysis-gateway/internal/session"
	"github.com/scanforge/analysis-gateway/internal/utils"
)

// settler guarantees a reservation settles exactly once no matter how many
// exit paths race to settle it.
type settler struct {
	g    *Gateway
	sess *session.Session
	once sync.Once
}

func (g *Gateway) newSettler(sess *session.Session) *settler {
	return &settler{g: g, sess: sess}
}

// settle commits or refunds the session's reservation. Only the first call
// has any effect. The settle itself runs on a fresh context so a cancelled
// request cannot abort the ledger write.
func (s *settler) settle(commit bool) {
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		op := "refund"
		var err error
		if commit {
			op = "commit"
			err = s.g.ledger.Commit(ctx, s.sess.ReservationID)
		} else {
			err = s.g.ledger.Refund(ctx, s.sess.ReservationID)
		}

		inconsistent := errors.Is(err, ledger.ErrLedgerInconsistency)
		if err != nil {
			log.Error().Err(err).
				Str("session_key", utils.MaskSessionKey(s.sess.Key)).
				Str("reservation_id", s.sess.ReservationID).
				Str("op", op).
				Msg("settlement failed")
			if inconsistent {
				s.g.metrics.RecordInconsistency()
			}
		} else if commit {
			s.g.metrics.RecordCommit()
		} else {
			s.g.metrics.RecordRefund()
		}

		s.g.tracker.RecordSettlement(monitoring.SettlementEvent{
			AccountID:     s.sess.AccountID,
			ReservationID: s.sess.ReservationID,
			Amount:        s.sess.Cost,
			Op:            op,
			Inconsistent:  inconsistent,
		})
	})
}

// handleStream relays the upstream analysis to the caller as SSE.
//
// Once streaming has begun the HTTP status is already written; failures after
// that point surface only through the settlement and session state.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	logRequest(r, "stream request")

	sess, ok := g.claimSession(w, r)
	if !ok {
		return
	}

	settle := g.newSettler(sess)
	start := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), g.maxLifetime)
	defer cancel()

	upstream, err := g.upstream.OpenStream(ctx, analyzer.AnalysisRequest{
		Snippet:  sess.Meta.Snippet,
		Language: sess.Meta.Language,
	})
	if err != nil {
		g.failBeforeRelay(w, sess, settle, err)
		return
	}
	defer upstream.Close()

	sink, canStream := relay.NewSSESink(w)
	if !canStream {
		settle.settle(false)
		g.failSession(sess, "streaming_unsupported")
		g.writeRefundedError(w, errTypeInternal, "response writer does not support streaming", http.StatusInternalServerError, true)
		return
	}

	result := g.runRelay(ctx, sess, upstream, sink)
	g.finishStream(sess, settle, result, sink, start)
}

// claimSession loads the session for the request and moves it to streaming.
// A key can be claimed once; concurrent claims lose with a conflict.
func (g *Gateway) claimSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	accountID, err := g.authenticate(r)
	if err != nil {
		g.writeError(w, errTypeAuth, "invalid or missing bearer token", http.StatusUnauthorized)
		return nil, false
	}

	key := r.PathValue("key")
	sess, err := g.sessions.Get(key)
	if err != nil || sess.AccountID != accountID {
		g.writeError(w, errTypeSession, "session not found; start a new analysis", http.StatusNotFound)
		return nil, false
	}

	if err := g.sessions.Transition(key, session.StateStreaming, ""); err != nil {
		g.writeError(w, errTypeSession, "session is not in a streamable state", http.StatusConflict)
		return nil, false
	}
	return sess, true
}

// failBeforeRelay handles upstream open failures: refund, fail the session,
// and report the error with the refunded flag set.
func (g *Gateway) failBeforeRelay(w http.ResponseWriter, sess *session.Session, settle *settler, err error) {
	settle.settle(false)

	var rejected *analyzer.RejectedError
	switch {
	case errors.As(err, &rejected):
		g.failSession(sess, "upstream_rejected")
		g.writeRefundedError(w, errTypeUpstream, "analysis upstream rejected the request", http.StatusBadGateway, true)
	case errors.Is(err, analyzer.ErrUnavailable):
		g.failSession(sess, "upstream_unavailable")
		g.writeRefundedError(w, errTypeUpstream, "analysis upstream is unavailable", http.StatusServiceUnavailable, true)
	default:
		g.failSession(sess, "upstream_error")
		g.writeRefundedError(w, errTypeUpstream, "failed to open analysis stream", http.StatusBadGateway, true)
	}

	log.Warn().Err(err).
		Str("session_key", utils.MaskSessionKey(sess.Key)).
		Msg("upstream open failed, reservation refunded")
}

// runRelay drives the relay for one session.
func (g *Gateway) runRelay(ctx context.Context, sess *session.Session, upstream io.Reader, sink relay.EventSink) relay.Result {
	result, err := relay.New(g.relayOptions(sess.Key)...).Run(ctx, upstream, sink)
	if err != nil {
		log.Warn().Err(err).
			Str("session_key", utils.MaskSessionKey(sess.Key)).
			Msg("upstream stream failed mid-relay")
	}
	return result
}

// finishStream settles the reservation and records the terminal session state
// for a finished relay. Commit happens only on full completion; every abort
// cause refunds. A caller still listening on an aborted stream is told the
// stream failed and the charge was reversed.
func (g *Gateway) finishStream(sess *session.Session, settle *settler, result relay.Result, sink relay.EventSink, start time.Time) {
	completed := result.Completed()
	settle.settle(completed)

	outcome := "completed"
	reason := ""
	if completed {
		if err := g.sessions.Transition(sess.Key, session.StateCompleted, ""); err != nil {
			log.Error().Err(err).Str("session_key", utils.MaskSessionKey(sess.Key)).Msg("completed transition failed")
		}
	} else {
		outcome = "failed"
		reason = string(result.Cause)
		g.failSession(sess, reason)
		if result.Cause != relay.CauseClientDisconnected {
			g.sendAbortEvent(sink, result.Cause)
		}
	}

	g.metrics.RecordScan(completed)
	g.tracker.RecordScan(monitoring.ScanEvent{
		SessionKey:    utils.MaskSessionKey(sess.Key),
		AccountID:     sess.AccountID,
		Language:      sess.Meta.Language,
		SizeBytes:     sess.Meta.SizeBytes,
		Cost:          sess.Cost,
		Outcome:       outcome,
		FailureReason: reason,
		ChunksRelayed: result.Chunks,
		BytesRelayed:  result.Bytes,
		DurationMS:    time.Since(start).Milliseconds(),
	})

	log.Info().
		Str("session_key", utils.MaskSessionKey(sess.Key)).
		Str("outcome", outcome).
		Str("reason", reason).
		Int("chunks", result.Chunks).
		Int64("bytes", result.Bytes).
		Dur("duration", time.Since(start)).
		Msg("stream finished")
}

// sendAbortEvent emits the terminal failure event for an aborted stream. The
// send is best effort; the refund already happened either way.
func (g *Gateway) sendAbortEvent(sink relay.EventSink, cause relay.AbortCause) {
	refunded := true
	body := errorBody{Refunded: &refunded}
	body.Error.Type = errTypeUpstream
	body.Error.Message = "analysis aborted: " + string(cause)

	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	_ = sink.SendData(payload)
}

func (g *Gateway) failSession(sess *session.Session, reason string) {
	if err := g.sessions.Transition(sess.Key, session.StateFailed, reason); err != nil && !errors.Is(err, session.ErrInvalidTransition) {
		log.Error().Err(err).Str("session_key", utils.MaskSessionKey(sess.Key)).Msg("failed transition")
	}
}
