package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/scanforge/analysis-gateway/internal/analyzer"
	"github.com/scanforge/analysis-gateway/internal/relay"
	"github.com/scanforge/analysis-gateway/internal/utils"
)

// handleWS relays the analysis stream over a websocket instead of SSE. Each
// chunk becomes one text message; heartbeats become pings.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	logRequest(r, "websocket stream request")

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

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept already wrote its own error response.
		settle.settle(false)
		g.failSession(sess, "websocket_accept_failed")
		log.Warn().Err(err).
			Str("session_key", utils.MaskSessionKey(sess.Key)).
			Msg("websocket accept failed, reservation refunded")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended unexpectedly")

	sink := relay.NewWSSink(ctx, conn)
	result := g.runRelay(ctx, sess, upstream, sink)
	g.finishStream(sess, settle, result, sink, start)

	if result.Completed() {
		_ = conn.Close(websocket.StatusNormalClosure, "analysis complete")
	} else {
		_ = conn.Close(websocket.StatusInternalError, string(result.Cause))
	}
}
