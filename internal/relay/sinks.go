package relay

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// SSESink writes relay events as server-sent events, flushing after every
// write so chunks reach the client immediately.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSESink prepares w for streaming and returns the sink. The ok result is
// false when w cannot flush, in which case streaming is not possible.
func NewSSESink(w http.ResponseWriter) (*SSESink, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSESink{w: w, flusher: flusher}, true
}

func (s *SSESink) SendData(payload []byte) error {
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(payload); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *SSESink) SendComment(text string) error {
	if _, err := s.w.Write([]byte(": " + text + "\n\n")); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WSSink writes relay events as websocket text messages. Heartbeats map to
// websocket pings instead of comment frames.
type WSSink struct {
	ctx  context.Context
	conn *websocket.Conn
}

// NewWSSink wraps an accepted websocket connection.
func NewWSSink(ctx context.Context, conn *websocket.Conn) *WSSink {
	return &WSSink{ctx: ctx, conn: conn}
}

func (s *WSSink) SendData(payload []byte) error {
	return s.conn.Write(s.ctx, websocket.MessageText, payload)
}

func (s *WSSink) SendComment(string) error {
	return s.conn.Ping(s.ctx)
}
