// Chunk relay between the upstream analysis stream and the client.
//
// DESIGN: The relay owns the lifetime of one stream: it reads SSE events from
// the upstream body, stamps each JSON chunk with a sequence number, and hands
// it to an EventSink. Exactly one chunk is in flight at a time, so a slow
// client applies backpressure all the way to the upstream read.
package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// State is the relay lifecycle position.
type State string

const (
	StateIdle      State = "idle"
	StateConnected State = "connected"
	StateRelaying  State = "relaying"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// AbortCause classifies why a relay ended without completing.
type AbortCause string

const (
	CauseNone               AbortCause = ""
	CauseClientDisconnected AbortCause = "client_disconnected"
	CauseUpstreamError      AbortCause = "upstream_error"
	CauseLifetimeExceeded   AbortCause = "lifetime_exceeded"
)

// EventSink receives relayed events. Implementations exist for SSE responses
// and websocket connections. A returned error means the client is gone.
type EventSink interface {
	// SendData writes one data event.
	SendData(payload []byte) error

	// SendComment writes a comment-level heartbeat that carries no data.
	SendComment(text string) error
}

// Result summarizes a finished relay.
type Result struct {
	State  State
	Cause  AbortCause
	Chunks int
	Bytes  int64
}

// Completed reports whether the stream finished normally.
func (r Result) Completed() bool { return r.State == StateCompleted }

// ProgressFunc observes relayed chunks as they are delivered.
type ProgressFunc func(chunks int, bytes int64)

// Relay drives one upstream stream to one sink.
type Relay struct {
	heartbeat time.Duration
	progress  ProgressFunc
}

// Option configures a Relay.
type Option func(*Relay)

// WithHeartbeat overrides the keepalive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(r *Relay) { r.heartbeat = d }
}

// WithProgress installs a progress observer.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Relay) { r.progress = fn }
}

// New creates a relay with a 10s heartbeat by default.
func New(opts ...Option) *Relay {
	r := &Relay{heartbeat: 10 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type upstreamEvent struct {
	payload []byte
	done    bool
}

// Run relays upstream to sink until the stream ends, the client disconnects,
// or ctx is cancelled. It always returns a terminal Result; the error carries
// the upstream failure when Cause is upstream_error.
func (r *Relay) Run(ctx context.Context, upstream io.Reader, sink EventSink) (Result, error) {
	res := Result{State: StateConnected}

	events := make(chan upstreamEvent) // unbuffered: one chunk in flight
	readErr := make(chan error, 1)
	readCtx, stopReader := context.WithCancel(ctx)
	defer stopReader()

	go r.readLoop(readCtx, upstream, events, readErr)

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			// A deadline is the lifetime cap; a plain cancel means the
			// request context died with the client.
			res.State = StateAborted
			res.Cause = CauseClientDisconnected
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				res.Cause = CauseLifetimeExceeded
			}
			return res, nil

		case <-ticker.C:
			if err := sink.SendComment("keepalive"); err != nil {
				res.State = StateAborted
				res.Cause = CauseClientDisconnected
				return res, nil
			}

		case ev, ok := <-events:
			if !ok {
				// Reader finished; the verdict is in readErr. A clean end
				// without the sentinel still terminates the caller's stream
				// with one, so every consumer sees an explicit outcome.
				if err := <-readErr; err != nil {
					res.State = StateAborted
					res.Cause = CauseUpstreamError
					return res, err
				}
				return r.finish(res, sink)
			}

			if ev.done {
				// The sentinel is the upstream's word that the analysis is
				// complete; whatever follows on the wire no longer matters.
				return r.finish(res, sink)
			}

			payload := stampSequence(ev.payload, seq)
			seq++
			if err := sink.SendData(payload); err != nil {
				res.State = StateAborted
				res.Cause = CauseClientDisconnected
				return res, nil
			}
			res.State = StateRelaying
			res.Chunks++
			res.Bytes += int64(len(payload))
			if r.progress != nil {
				r.progress(1, int64(len(payload)))
			}
			ticker.Reset(r.heartbeat)
		}
	}
}

// finish delivers the [DONE] terminator and marks the relay completed. A
// caller that cannot receive the terminator never learns the outcome, so a
// failed send is still a disconnect, not a completion.
func (r *Relay) finish(res Result, sink EventSink) (Result, error) {
	if err := sink.SendData([]byte("[DONE]")); err != nil {
		res.State = StateAborted
		res.Cause = CauseClientDisconnected
		return res, nil
	}
	res.State = StateCompleted
	return res, nil
}

// readLoop splits the upstream byte stream into SSE data payloads. It sends
// each payload on events and the final read verdict on readErr, then closes
// events.
func (r *Relay) readLoop(ctx context.Context, upstream io.Reader, events chan<- upstreamEvent, readErr chan<- error) {
	defer close(events)

	buffer := make([]byte, 0, 4096)
	buf := make([]byte, 4096)

	emit := func(ev upstreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		n, err := upstream.Read(buf)
		if n > 0 {
			buffer = append(buffer, buf[:n]...)
			for {
				event, rest, ok := nextEvent(buffer, false)
				if !ok {
					break
				}
				buffer = rest
				for _, ev := range eventPayloads(event) {
					if !emit(ev) {
						readErr <- nil
						return
					}
				}
			}
		}
		if err != nil {
			if event, _, ok := nextEvent(buffer, true); ok {
				for _, ev := range eventPayloads(event) {
					if !emit(ev) {
						readErr <- nil
						return
					}
				}
			}
			if err == io.EOF || errors.Is(err, context.Canceled) {
				readErr <- nil
			} else {
				log.Debug().Err(err).Msg("relay: upstream read error")
				readErr <- err
			}
			return
		}
	}
}

// nextEvent pops one SSE event block off buf. Events are delimited by a blank
// line; both \n\n and \r\n\r\n separators appear in the wild. With flush set,
// a trailing unterminated block is returned as a final event.
func nextEvent(buf []byte, flush bool) ([]byte, []byte, bool) {
	if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
		return buf[:idx], buf[idx+4:], true
	}
	if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
		return buf[:idx], buf[idx+2:], true
	}
	if flush {
		trimmed := bytes.TrimSpace(buf)
		if len(trimmed) > 0 {
			return trimmed, nil, true
		}
	}
	return nil, nil, false
}

// eventPayloads extracts the data payloads from one event block. Comment
// lines and event/id fields are dropped; upstream keepalives are not relayed
// because the relay generates its own.
func eventPayloads(event []byte) []upstreamEvent {
	var out []upstreamEvent
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(payload) == 0 {
			continue
		}
		if bytes.Equal(payload, []byte("[DONE]")) {
			out = append(out, upstreamEvent{done: true})
			continue
		}
		cp := make([]byte, len(payload))
		copy(cp, payload)
		out = append(out, upstreamEvent{payload: cp})
	}
	return out
}

// stampSequence adds a monotonically increasing seq field to JSON chunks so
// clients can detect gaps. Non-JSON payloads are forwarded verbatim.
func stampSequence(payload []byte, seq int) []byte {
	if !gjson.ValidBytes(payload) {
		log.Debug().Int("seq", seq).Int("bytes", len(payload)).
			Msg("relay: non-JSON chunk forwarded verbatim")
		return payload
	}
	stamped, err := sjson.SetBytes(payload, "seq", seq)
	if err != nil {
		log.Warn().Err(err).Int("seq", seq).
			Msg("relay: failed to stamp sequence, chunk forwarded verbatim")
		return payload
	}
	return stamped
}
