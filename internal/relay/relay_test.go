package relay

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// memorySink collects relayed events in order.
type memorySink struct {
	mu       sync.Mutex
	data     []string
	comments []string
	failFrom int // fail SendData once this many events were accepted, -1 = never
}

func newMemorySink() *memorySink {
	return &memorySink{failFrom: -1}
}

func (s *memorySink) SendData(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFrom >= 0 && len(s.data) >= s.failFrom {
		return errors.New("broken pipe")
	}
	s.data = append(s.data, string(payload))
	return nil
}

func (s *memorySink) SendComment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = append(s.comments, text)
	return nil
}

func TestRelayForwardsChunksInOrder(t *testing.T) {
	upstream := strings.NewReader(
		"data: {\"finding\":\"a\"}\n\n" +
			"data: {\"finding\":\"b\"}\n\n" +
			"data: {\"finding\":\"c\"}\n\n" +
			"data: [DONE]\n\n")

	sink := newMemorySink()
	res, err := New().Run(context.Background(), upstream, sink)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 3, res.Chunks)

	require.Len(t, sink.data, 4)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, gjson.Get(sink.data[i], "finding").String())
		assert.Equal(t, int64(i), gjson.Get(sink.data[i], "seq").Int(), "chunks carry a gapless sequence")
	}
	assert.Equal(t, "[DONE]", sink.data[3])
}

func TestRelayForwardsUnparseableChunksVerbatim(t *testing.T) {
	upstream := strings.NewReader("data: not json at all\n\ndata: [DONE]\n\n")

	sink := newMemorySink()
	res, err := New().Run(context.Background(), upstream, sink)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	require.Len(t, sink.data, 2)
	assert.Equal(t, "not json at all", sink.data[0])
}

func TestRelayHandlesCRLFAndSplitEvents(t *testing.T) {
	// One event delivered across two reads, with \r\n\r\n separators.
	upstream := io.MultiReader(
		strings.NewReader("data: {\"fin"),
		strings.NewReader("ding\":\"x\"}\r\n\r\n"),
	)

	sink := newMemorySink()
	res, err := New().Run(context.Background(), upstream, sink)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	require.Len(t, sink.data, 2)
	assert.Equal(t, "x", gjson.Get(sink.data[0], "finding").String())
	assert.Equal(t, "[DONE]", sink.data[1])
}

func TestRelayTerminatesCleanEOFWithDone(t *testing.T) {
	// Upstream closes without sending the sentinel; the caller still gets one.
	upstream := strings.NewReader("data: {\"n\":1}\n\n")

	sink := newMemorySink()
	res, err := New().Run(context.Background(), upstream, sink)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	require.Len(t, sink.data, 2)
	assert.Equal(t, "[DONE]", sink.data[1])
}

func TestRelaySkipsCommentsAndEmptyData(t *testing.T) {
	upstream := strings.NewReader(
		": upstream keepalive\n\n" +
			"event: chunk\ndata: {\"n\":1}\n\n" +
			"data:\n\n" +
			"data: [DONE]\n\n")

	sink := newMemorySink()
	res, err := New().Run(context.Background(), upstream, sink)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Chunks)
	require.Len(t, sink.data, 2)
}

func TestRelayClientDisconnectAborts(t *testing.T) {
	upstream := strings.NewReader(
		"data: {\"n\":1}\n\n" +
			"data: {\"n\":2}\n\n" +
			"data: {\"n\":3}\n\n")

	sink := newMemorySink()
	sink.failFrom = 1

	res, err := New().Run(context.Background(), upstream, sink)
	require.NoError(t, err)

	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, CauseClientDisconnected, res.Cause)
	assert.Equal(t, 1, res.Chunks, "only the delivered chunk counts")
}

// stuckReader blocks until its context is cancelled, then fails the read.
type stuckReader struct {
	ctx context.Context
}

func (r *stuckReader) Read([]byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func TestRelayCancelledRequestMeansClientGone(t *testing.T) {
	// The request context dies with the client connection; a plain cancel is
	// a disconnect, not an internal abort.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	sink := newMemorySink()
	res, err := New().Run(ctx, &stuckReader{ctx: ctx}, sink)
	require.NoError(t, err)

	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, CauseClientDisconnected, res.Cause)
}

func TestRelayLifetimeExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	sink := newMemorySink()
	res, err := New().Run(ctx, &stuckReader{ctx: ctx}, sink)
	require.NoError(t, err)

	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, CauseLifetimeExceeded, res.Cause)
}

// errReader yields some data, then a hard failure.
type errReader struct {
	data string
	read bool
}

func (r *errReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("connection reset")
}

func TestRelayDoneEndsStreamBeforeLaterErrors(t *testing.T) {
	// A connection failure after the sentinel must not reclassify a fully
	// delivered stream as an upstream error.
	upstream := &errReader{data: "data: {\"n\":1}\n\ndata: [DONE]\n\n"}

	sink := newMemorySink()
	res, err := New().Run(context.Background(), upstream, sink)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, CauseNone, res.Cause)
	require.Len(t, sink.data, 2)
	assert.Equal(t, "[DONE]", sink.data[1])
}

func TestRelayUpstreamErrorSurfaces(t *testing.T) {
	upstream := &errReader{data: "data: {\"n\":1}\n\n"}

	sink := newMemorySink()
	res, err := New().Run(context.Background(), upstream, sink)

	require.Error(t, err)
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, CauseUpstreamError, res.Cause)
	assert.Equal(t, 1, res.Chunks, "chunks before the failure are delivered")
}

func TestRelayHeartbeat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(80 * time.Millisecond)
		cancel()
	}()

	sink := newMemorySink()
	_, err := New(WithHeartbeat(10 * time.Millisecond)).Run(ctx, &stuckReader{ctx: ctx}, sink)
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.NotEmpty(t, sink.comments, "idle stream must emit keepalives")
	assert.Empty(t, sink.data, "keepalives never surface as data events")
}

func TestRelayProgressObserver(t *testing.T) {
	upstream := strings.NewReader("data: {\"n\":1}\n\ndata: {\"n\":2}\n\n")

	var chunks int
	var bytes int64
	r := New(WithProgress(func(c int, b int64) {
		chunks += c
		bytes += b
	}))

	res, err := r.Run(context.Background(), upstream, newMemorySink())
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, chunks)
	assert.Equal(t, res.Bytes, bytes)
}

func TestSSESinkFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, ok := NewSSESink(rec)
	require.True(t, ok)

	require.NoError(t, sink.SendData([]byte(`{"n":1}`)))
	require.NoError(t, sink.SendComment("keepalive"))
	require.NoError(t, sink.SendData([]byte("[DONE]")))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	assert.Equal(t, "data: {\"n\":1}\n\n: keepalive\n\ndata: [DONE]\n\n", body)
}
