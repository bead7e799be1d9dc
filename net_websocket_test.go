package libstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	messageType int
	data        string
}

// newEchoServer starts a websocket server that pushes every message it reads
// into the returned channel. Closing kill makes the server drop the socket.
func newEchoServer(t *testing.T) (srv *httptest.Server, msgs chan received, kill chan struct{}) {
	t.Helper()

	return newPingCountingServer(t, nil)
}

// newPingCountingServer is newEchoServer that also counts received pings.
func newPingCountingServer(t *testing.T, pings *atomic.Int32) (srv *httptest.Server, msgs chan received, kill chan struct{}) {
	t.Helper()

	msgs = make(chan received, 16)
	kill = make(chan struct{})
	upgrader := websocket.Upgrader{}

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if pings != nil {
			conn.SetPingHandler(func(appData string) error {
				pings.Add(1)
				return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
			})
		}

		go func() {
			<-kill
			_ = conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"),
			)
			_ = conn.Close()
		}()

		for {
			mt, bts, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msgs <- received{messageType: mt, data: string(bts)}
		}
	}))
	t.Cleanup(srv.Close)

	return srv, msgs, kill
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestSink(t *testing.T, rawURL string, opts ...WebsocketSinkOption) *WebsocketSink {
	t.Helper()

	getter, err := StaticOpenConnectionParams(rawURL, nil)
	require.NoError(t, err)

	opts = append([]WebsocketSinkOption{WithDialBackoff(NoBackoff, 2)}, opts...)
	return NewWebsocketSink(nil, NewOpenConnectionParamsRepo(nil, getter), nil, opts...)
}

func nextMessage(t *testing.T, msgs <-chan received) received {
	t.Helper()

	select {
	case m := <-msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return received{}
	}
}

func TestWebsocketSinkDeliversChunksInOrder(t *testing.T) {
	srv, msgs, _ := newEchoServer(t)
	sink := newTestSink(t, wsURL(srv))
	require.NoError(t, sink.Open(context.Background()))
	defer sink.Close()

	w := NewWritable(WithSink(sink))
	require.NoError(t, sink.Bind(w))

	w.Write("hello", "", nil)
	w.Write([]byte{0x01, 0x02}, "", nil)
	w.Write(map[string]int{"n": 1}, "", nil)

	n, err := w.Flush()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, received{websocket.TextMessage, "hello"}, nextMessage(t, msgs))
	assert.Equal(t, received{websocket.BinaryMessage, "\x01\x02"}, nextMessage(t, msgs))
	assert.Equal(t, received{websocket.TextMessage, `{"n":1}`}, nextMessage(t, msgs))
}

func TestWebsocketSinkClosedWhenWritableDestroyed(t *testing.T) {
	srv, _, _ := newEchoServer(t)
	sink := newTestSink(t, wsURL(srv))
	require.NoError(t, sink.Open(context.Background()))

	w := NewWritable(WithSink(sink))
	require.NoError(t, sink.Bind(w))

	require.NoError(t, w.Destroy(nil))

	select {
	case <-sink.CloseChan():
	case <-time.After(2 * time.Second):
		t.Fatal("sink was not closed")
	}
	assert.ErrorIs(t, sink.CloseErr(), ErrTerminated)
	assert.ErrorIs(t, sink.WriteChunk(Chunk{Value: "late"}), ErrConnectionClosed)
}

func TestWebsocketSinkBindDestroyedWritable(t *testing.T) {
	srv, _, _ := newEchoServer(t)
	sink := newTestSink(t, wsURL(srv))
	require.NoError(t, sink.Open(context.Background()))

	w := NewWritable(WithSink(sink))
	require.NoError(t, w.Destroy(nil))

	require.NoError(t, sink.Bind(w))

	select {
	case <-sink.CloseChan():
	case <-time.After(2 * time.Second):
		t.Fatal("sink still open after binding a destroyed writable")
	}
	assert.ErrorIs(t, sink.CloseErr(), ErrTerminated)
}

func TestWebsocketSinkBindWithoutRoomForCloseListener(t *testing.T) {
	srv, _, _ := newEchoServer(t)
	sink := newTestSink(t, wsURL(srv))
	require.NoError(t, sink.Open(context.Background()))
	defer sink.Close()

	w := NewWritable(WithSink(sink), WithRegistryOptions(WithMaxListeners(0)))

	err := sink.Bind(w)
	assert.ErrorIs(t, err, ErrListenerDropped)
	assert.Equal(t, 0, w.OnceListenerCount(EventClose))
}

func TestWebsocketSinkPingsOutliveOpenContext(t *testing.T) {
	var pings atomic.Int32
	srv, _, _ := newPingCountingServer(t, &pings)
	sink := newTestSink(t, wsURL(srv), WithPingInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, sink.Open(ctx))
	defer sink.Close()
	cancel()

	require.Eventually(t, func() bool {
		return pings.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-sink.CloseChan():
		t.Fatal("sink closed when the open context was canceled")
	default:
	}
}

func TestWebsocketSinkPeerCloseDestroysWritable(t *testing.T) {
	srv, _, kill := newEchoServer(t)
	sink := newTestSink(t, wsURL(srv))
	require.NoError(t, sink.Open(context.Background()))

	w := NewWritable(WithSink(sink))
	closed := make(chan struct{})
	w.Once(EventClose, ListenerFuncNoErr(func(...any) { close(closed) }))
	require.NoError(t, sink.Bind(w))

	close(kill)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("writable was not destroyed")
	}
	assert.True(t, w.Destroyed())
	assert.ErrorIs(t, w.Errored(), ErrConnectionClosed)
}

func TestWebsocketSinkGivesUpAfterAttempts(t *testing.T) {
	srv, _, _ := newEchoServer(t)
	url := wsURL(srv)
	srv.Close()

	sink := newTestSink(t, url)
	err := sink.Open(context.Background())

	var unrecoverable *ErrUnrecoverableConnection
	require.ErrorAs(t, err, &unrecoverable)
	assert.ErrorIs(t, err, ErrCannotConnect)

	// Open only dials once.
	assert.Equal(t, err, sink.Open(context.Background()))
}

func TestWebsocketSinkRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sink := newTestSink(t, wsURL(srv), WithDialBackoff(NoBackoff, 1))
	err := sink.Open(context.Background())

	assert.ErrorIs(t, err, ErrRateLimit)
}

func TestWebsocketSinkOpenHonorsContext(t *testing.T) {
	srv, _, _ := newEchoServer(t)
	url := wsURL(srv)
	srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := newTestSink(t, url, WithDialBackoff(func(int) time.Duration { return time.Hour }, 0))
	err := sink.Open(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestWebsocketSinkWriteBeforeOpen(t *testing.T) {
	sink := newTestSink(t, "ws://127.0.0.1:1/never")

	err := sink.WriteChunk(Chunk{Value: "x"})
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestWebsocketSinkFromConfig(t *testing.T) {
	srv, msgs, _ := newEchoServer(t)
	cfg := &Config{
		HighWaterMark:   DefaultHighWaterMark,
		DefaultEncoding: DefaultEncoding,
		MaxListeners:    DefaultMaxListeners,
		Websocket: WebsocketConfig{
			URL:          wsURL(srv),
			DialAttempts: 1,
			PingInterval: 10 * time.Millisecond,
			WriteTimeout: time.Second,
		},
	}

	sink, err := cfg.NewWebsocketSink(nil)
	require.NoError(t, err)
	require.NoError(t, sink.Open(context.Background()))
	defer sink.Close()

	w := NewWritableFromConfig(cfg, WithSink(sink))
	require.NoError(t, w.End("done", "", nil))
	_, err = w.Flush()
	require.NoError(t, err)

	assert.Equal(t, received{websocket.TextMessage, "done"}, nextMessage(t, msgs))
}
