package libstream

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

type (
	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	WebsocketSinkOption func(*WebsocketSink)

	// WebsocketSink is a Sink that sends every chunk as one websocket message.
	// Strings and text encoded bytes go out as text messages, other bytes as
	// binary messages, anything else JSON encoded as text.
	WebsocketSink struct {
		errAdapters  ErrorAdapters
		paramsRepo   OpenConnectionParamsRepo
		logger       Logger
		dialer       *websocket.Dialer
		calculator   BackoffCalculator
		dialAttempts int
		pingInterval time.Duration
		writeTimeout time.Duration

		openOnce sync.Once
		openErr  error

		writeMu sync.Mutex
		conn    *websocket.Conn

		closeC          chan struct{}
		closeOnce       sync.Once
		closeReason     error
		closeReasonOnce sync.Once
	}
)

var _ Sink = (*WebsocketSink)(nil)

func WithErrorAdapters(adapters ErrorAdapters) WebsocketSinkOption {
	return func(w *WebsocketSink) {
		w.errAdapters = adapters
	}
}

// WithDialBackoff sets the wait between dial attempts and how many attempts
// Open makes before giving up. attempts <= 0 retries until ctx is done.
func WithDialBackoff(calculator BackoffCalculator, attempts int) WebsocketSinkOption {
	return func(w *WebsocketSink) {
		if calculator != nil {
			w.calculator = calculator
		}
		w.dialAttempts = attempts
	}
}

// WithPingInterval makes the sink send a ping every interval while open.
func WithPingInterval(interval time.Duration) WebsocketSinkOption {
	return func(w *WebsocketSink) {
		w.pingInterval = interval
	}
}

func WithWriteTimeout(timeout time.Duration) WebsocketSinkOption {
	return func(w *WebsocketSink) {
		if timeout > 0 {
			w.writeTimeout = timeout
		}
	}
}

func NewWebsocketSink(
	dialer *websocket.Dialer,
	paramsRepo OpenConnectionParamsRepo,
	logger Logger,
	opts ...WebsocketSinkOption,
) *WebsocketSink {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = nopLogger()
	}

	w := &WebsocketSink{
		paramsRepo:   paramsRepo,
		dialer:       dialer,
		logger:       logger.WithField("sink", "websocket"),
		calculator:   ExponentialBackoffSeconds,
		dialAttempts: 5,
		writeTimeout: time.Second,
		closeC:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Open dials the peer, retrying with backoff. ctx bounds dialing only: once
// connected, the read loop and keep-alive pings run until Close or until the
// peer goes away. Only the first call dials; later calls return the first
// result.
func (w *WebsocketSink) Open(ctx context.Context) error {
	w.openOnce.Do(func() {
		w.openErr = w.open(ctx)
	})
	return w.openErr
}

func (w *WebsocketSink) open(ctx context.Context) error {
	conn, err := w.dialWithBackoff(ctx)
	if err != nil {
		return err
	}

	w.writeMu.Lock()
	select {
	case <-w.closeC:
		w.writeMu.Unlock()
		_ = conn.Close()
		return ErrTerminated
	default:
	}
	w.conn = conn
	w.writeMu.Unlock()

	go w.read(conn)
	if w.pingInterval > 0 {
		go w.keepAlive()
	}

	return nil
}

func (w *WebsocketSink) dialWithBackoff(ctx context.Context) (*websocket.Conn, error) {
	for attempts := 1; ; attempts++ {
		p, err := w.paramsRepo.Get(ctx)
		if err != nil {
			return nil, err
		}

		conn, resp, err := w.dialer.DialContext(ctx, p.URL.String(), p.Header)
		if err = w.handleDialError(conn, resp, err); err == nil {
			w.logger.Debugf("success opening connection to %s", p.URL.String())
			return conn, nil
		}

		if !errors.Is(err, ErrCannotConnect) && !errors.Is(err, ErrRateLimit) {
			return nil, err
		}

		if w.dialAttempts > 0 && attempts >= w.dialAttempts {
			w.logger.Errorf("giving up on %s after %d attempts: %s", p.URL.String(), attempts, err)
			return nil, WrapErrorUnrecoverableConnection(err, p.URL)
		}

		ttw := w.calculator(attempts)
		w.logger.Infof("cannot connect after %s, waiting %s", err, ttw)
		if err := wait(ctx, ttw); err != nil {
			return nil, err
		}
	}
}

// WriteChunk sends c as a single message.
func (w *WebsocketSink) WriteChunk(c Chunk) error {
	frame, data, err := c.Frame()
	if err != nil {
		return errors.Wrapf(err, "cannot encode %s", c)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	select {
	case <-w.closeC:
		return ErrConnectionClosed
	default:
	}

	if w.conn == nil {
		return errors.Wrap(ErrConnectionClosed, "sink is not open")
	}

	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))

	messageType := websocket.TextMessage
	if frame.IsBinary() {
		messageType = websocket.BinaryMessage
	}

	if err := w.conn.WriteMessage(messageType, data); err != nil {
		w.logger.Errorf("error occurred on websocket write: %s", err)
		return errors.Wrap(ErrConnectionClosed, err.Error())
	}

	w.logger.Debugf("=> [%d] %d bytes", messageType, len(data))
	return nil
}

// Bind ties the lifetime of wr to the connection: the socket is closed once
// wr emits close, and wr is destroyed once the socket goes away. A clean
// local Close destroys wr without an error.
//
// Binding a destroyed writable closes the socket right away. Bind fails with
// ErrListenerDropped when wr has no room left for the close listener.
func (w *WebsocketSink) Bind(wr *Writable) error {
	if wr.Destroyed() {
		w.Close()
		return nil
	}

	before := wr.OnceListenerCount(EventClose)
	err := wr.Once(EventClose, ListenerFuncNoErr(func(...any) {
		w.Close()
	}))
	if err != nil {
		return err
	}
	if wr.OnceListenerCount(EventClose) <= before {
		// Destroyed in between: close already fired and consumed the list.
		if wr.Destroyed() {
			w.Close()
			return nil
		}
		return errors.Wrapf(ErrListenerDropped, "max listeners (%d) reached for %q", wr.GetMaxListeners(), EventClose)
	}

	go func() {
		<-w.closeC

		reason := w.CloseErr()
		if errors.Is(reason, ErrTerminated) {
			reason = nil
		}
		if err := wr.Destroy(reason); err != nil {
			w.logger.Warnf("destroying bound stream: %s", err)
		}
	}()

	return nil
}

// Close terminates the connection. It is safe to call more than once.
func (w *WebsocketSink) Close() {
	w.setCloseReason(ErrTerminated)
	w.safeClose()
}

// CloseChan returns a channel that is closed once the connection is gone.
func (w *WebsocketSink) CloseChan() <-chan struct{} {
	return w.closeC
}

// CloseErr explains why the connection was closed. ErrTerminated means it
// was closed from this side.
func (w *WebsocketSink) CloseErr() error {
	select {
	case <-w.closeC:
		return w.closeReason
	default:
		return nil
	}
}

func (w *WebsocketSink) read(conn *websocket.Conn) {
	defer w.safeClose()

	for {
		select {
		case <-w.closeC:
			return
		default:
		}

		messageType, bts, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.setCloseReason(ErrConnectionClosed)
			} else {
				w.setCloseReason(errors.Wrap(
					ErrConnectionClosed,
					"error occurred on websocket read: "+err.Error(),
				))
			}
			return
		}

		w.logger.Debugf("<= [%d] %d bytes ignored", messageType, len(bts))
	}
}

func (w *WebsocketSink) keepAlive() {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.closeC:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			deadline := time.Now().Add(w.writeTimeout)
			err := w.conn.WriteControl(websocket.PingMessage, nil, deadline)
			w.writeMu.Unlock()

			w.logger.Debugln("=> [PING]")
			if err != nil {
				w.logger.Warnf("ping failed: %s", err)
			}
		}
	}
}

func (w *WebsocketSink) safeClose() {
	w.closeOnce.Do(w.close)
}

func (w *WebsocketSink) close() {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if w.conn != nil {
		deadline := time.Now().Add(w.writeTimeout)
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		_ = w.conn.Close()
	}

	w.setCloseReason(ErrConnectionClosed)
	close(w.closeC)
}

func (w *WebsocketSink) setCloseReason(err error) {
	w.closeReasonOnce.Do(func() {
		w.closeReason = err
	})
}

func (w *WebsocketSink) handleDialError(conn *websocket.Conn, resp *http.Response, err error) error {
	if w.errAdapters.OnDial != nil {
		return w.errAdapters.OnDial(conn, resp, err)
	}

	if err == nil {
		return nil
	}

	// 1. Check HTTP errors first
	var msg string

	if resp != nil {
		if resp.Body != nil {
			bts, readErr := io.ReadAll(resp.Body)
			if readErr == nil {
				msg = string(bts)
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return errors.Wrap(ErrRateLimit, msg)
		}
	}

	// 2. Network errors
	return errors.Wrap(ErrCannotConnect, err.Error())
}
