package libstream

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	EventClose  = "close"
	EventDrain  = "drain"
	EventError  = "error"
	EventFinish = "finish"
	EventPipe   = "pipe"
	EventUnpipe = "unpipe"

	DefaultHighWaterMark = 10
)

// WritableEvents are registered on the registry of every Writable.
var WritableEvents = []string{
	EventClose,
	EventDrain,
	EventError,
	EventFinish,
	EventPipe,
	EventUnpipe,
}

type writableState uint8

const (
	stateWritable writableState = iota
	stateEnded
	stateDestroyed
	stateClosed
)

var writableTransitions = map[writableState][]writableState{
	stateWritable:  {stateEnded, stateDestroyed},
	stateEnded:     {stateDestroyed},
	stateDestroyed: {stateClosed},
}

func (s writableState) canTransition(to writableState) bool {
	for _, next := range writableTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s writableState) String() string {
	switch s {
	case stateWritable:
		return "writable"
	case stateEnded:
		return "ended"
	case stateDestroyed:
		return "destroyed"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type (
	// Callback is invoked once with the outcome of a Write or End call.
	Callback func(err error)

	WritableOption func(*writableOptions)

	writableOptions struct {
		highWaterMark uint
		encoding      string
		sink          Sink
		logger        Logger
		registryOpts  []RegistryOption
	}

	bufferedChunk struct {
		chunk Chunk
		size  uint
	}

	// Writable is a single-writer stream. Written chunks are buffered until
	// Flush hands them to the sink; the stream never drains on its own.
	// Stream events (close, drain, error, finish, pipe, unpipe) are emitted
	// through the embedded EventRegistry.
	Writable struct {
		*EventRegistry

		mu      sync.Mutex
		flushMu sync.Mutex

		state     writableState
		ended     bool
		corkDepth uint
		needDrain bool
		err       error

		highWaterMark  uint
		buffer         []bufferedChunk
		bufferedLength uint
		encoding       string

		sink   Sink
		logger Logger
	}
)

func WithHighWaterMark(n uint) WritableOption {
	return func(o *writableOptions) {
		o.highWaterMark = n
	}
}

func WithDefaultEncoding(encoding string) WritableOption {
	return func(o *writableOptions) {
		if encoding != "" {
			o.encoding = encoding
		}
	}
}

// WithSink sets where Flush delivers chunks. Defaults to DiscardSink.
func WithSink(s Sink) WritableOption {
	return func(o *writableOptions) {
		if s != nil {
			o.sink = s
		}
	}
}

func WithLogger(l Logger) WritableOption {
	return func(o *writableOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRegistryOptions configures the embedded registry.
func WithRegistryOptions(opts ...RegistryOption) WritableOption {
	return func(o *writableOptions) {
		o.registryOpts = append(o.registryOpts, opts...)
	}
}

func NewWritable(opts ...WritableOption) *Writable {
	o := writableOptions{
		highWaterMark: DefaultHighWaterMark,
		encoding:      DefaultEncoding,
		sink:          DiscardSink,
		logger:        nopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	registryOpts := append([]RegistryOption{
		WithMaxListeners(DefaultMaxListeners),
		WithRegistryLogger(o.logger),
		WithEvents(WritableEvents...),
	}, o.registryOpts...)

	return &Writable{
		EventRegistry: NewEventRegistry(registryOpts...),
		state:         stateWritable,
		highWaterMark: o.highWaterMark,
		encoding:      o.encoding,
		sink:          o.sink,
		logger:        o.logger.WithField("component", "writable"),
	}
}

// transition moves the stream to the given state if the state table allows
// it. Callers hold w.mu.
func (w *Writable) transition(to writableState) bool {
	if !w.state.canTransition(to) {
		return false
	}

	w.logger.Debugf("%s -> %s", w.state, to)
	w.state = to
	if to == stateEnded {
		w.ended = true
	}
	return true
}

// Cork makes Flush hold buffered chunks back until a matching Uncork.
func (w *Writable) Cork() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.corkDepth++
}

func (w *Writable) Uncork() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.corkDepth > 0 {
		w.corkDepth--
	}
}

// Write buffers chunk and reports whether the caller may keep writing
// before a drain event. Writing after End or Destroy fails with
// ErrStreamClosed. An empty encoding means the default encoding, or
// "buffer" for byte slices. cb, if given, receives the outcome.
func (w *Writable) Write(chunk any, encoding string, cb Callback) (bool, error) {
	ok, err := w.write(chunk, encoding)
	if cb != nil {
		cb(err)
	}
	return ok, err
}

func (w *Writable) write(chunk any, encoding string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case stateEnded:
		return false, errors.Wrap(ErrStreamClosed, "write after end")
	case stateDestroyed, stateClosed:
		return false, errors.Wrap(ErrStreamClosed, "write after destroy")
	}

	if chunk == nil {
		return false, ErrInvalidChunk
	}

	if encoding == "" {
		if _, isBytes := chunk.([]byte); isBytes {
			encoding = "buffer"
		} else {
			encoding = w.encoding
		}
	}

	c := Chunk{Value: chunk, Encoding: encoding}
	size := uint(max(c.Len(), 0))
	w.buffer = append(w.buffer, bufferedChunk{chunk: c, size: size})
	w.bufferedLength += size

	if w.bufferedLength > w.highWaterMark {
		w.needDrain = true
		return false, nil
	}
	return true, nil
}

// Flush hands buffered chunks to the sink in write order and returns how
// many were delivered. It does nothing while the stream is corked or
// destroyed. A sink failure destroys the stream with that error. Once the
// buffer is back under the high-water mark after a Write returned false,
// drain is emitted.
func (w *Writable) Flush() (int, error) {
	flushed, sinkErr := w.flush()
	if sinkErr != nil {
		w.logger.Errorf("sink failed after %d chunks: %s", flushed, sinkErr)
		return flushed, multierr.Append(
			errors.Wrap(sinkErr, "flush"),
			w.Destroy(sinkErr),
		)
	}

	return flushed, w.emitDrain()
}

func (w *Writable) flush() (int, error) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	flushed := 0
	for {
		w.mu.Lock()
		if w.corkDepth > 0 || w.state >= stateDestroyed || len(w.buffer) == 0 {
			w.mu.Unlock()
			return flushed, nil
		}
		next := w.buffer[0]
		w.mu.Unlock()

		if err := w.sink.WriteChunk(next.chunk); err != nil {
			return flushed, err
		}

		w.mu.Lock()
		// Destroy may have dropped the buffer while the sink was busy.
		if w.state < stateDestroyed && len(w.buffer) > 0 {
			w.buffer[0] = bufferedChunk{}
			w.buffer = w.buffer[1:]
			w.bufferedLength -= min(next.size, w.bufferedLength)
		}
		w.mu.Unlock()

		flushed++
	}
}

func (w *Writable) emitDrain() error {
	w.mu.Lock()
	emit := w.needDrain &&
		w.bufferedLength <= w.highWaterMark &&
		w.state == stateWritable
	if emit {
		w.needDrain = false
	}
	w.mu.Unlock()

	if !emit {
		return nil
	}

	_, err := w.EventRegistry.Emit(EventDrain)
	return err
}

// End optionally writes a last chunk, marks the stream as ended, calls cb
// and emits finish. Ending an ended stream does nothing; ending a destroyed
// one fails with ErrStreamClosed.
func (w *Writable) End(chunk any, encoding string, cb Callback) error {
	if err := w.checkEndable(); err != nil || w.WritableEnded() {
		if cb != nil && err != nil {
			cb(err)
		}
		return err
	}

	if chunk != nil {
		if _, err := w.Write(chunk, encoding, nil); err != nil {
			if cb != nil {
				cb(err)
			}
			return err
		}
	}

	w.mu.Lock()
	ok := w.transition(stateEnded)
	w.mu.Unlock()

	if !ok {
		// Lost a race against another End or a Destroy.
		return w.checkEndable()
	}

	if cb != nil {
		cb(nil)
	}

	_, err := w.EventRegistry.Emit(EventFinish)
	return err
}

func (w *Writable) checkEndable() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state >= stateDestroyed {
		return errors.Wrap(ErrStreamClosed, "end after destroy")
	}
	return nil
}

// Destroy drops buffered chunks and makes the stream unusable. If err is not
// nil it is kept for Errored and emitted as error; close is emitted last.
// Only the first call has any effect.
func (w *Writable) Destroy(err error) error {
	w.mu.Lock()
	if !w.transition(stateDestroyed) {
		w.mu.Unlock()
		return nil
	}
	w.err = err
	w.buffer = nil
	w.bufferedLength = 0
	w.needDrain = false
	w.mu.Unlock()

	var errs error
	if err != nil {
		_, emitErr := w.EventRegistry.Emit(EventError, err)
		errs = multierr.Append(errs, emitErr)
	}

	w.mu.Lock()
	w.transition(stateClosed)
	w.mu.Unlock()

	_, emitErr := w.EventRegistry.Emit(EventClose)
	return multierr.Append(errs, emitErr)
}

// SetDefaultEncoding changes the encoding recorded for chunks written
// without one. It does not affect buffering.
func (w *Writable) SetDefaultEncoding(encoding string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.encoding = encoding
}

func (w *Writable) DefaultEncoding() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.encoding
}

func (w *Writable) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state == stateClosed
}

func (w *Writable) Destroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state >= stateDestroyed
}

// Errored returns the error the stream was destroyed with, if any.
func (w *Writable) Errored() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.err
}

// Writable reports whether the stream is neither destroyed nor closed.
func (w *Writable) Writable() bool {
	return !w.Destroyed()
}

func (w *Writable) WritableEnded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.ended
}

// WritableFinished matches WritableEnded: finish is emitted by End itself,
// without waiting for buffered chunks to be flushed.
func (w *Writable) WritableFinished() bool {
	return w.WritableEnded()
}

func (w *Writable) WritableCorked() uint {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.corkDepth
}

func (w *Writable) WritableHighWaterMark() uint {
	return w.highWaterMark
}

func (w *Writable) WritableLength() uint {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.bufferedLength
}

func (w *Writable) WritableNeedDrain() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.bufferedLength > w.highWaterMark
}

func (w *Writable) WritableObjectMode() bool {
	return true
}
