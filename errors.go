package libstream

import (
	"fmt"
	"net/url"

	"github.com/pkg/errors"
)

var (
	ErrStreamClosed     = errors.New("stream is no longer writable")
	ErrInvalidChunk     = errors.New("chunk must not be nil")
	ErrTooManyArgs      = errors.New("too many emit arguments")
	ErrListenerDropped  = errors.New("listener was not registered")
	ErrConnectionClosed = errors.New("connection has been closed")
	ErrCannotConnect    = errors.New("connection cannot be established")
	ErrTerminated       = errors.New("program exit")
	ErrRateLimit        = errors.New("rate limit exceeded")
)

// ListenerError is returned by Emit when a listener fails. Several of them
// are combined with multierr when more than one listener fails during the
// same emission.
type ListenerError struct {
	Event string
	Err   error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener for %q failed: %s", e.Event, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

func wrapListenerError(event string, err error) error {
	if err == nil {
		return nil
	}
	return &ListenerError{Event: event, Err: err}
}

type ErrUnrecoverableConnection struct {
	err error
	url url.URL
}

func (e ErrUnrecoverableConnection) Error() string {
	return fmt.Sprintf("Unrecoverable connection error: %s to %s", e.err, e.url.String())
}

func (e ErrUnrecoverableConnection) Unwrap() error { return e.err }

func WrapErrorUnrecoverableConnection(err error, url url.URL) *ErrUnrecoverableConnection {
	if err == nil {
		return nil
	}
	return &ErrUnrecoverableConnection{
		err: err,
		url: url,
	}
}
