package libstream

import (
	"reflect"
)

// Listener is anything the registry can call when an event fires. The
// registry tells listeners apart by identity, so implementations should be
// pointer types (see ListenerFunc).
type Listener interface {
	Call(args ...any) error
}

type funcListener struct {
	fn func(args ...any) error
}

func (l *funcListener) Call(args ...any) error {
	return l.fn(args...)
}

// ListenerFunc wraps fn into a Listener. Every call returns a listener with
// its own identity, so keep the returned value around to unsubscribe it later.
func ListenerFunc(fn func(args ...any) error) Listener {
	return &funcListener{fn: fn}
}

// ListenerFuncNoErr is ListenerFunc for callbacks that cannot fail.
func ListenerFuncNoErr(fn func(args ...any)) Listener {
	return &funcListener{fn: func(args ...any) error {
		fn(args...)
		return nil
	}}
}

// sameListener reports whether a and b are the same listener. Values whose
// dynamic type is not comparable never match.
func sameListener(a, b Listener) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
