package libstream

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	// EventNewListener is emitted with (name, listener) right before a
	// persistent listener is added.
	EventNewListener = "newListener"
	// EventRemoveListener is emitted with (name, listener) right after a
	// persistent listener is removed.
	EventRemoveListener = "removeListener"

	DefaultMaxListeners = 10
	// MaxEmitArgs is the largest number of arguments Emit forwards.
	MaxEmitArgs = 5
)

type (
	// SubscribeOptions selects the list a listener goes to and where.
	SubscribeOptions struct {
		// Once puts the listener in the one-shot list.
		Once bool
		// Prepend inserts the listener before every existing one.
		Prepend bool
	}

	RegistryOption func(*EventRegistry)

	// EventRegistry maps event names to ordered listener lists. Each name has
	// a persistent list and a one-shot list. Only names known to the registry
	// accept listeners; newListener and removeListener are always known.
	//
	// Listeners are never called with the lock held, so they may subscribe,
	// unsubscribe or emit on the same registry.
	EventRegistry struct {
		maxListeners uint
		persistent   map[string][]Listener
		once         map[string][]Listener
		events       []string
		logger       Logger
		lock         sync.RWMutex
		closeOnce    sync.Once
	}
)

func WithMaxListeners(n uint) RegistryOption {
	return func(r *EventRegistry) {
		r.maxListeners = n
	}
}

// WithEvents registers extra event names at construction.
func WithEvents(names ...string) RegistryOption {
	return func(r *EventRegistry) {
		for _, name := range names {
			r.addEvent(name)
		}
	}
}

func WithRegistryLogger(l Logger) RegistryOption {
	return func(r *EventRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewEventRegistry creates a registry that knows newListener and
// removeListener plus whatever WithEvents adds.
func NewEventRegistry(opts ...RegistryOption) *EventRegistry {
	r := &EventRegistry{
		maxListeners: DefaultMaxListeners,
		persistent:   make(map[string][]Listener),
		once:         make(map[string][]Listener),
		logger:       nopLogger(),
	}
	r.addEvent(EventNewListener)
	r.addEvent(EventRemoveListener)

	for _, opt := range opts {
		opt(r)
	}

	r.logger = r.logger.WithField("component", "event_registry")

	return r
}

// AddEvent registers name with empty listener lists. Registering a known
// name again has no effect.
func (r *EventRegistry) AddEvent(name string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.addEvent(name)
}

func (r *EventRegistry) addEvent(name string) {
	if _, ok := r.persistent[name]; ok {
		return
	}
	r.events = append(r.events, name)
	r.persistent[name] = nil
	r.once[name] = nil
}

// Subscribe adds listener to the persistent or one-shot list of name.
// Unknown names and full lists drop the subscription silently. Persistent
// subscriptions first emit newListener; the error returned is the one
// produced by newListener listeners.
func (r *EventRegistry) Subscribe(name string, listener Listener, opts SubscribeOptions) error {
	if listener == nil {
		return nil
	}

	if !r.canSubscribe(name, opts.Once) {
		return nil
	}

	var err error
	if !opts.Once {
		_, err = r.Emit(EventNewListener, name, listener)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	// newListener listeners may have changed the registry in the meantime.
	if !r.canSubscribeLocked(name, opts.Once) {
		return err
	}

	lists := r.persistent
	if opts.Once {
		lists = r.once
	}

	if opts.Prepend {
		list := make([]Listener, 0, len(lists[name])+1)
		list = append(list, listener)
		lists[name] = append(list, lists[name]...)
	} else {
		lists[name] = append(lists[name], listener)
	}

	return err
}

func (r *EventRegistry) canSubscribe(name string, once bool) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.canSubscribeLocked(name, once)
}

func (r *EventRegistry) canSubscribeLocked(name string, once bool) bool {
	lists := r.persistent
	if once {
		lists = r.once
	}

	list, ok := lists[name]
	if !ok {
		r.logger.Debugf("ignoring subscription to unknown event %q", name)
		return false
	}

	if uint(len(list)) >= r.maxListeners {
		r.logger.Warnf("max listeners (%d) reached for %q, subscription dropped", r.maxListeners, name)
		return false
	}

	return true
}

// On appends a persistent listener.
func (r *EventRegistry) On(name string, listener Listener) error {
	return r.Subscribe(name, listener, SubscribeOptions{})
}

// AddListener is an alias for On.
func (r *EventRegistry) AddListener(name string, listener Listener) error {
	return r.On(name, listener)
}

// Once appends a listener that fires on the next emission of name only.
func (r *EventRegistry) Once(name string, listener Listener) error {
	return r.Subscribe(name, listener, SubscribeOptions{Once: true})
}

func (r *EventRegistry) PrependListener(name string, listener Listener) error {
	return r.Subscribe(name, listener, SubscribeOptions{Prepend: true})
}

func (r *EventRegistry) PrependOnceListener(name string, listener Listener) error {
	return r.Subscribe(name, listener, SubscribeOptions{Once: true, Prepend: true})
}

// Off removes the first persistent occurrence of listener for name and then
// emits removeListener. One-shot listeners are not affected.
func (r *EventRegistry) Off(name string, listener Listener) error {
	if !r.removeFirst(name, listener) {
		return nil
	}

	_, err := r.Emit(EventRemoveListener, name, listener)
	return err
}

// RemoveListener is an alias for Off.
func (r *EventRegistry) RemoveListener(name string, listener Listener) error {
	return r.Off(name, listener)
}

func (r *EventRegistry) removeFirst(name string, listener Listener) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	list := r.persistent[name]
	for i, l := range list {
		if !sameListener(l, listener) {
			continue
		}

		next := make([]Listener, 0, len(list)-1)
		next = append(next, list[:i]...)
		r.persistent[name] = append(next, list[i+1:]...)
		return true
	}

	return false
}

// RemoveAllListeners clears the persistent lists of the given names, or of
// every known name when none is given. One-shot lists are kept and no
// removeListener event is emitted.
func (r *EventRegistry) RemoveAllListeners(names ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if len(names) == 0 {
		names = r.events
	}

	for _, name := range names {
		if _, ok := r.persistent[name]; ok {
			r.persistent[name] = nil
		}
	}
}

// Emit calls the one-shot listeners of name, which are dropped beforehand,
// and then the persistent ones, in list order. It reports whether any
// listener was called. Every listener runs even if a previous one failed;
// failures come back combined as *ListenerError values.
func (r *EventRegistry) Emit(name string, args ...any) (bool, error) {
	if len(args) > MaxEmitArgs {
		return false, errors.Wrapf(ErrTooManyArgs, "emit %q got %d, max %d", name, len(args), MaxEmitArgs)
	}

	r.lock.Lock()
	onceListeners := r.once[name]
	if len(onceListeners) > 0 {
		r.once[name] = nil
	}
	r.lock.Unlock()

	var errs error
	for _, l := range onceListeners {
		errs = multierr.Append(errs, wrapListenerError(name, l.Call(args...)))
	}

	persistent := r.Listeners(name)
	for _, l := range persistent {
		errs = multierr.Append(errs, wrapListenerError(name, l.Call(args...)))
	}

	if errs != nil {
		r.logger.Debugf("emit %q: %s", name, errs)
	}

	return len(onceListeners) > 0 || len(persistent) > 0, errs
}

// ListenerCount returns the number of persistent listeners for name.
func (r *EventRegistry) ListenerCount(name string) int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.persistent[name])
}

// OnceListenerCount returns the number of pending one-shot listeners for name.
func (r *EventRegistry) OnceListenerCount(name string) int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.once[name])
}

// Listeners returns a copy of the persistent listeners for name.
func (r *EventRegistry) Listeners(name string) []Listener {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := r.persistent[name]
	if len(list) == 0 {
		return nil
	}

	out := make([]Listener, len(list))
	copy(out, list)
	return out
}

// RawListeners is an alias for Listeners.
func (r *EventRegistry) RawListeners(name string) []Listener {
	return r.Listeners(name)
}

// EventNames returns the known event names in registration order.
func (r *EventRegistry) EventNames() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *EventRegistry) GetMaxListeners() uint {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.maxListeners
}

// SetMaxListeners changes the per-list cap. Values outside [0, MaxUint32]
// are ignored.
func (r *EventRegistry) SetMaxListeners(n int) {
	if n < 0 || uint64(n) > math.MaxUint32 {
		r.logger.Debugf("ignoring invalid max listeners %d", n)
		return
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	r.maxListeners = uint(n)
}

// Close drops every listener and forgets every event name. Only the first
// call has any effect.
func (r *EventRegistry) Close() {
	r.closeOnce.Do(func() {
		r.lock.Lock()
		defer r.lock.Unlock()

		clear(r.persistent)
		clear(r.once)
		r.events = nil
	})
}
