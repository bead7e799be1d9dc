package libstream

// EventEmitter is the listener-management surface shared by EventRegistry
// and everything that embeds one, such as Writable.
type EventEmitter interface {
	// On registers a persistent listener for the given event.
	On(name string, listener Listener) error

	// Once registers a listener that is dropped right before its first call.
	Once(name string, listener Listener) error

	// PrependListener registers a persistent listener ahead of the others.
	PrependListener(name string, listener Listener) error

	// PrependOnceListener registers a one-shot listener ahead of the others.
	PrependOnceListener(name string, listener Listener) error

	// Off removes the given persistent listener from the given event.
	Off(name string, listener Listener) error

	// RemoveAllListeners removes persistent listeners of the given events,
	// or of all events when none is given.
	RemoveAllListeners(names ...string)

	// Emit triggers all listeners registered for the given event synchronously.
	Emit(name string, args ...any) (bool, error)

	ListenerCount(name string) int
	Listeners(name string) []Listener
	EventNames() []string
	GetMaxListeners() uint
	SetMaxListeners(n int)

	// Close removes all listeners to prevent memory leaks.
	Close()
}

var (
	_ EventEmitter = (*EventRegistry)(nil)
	_ EventEmitter = (*Writable)(nil)
)
