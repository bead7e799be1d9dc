package libstream

import "sync"

// recordingListener remembers every call it gets. CallFunc, when set,
// decides the returned error.
type recordingListener struct {
	CallFunc func(args ...any) error

	mu    sync.Mutex
	calls [][]any
}

func (l *recordingListener) Call(args ...any) error {
	l.mu.Lock()
	l.calls = append(l.calls, args)
	l.mu.Unlock()

	if l.CallFunc != nil {
		return l.CallFunc(args...)
	}
	return nil
}

func (l *recordingListener) Calls() [][]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([][]any, len(l.calls))
	copy(out, l.calls)
	return out
}

func (l *recordingListener) CallCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.calls)
}

// orderLog collects labels from listeners to assert invocation order.
type orderLog struct {
	mu     sync.Mutex
	labels []string
}

func (o *orderLog) listener(label string) Listener {
	return ListenerFuncNoErr(func(...any) {
		o.mu.Lock()
		o.labels = append(o.labels, label)
		o.mu.Unlock()
	})
}

func (o *orderLog) Labels() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]string, len(o.labels))
	copy(out, o.labels)
	return out
}
