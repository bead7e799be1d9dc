package libstream

type (
	// Sink receives the chunks a Writable flushes, one at a time and in
	// write order.
	Sink interface {
		WriteChunk(c Chunk) error
	}

	SinkFunc func(c Chunk) error
)

func (f SinkFunc) WriteChunk(c Chunk) error {
	return f(c)
}

type discardSink struct{}

func (discardSink) WriteChunk(Chunk) error { return nil }

// DiscardSink accepts and drops every chunk.
var DiscardSink Sink = discardSink{}
