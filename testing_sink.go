package libstream

import (
	"github.com/stretchr/testify/mock"
)

type mockSink struct {
	mock.Mock

	tapWrite func(c Chunk)
}

func (m *mockSink) WriteChunk(c Chunk) error {
	if m.tapWrite != nil {
		m.tapWrite(c)
	}
	args := m.Called(c)
	return args.Error(0)
}
