package libstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sized struct{ n int }

func (s sized) Len() int { return s.n }

type named string

func (n named) String() string { return "name:" + string(n) }

func TestChunkLen(t *testing.T) {
	tests := []struct {
		name  string
		chunk Chunk
		want  int
	}{
		{name: "string", chunk: Chunk{Value: "hello"}, want: 5},
		{name: "bytes", chunk: Chunk{Value: []byte{1, 2, 3}}, want: 3},
		{name: "lengther", chunk: Chunk{Value: sized{n: 7}}, want: 7},
		{name: "object", chunk: Chunk{Value: map[string]int{"a": 1, "b": 2}}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.chunk.Len())
		})
	}
}

func TestChunkFrame(t *testing.T) {
	tests := []struct {
		name      string
		chunk     Chunk
		wantFrame FrameType
		wantData  string
	}{
		{name: "string", chunk: Chunk{Value: "hi"}, wantFrame: TextFrame, wantData: "hi"},
		{name: "buffer", chunk: Chunk{Value: []byte("hi"), Encoding: "buffer"}, wantFrame: BinaryFrame, wantData: "hi"},
		{name: "utf8 bytes", chunk: Chunk{Value: []byte("hi"), Encoding: "UTF-8"}, wantFrame: TextFrame, wantData: "hi"},
		{name: "stringer", chunk: Chunk{Value: named("x")}, wantFrame: TextFrame, wantData: "name:x"},
		{name: "object", chunk: Chunk{Value: map[string]int{"a": 1}}, wantFrame: TextFrame, wantData: `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, data, err := tt.chunk.Frame()
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrame, frame)
			assert.Equal(t, tt.wantData, string(data))
		})
	}
}

func TestChunkFrameUnencodable(t *testing.T) {
	_, _, err := Chunk{Value: make(chan int)}.Frame()
	assert.Error(t, err)
}
