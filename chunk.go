package libstream

import (
	"encoding/json"
	"fmt"
	"strings"
)

const DefaultEncoding = "utf8"

type FrameType byte

const (
	TextFrame   FrameType = 1
	BinaryFrame FrameType = 2
)

func (t FrameType) IsText() bool {
	return t == TextFrame
}

func (t FrameType) IsBinary() bool {
	return t == BinaryFrame
}

// Lengther is implemented by chunk values that know their own length.
type Lengther interface {
	Len() int
}

// Chunk is a single unit handed to Write. Value is kept as given.
type Chunk struct {
	Value    any
	Encoding string
}

// Len is the amount the chunk adds to the stream's buffered length: the
// byte length of strings and byte slices, Len() for Lengther values and 1
// for anything else.
func (c Chunk) Len() int {
	switch v := c.Value.(type) {
	case string:
		return len(v)
	case []byte:
		return len(v)
	case Lengther:
		return v.Len()
	default:
		return 1
	}
}

// Frame renders the chunk for a message oriented transport. Strings and
// text-encoded bytes become text frames, other bytes binary frames, and any
// other value is JSON encoded as text.
func (c Chunk) Frame() (FrameType, []byte, error) {
	switch v := c.Value.(type) {
	case string:
		return TextFrame, []byte(v), nil
	case []byte:
		if isTextEncoding(c.Encoding) {
			return TextFrame, v, nil
		}
		return BinaryFrame, v, nil
	case fmt.Stringer:
		return TextFrame, []byte(v.String()), nil
	default:
		bts, err := json.Marshal(v)
		if err != nil {
			return 0, nil, err
		}
		return TextFrame, bts, nil
	}
}

func (c Chunk) String() string {
	return fmt.Sprintf("Chunk{encoding=%s,len=%d}", c.Encoding, c.Len())
}

func isTextEncoding(enc string) bool {
	switch strings.ToLower(enc) {
	case "utf8", "utf-8", "ascii", "latin1":
		return true
	}
	return false
}
