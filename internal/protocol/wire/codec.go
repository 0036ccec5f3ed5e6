package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrUnknownCodec = errors.New("wire: unknown codec")
	ErrEmptyFrame   = errors.New("wire: empty frame")
	ErrNotMessage   = errors.New("wire: frame is not a message")
)

// Codec converts messages to and from one transport frame.
type Codec interface {
	Name() string
	Binary() bool
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

// CodecByName resolves a configured codec name. Empty means json.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSONCodec) Decode(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Message{}, ErrEmptyFrame
	}
	if data[0] != '{' {
		return Message{}, ErrNotMessage
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrNotMessage, err)
	}
	return m, nil
}

type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Encode(m Message) ([]byte, error) {
	return msgpack.Marshal(&m)
}

func (MsgpackCodec) Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, ErrEmptyFrame
	}
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrNotMessage, err)
	}
	return m, nil
}
