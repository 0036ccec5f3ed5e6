// Package wire owns the block<->host message shape and its encodings.
package wire

const (
	MethodHandshake         = "handShake"
	MethodCloseBlock        = "closeBlock"
	MethodBlockReadyToClose = "blockReadyToClose"

	// TargetAny addresses a message before the peer origin is known.
	TargetAny = "*"

	// NoCallbackID is never assigned to a call. Responses carrying it
	// resolve to nothing.
	NoCallbackID int64 = 0

	// InitOnEditClose is set to true in a handshake init payload when the
	// block handles closeBlock.
	InitOnEditClose = "onEditClose"
)

// Message is the single wire shape used in both directions. Absent fields
// decode to their zero values.
type Message struct {
	Method  string `json:"method,omitempty" msgpack:"method,omitempty"`
	Origin  string `json:"origin,omitempty" msgpack:"origin,omitempty"`
	ID      int64  `json:"id,omitempty" msgpack:"id,omitempty"`
	Payload any    `json:"payload" msgpack:"payload"`
}

// Handshake builds the probe or the host's handshake reply.
func Handshake(origin string, payload any) Message {
	return Message{Method: MethodHandshake, Origin: origin, Payload: payload}
}

// CloseBlock builds the host's close request.
func CloseBlock(origin string) Message {
	return Message{Method: MethodCloseBlock, Origin: origin}
}

// Response builds a correlated reply to call id.
func Response(id int64, payload any) Message {
	return Message{ID: id, Payload: payload}
}

// IsControl reports whether m is classified as handshake or close rather
// than a response.
func (m Message) IsControl() bool {
	return m.Method == MethodHandshake || m.Method == MethodCloseBlock
}
