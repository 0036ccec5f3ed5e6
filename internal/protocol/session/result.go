package session

import "fmt"

// ResultKind tags how a call was resolved.
type ResultKind int

const (
	// ResultResponse carries the host's reply payload.
	ResultResponse ResultKind = iota + 1
	// ResultEvicted means the in-flight table was full and this call was the oldest.
	ResultEvicted
	// ResultExpired means no reply arrived within the configured call TTL.
	ResultExpired
)

func (k ResultKind) String() string {
	switch k {
	case ResultResponse:
		return "response"
	case ResultEvicted:
		return "evicted"
	case ResultExpired:
		return "expired"
	default:
		return fmt.Sprintf("result(%d)", int(k))
	}
}

// Result is delivered exactly once to the consumer registered for a call.
type Result struct {
	Kind    ResultKind
	ID      int64
	Payload any
}

func (r Result) OK() bool {
	return r.Kind == ResultResponse
}

// Consumer receives the resolution of one call.
type Consumer func(Result)
