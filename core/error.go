package core

import "fmt"

// ErrorKind classifies a failure by how it is recovered.
type ErrorKind int

const (
	// TransportError covers connect and reconnect failures. Retried with
	// backoff; exceeding the attempt cap surfaces an unreachable state.
	TransportError ErrorKind = iota
	// AckError covers sends that failed or timed out. Recovered locally by
	// rolling back the optimistic message.
	AckError
	// FetchError covers HTTP errors and malformed listing responses.
	// Surfaced to the caller as an empty result with an error, not retried.
	FetchError
	// ProtocolError covers unexpected or malformed inbound payloads.
	// Dropped and logged, never fatal to the stream.
	ProtocolError
)

func (k ErrorKind) String() string {
	switch k {
	case TransportError:
		return "transport"
	case AckError:
		return "ack"
	case FetchError:
		return "fetch"
	case ProtocolError:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is a classified engine error.
type Error struct {
	Kind ErrorKind
	msg  string
	err  error
}

func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error {
	return e.err
}
