package ws

// ConnState represents the state of the connection to the backend.
type ConnState int

const (
	// StateDisconnected means no connection is established and none is wanted.
	StateDisconnected ConnState = iota
	// StateConnecting means the first connection attempt is in progress.
	StateConnecting
	// StateConnected means the connection is established and usable.
	StateConnected
	// StateReconnecting means the connection was lost and a retry is
	// scheduled or in progress.
	StateReconnecting
	// StateUnreachable means the attempt cap was exceeded. It is terminal
	// until the user requests a new Connect.
	StateUnreachable
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// StateChange is delivered to state listeners on every transition.
type StateChange struct {
	Old ConnState
	New ConnState
	// Err is the error that caused the transition, if any.
	Err error
	// Attempt is the reconnect attempt count at the time of the transition.
	Attempt int
}

// PacketHandler receives inbound packets that are not acknowledgements.
// Handlers are invoked from the read pump and execute to completion before
// the next packet is dispatched; they must not block on network I/O.
type PacketHandler func(*Packet)
