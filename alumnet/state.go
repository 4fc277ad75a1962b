package alumnet

// ConnectionState represents the current state of the broadcast connection.
type ConnectionState int

const (
	// StateDisconnected means there is no transport.
	StateDisconnected ConnectionState = iota

	// StateConnecting means the handshake is in progress.
	StateConnecting

	// StateConnected means a socket id was issued and channels can be joined.
	StateConnected

	// StateError means the handshake failed or the transport broke.
	// Nothing retries from here unless the caller asks for it.
	StateError
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// canTransition reports whether the state machine allows from -> to.
//
//	disconnected -> connecting -> connected | error
//	connected    -> disconnected | error
//	error        -> disconnected
func canTransition(from, to ConnectionState) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateError
	case StateConnected:
		return to == StateDisconnected || to == StateError
	case StateError:
		return to == StateDisconnected
	default:
		return false
	}
}

// StateEvent represents a state change event.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	SocketID string // set when NewState is StateConnected
	Error    error  // Optional error that caused the state change
}

func (StateEvent) eventKind() EventKind { return KindStateChange }
