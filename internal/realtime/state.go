package realtime

// State is the connectivity state of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// SuspendedAuthFailure is entered when the server closes with 1008.
	// Reconnection waits for a different access token.
	SuspendedAuthFailure
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case SuspendedAuthFailure:
		return "suspended"
	default:
		return "unknown"
	}
}

// Event drives a State transition.
type Event int

const (
	EventConnect Event = iota
	EventOpen
	EventClosed
	EventAuthRejected
	EventCredentialChanged
	EventDisconnect
)

func (e Event) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventOpen:
		return "open"
	case EventClosed:
		return "closed"
	case EventAuthRejected:
		return "auth-rejected"
	case EventCredentialChanged:
		return "credential-changed"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Transition returns the state that follows s on e. The second result is
// false when e is not valid in s; the state is then returned unchanged.
//
//	Disconnected         --connect-->            Connecting
//	Connecting           --open-->               Connected
//	Connecting|Connected --closed-->             Disconnected
//	Connecting|Connected --auth-rejected-->      SuspendedAuthFailure
//	SuspendedAuthFailure --credential-changed--> Connecting
//	any                  --disconnect-->         Disconnected
func Transition(s State, e Event) (State, bool) {
	switch e {
	case EventDisconnect:
		return Disconnected, true
	case EventConnect:
		if s == Disconnected {
			return Connecting, true
		}
	case EventOpen:
		if s == Connecting {
			return Connected, true
		}
	case EventClosed:
		if s == Connecting || s == Connected {
			return Disconnected, true
		}
	case EventAuthRejected:
		if s == Connecting || s == Connected {
			return SuspendedAuthFailure, true
		}
	case EventCredentialChanged:
		if s == SuspendedAuthFailure {
			return Connecting, true
		}
	}
	return s, false
}
