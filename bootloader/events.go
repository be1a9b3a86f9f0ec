package bootloader

// State identifies a phase of the flash session lifecycle. A session
// moves strictly forward through the happy path and finishes in exactly
// one of the three terminal states.
type State string

const (
	// StateIdle is a session that has not run yet
	StateIdle State = "idle"

	// StateConnecting covers transport discovery and opening
	StateConnecting State = "connecting"

	// StateHandshaking covers hub identification
	StateHandshaking State = "handshaking"

	// StateValidating covers the fit checks before any flash command
	StateValidating State = "validating"

	// StateErasing covers the flash erase
	StateErasing State = "erasing"

	// StateProgramming covers the chunked image transfer
	StateProgramming State = "programming"

	// StateVerifying covers the post-write checksum
	StateVerifying State = "verifying"

	// StateRebooting covers the reboot into the new firmware
	StateRebooting State = "rebooting"

	// StateCompleted is terminal: the new firmware is on the hub
	StateCompleted State = "completed"

	// StateFailed is terminal: the session gave up
	StateFailed State = "failed"

	// StateCancelled is terminal: a cancellation request was honored
	StateCancelled State = "cancelled"
)

// Terminal reports whether the session has finished in this state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// EventKind discriminates session notifications.
type EventKind int

const (
	// EventRequested is emitted once when Run starts
	EventRequested EventKind = iota

	// EventStateChanged is emitted on every lifecycle transition
	EventStateChanged

	// EventProgress is emitted as the completion ratio advances
	EventProgress

	// EventCompleted is emitted when the new firmware is running
	EventCompleted

	// EventFailed is emitted when the session gives up
	EventFailed

	// EventCancelled is emitted when a cancellation request is honored
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventRequested:
		return "requested"
	case EventStateChanged:
		return "state changed"
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Event is one session notification. Only the fields relevant to the
// Kind are set.
type Event struct {
	// Kind selects which notification this is
	Kind EventKind

	// From and To are the transition endpoints for EventStateChanged
	From State
	To   State

	// Progress is the completion ratio in [0, 1] for EventProgress
	Progress float64

	// Err and ErrKind describe the failure for EventFailed
	Err     error
	ErrKind ErrorKind

	// Package describes the firmware for EventRequested
	Package string
}

// EventHandler receives session notifications, delivered in order on the
// session goroutine. Implementations should return quickly to avoid
// stalling the transfer.
//
// Example:
//
//	session := bootloader.NewSession(coord, t, pkg,
//	    bootloader.WithEventHandler(func(e bootloader.Event) {
//	        if e.Kind == bootloader.EventStateChanged {
//	            fmt.Printf("%s -> %s\n", e.From, e.To)
//	        }
//	    }),
//	)
type EventHandler func(Event)
