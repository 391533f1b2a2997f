package parser

// Event identifies a lifecycle notification fired by the telegram state
// machine. Observers are invoked synchronously, with no payload, at the
// state transitions described on each constant. Nothing fires outside a
// transition.
type Event int

const (
	// EventReadyToReceive fires when the machine starts waiting for the
	// first byte of a new telegram.
	EventReadyToReceive Event = iota
	// EventReceiving fires when the first byte of a telegram has been
	// recognized and reception begins.
	EventReceiving
	// EventUpdateReceived fires when a complete telegram has been buffered
	// and checksum verification begins.
	EventUpdateReceived
	// EventUpdateProcessed fires when a telegram has been fully decoded and
	// dispatched.
	EventUpdateProcessed
	// EventCommunicationError fires when the current telegram is abandoned
	// and recovery begins.
	EventCommunicationError
)

// String returns the string representation of the event.
func (e Event) String() string {
	switch e {
	case EventReadyToReceive:
		return "ready_to_receive"
	case EventReceiving:
		return "receiving"
	case EventUpdateReceived:
		return "update_received"
	case EventUpdateProcessed:
		return "update_processed"
	case EventCommunicationError:
		return "communication_error"
	default:
		return "unknown"
	}
}

// OnEvent registers an observer for the given event class. Observers are
// invoked in registration order. Not safe to call once ticking has started.
func (p *Parser) OnEvent(event Event, fn func()) {
	p.triggers[event] = append(p.triggers[event], fn)
}

func (p *Parser) fire(event Event) {
	for _, fn := range p.triggers[event] {
		fn()
	}
}
