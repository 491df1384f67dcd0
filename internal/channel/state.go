package channel

import "reelgrab/internal/services/worker"

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Event is delivered on Manager.Events. It is either a StateEvent or a
// JobUpdateEvent.
type Event interface {
	channelEvent()
}

// StateEvent reports a connection state change. Err is set on terminal
// disconnection and on failed attempts.
type StateEvent struct {
	State     State
	Transport string
	Attempt   int
	Err       error
}

// JobUpdateEvent carries a job snapshot pushed by the worker.
type JobUpdateEvent struct {
	JobID    string
	Snapshot worker.Snapshot
}

func (StateEvent) channelEvent() {}

func (JobUpdateEvent) channelEvent() {}
