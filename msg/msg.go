// Package msg defines the messages that workers send to the controller and
// the channel that carries them.
package msg

import (
	"errors"
	"fmt"
)

// ErrUnknownAction is returned when a message carries an action value that is
// not part of the protocol.
var ErrUnknownAction = errors.New("unknown action")

// Action is what a worker asks the controller to do.
type Action int32

// The actions of the protocol. The values are part of the wire format.
const (
	Request   Action = 0
	Release   Action = 1
	Terminate Action = 2
)

// Valid tells if the action is part of the protocol.
func (a Action) Valid() bool {
	return a == Request || a == Release || a == Terminate
}

func (a Action) String() string {
	switch a {
	case Request:
		return "request"
	case Release:
		return "release"
	case Terminate:
		return "terminate"
	default:
		return fmt.Sprintf("action(%d)", int32(a))
	}
}

// A Msg is one action taken by the worker that occupies Slot. Request and
// Release move exactly one instance of Resource. Resource is ignored for
// Terminate.
type Msg struct {
	Slot     int
	Action   Action
	Resource int

	// Sender is the identity of the worker that sent the message. Messages
	// injected directly by the host leave it empty.
	Sender string
}

// NewRequest creates a request for one instance of resource.
func NewRequest(slot, resource int) Msg {
	return Msg{Slot: slot, Action: Request, Resource: resource}
}

// NewRelease creates a release of one instance of resource.
func NewRelease(slot, resource int) Msg {
	return Msg{Slot: slot, Action: Release, Resource: resource}
}

// NewTerminate creates the final message of a worker.
func NewTerminate(slot int) Msg {
	return Msg{Slot: slot, Action: Terminate}
}

// From returns a copy of m that carries the given sender identity.
func (m Msg) From(sender string) Msg {
	m.Sender = sender
	return m
}

func (m Msg) String() string {
	if m.Action == Terminate {
		return fmt.Sprintf("%s{slot %d}", m.Action, m.Slot)
	}

	return fmt.Sprintf("%s{slot %d, resource %d}", m.Action, m.Slot, m.Resource)
}
