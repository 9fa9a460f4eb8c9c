package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// State is the position of a session in its lifecycle.
//
//	Idle → Discovering → Connecting → Ready → Transferring → {Success, Failure, Cancelled}
//
// Connecting is only visited by the Receiver. Success, Failure and Cancelled
// are terminal.
type State uint8

const (
	Idle State = iota
	Discovering
	Connecting
	Ready
	Transferring
	Success
	Failure
	Cancelled
)

var stateNames = [...]string{
	Idle:         "Idle",
	Discovering:  "Discovering",
	Connecting:   "Connecting",
	Ready:        "Ready",
	Transferring: "Transferring",
	Success:      "Success",
	Failure:      "Failure",
	Cancelled:    "Cancelled",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Success || s == Failure || s == Cancelled
}

// Role tags which side of a transfer a session plays.
type Role uint8

const (
	RoleSender Role = iota + 1
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// Update is one observable change of a session.
type Update struct {
	ID       uuid.UUID
	Role     Role
	State    State
	Progress float64 // in [0, 1], never decreasing
	Err      error   // set on Failure and Cancelled
}

// Label is the human-readable status line for u.
func (u Update) Label() string {
	switch u.State {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting..."
	case Cancelled:
		return "Cancelled"
	case Failure:
		return failureLabel(u.Err)
	}

	if u.Role == RoleSender {
		switch u.State {
		case Discovering:
			return "Advertising..."
		case Ready:
			return "Receiver subscribed"
		case Transferring:
			return "Sending..."
		case Success:
			return "Sent!"
		}
	}

	switch u.State {
	case Discovering:
		return "Scanning..."
	case Ready:
		return "Subscribed"
	case Transferring:
		return "Receiving..."
	case Success:
		return "Received!"
	}
	return u.State.String()
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, ErrTransportUnavailable):
		return "Radio unavailable"
	case errors.Is(err, ErrDiscoveryTimeout):
		return "No sender found"
	case errors.Is(err, ErrChannelNotFound):
		return "Transfer channel not found"
	case errors.Is(err, ErrSendRejected):
		return "Send rejected"
	case errors.Is(err, ErrStalled):
		return "Link stalled"
	case errors.Is(err, ErrIncomplete):
		return "Transfer incomplete"
	case err != nil:
		return "Failed: " + err.Error()
	default:
		return "Failed"
	}
}
