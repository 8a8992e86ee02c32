package dispatch

import "errors"

var (
	// ErrNoFreePort is returned by RegisterPort when every port slot
	// in the table is already occupied.
	ErrNoFreePort = errors.New("dispatch: no free port slot")
	// ErrPortInUse is returned by RegisterPort when the requested port
	// number is already registered.
	ErrPortInUse = errors.New("dispatch: port number already registered")
	// ErrPortClosed names the closed-port condition. No function in this
	// package returns it: Send and Recv do not check whether the handle's
	// port has been unregistered.
	ErrPortClosed = errors.New("dispatch: port closed")
	// ErrBadSource is returned by validateIncoming when a frame's
	// source address violates the role's addressing invariant: a Sub
	// only ever hears from Dom, and Dom never hears from itself.
	ErrBadSource = errors.New("dispatch: frame source violates role invariant")
	// ErrBadDestination is returned when a frame's destination address
	// does not match the local role's address (and isn't the
	// discovery broadcast sentinel).
	ErrBadDestination = errors.New("dispatch: frame destination is not addressed to this node")
	// ErrNoSuchPort is returned when a frame's destination port has no
	// registered handler.
	ErrNoSuchPort = errors.New("dispatch: no port registered for destination")
)
