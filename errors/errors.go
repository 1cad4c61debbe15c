package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	ErrPeerNotFound    = fmt.Errorf("peer not found or offline")
	ErrPeerUnreachable = fmt.Errorf("peer unreachable")
	ErrLocalPeer       = fmt.Errorf("peer is the local user")

	ErrEmptyUserName   = fmt.Errorf("user name must not be empty")
	ErrInvalidUserName = fmt.Errorf("invalid user name")
	ErrUserNameTaken   = fmt.Errorf("user name already used by another peer")

	ErrMulticastUnavailable = fmt.Errorf("multicast channel unavailable")
	ErrMalformedCommand     = fmt.Errorf("malformed command")
	ErrUnknownCommand       = fmt.Errorf("unknown command")
	ErrFrameTooLarge        = fmt.Errorf("frame exceeds maximum size")

	ErrNotStarted     = fmt.Errorf("service not started")
	ErrServiceStopped = fmt.Errorf("service stopped")

	ErrEmptyWords = fmt.Errorf("no words have been found")
)
