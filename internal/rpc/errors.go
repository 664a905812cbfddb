package rpc

import "fmt"

// TransportError wraps network-level failures: timeouts, connection
// resets, 5xx responses. Retried per policy.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError marks a well-formed HTTP exchange whose body could not be
// interpreted. Not retried.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NotFoundError marks a successful response carrying no result, e.g. a
// block number past the chain head. Not retried.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.What)
}
