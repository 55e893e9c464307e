package scanning

import "fmt"

// TransportError is returned when a remote endpoint answers with a non-2xx status
type TransportError struct {
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// TimeoutError is returned when no response arrived before the call's deadline.
// The in-flight request has been cancelled by the time it is returned.
type TimeoutError struct {
	Endpoint string
}

func (e *TimeoutError) Error() string {
	return "Request timed out. Please try again."
}

// NetworkError wraps lower-level failures: dial errors, resets, undecodable bodies,
// and cancellation of the caller's context.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("calling %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ReadError is returned when a file cannot be read into memory for encoding
type ReadError struct {
	Name string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Name, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// ServiceError is returned when a remote endpoint reported success=false
type ServiceError struct {
	Service string
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}
