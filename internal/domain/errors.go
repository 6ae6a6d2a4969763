package domain

import "fmt"

// TransportError is a non-success HTTP status from the assistant backend or
// the chat platform.
type TransportError struct {
	Op         string // which call failed, e.g. "create run"
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// StructuralError is a backend response that parsed but lacks an expected
// field or shape.
type StructuralError struct {
	Op     string
	Detail string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

// PersistenceError wraps a dedup-state read or write failure. Reads that fail
// are treated as empty state; writes that fail leave the in-memory claim
// standing.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PlatformLookupError is a failed read of a thread's current messages. It is
// always downgraded to "no prior message" and never blocks a send.
type PlatformLookupError struct {
	ChannelID string
	ThreadID  string
	Err       error
}

func (e *PlatformLookupError) Error() string {
	return fmt.Sprintf("read thread %s/%s: %v", e.ChannelID, e.ThreadID, e.Err)
}

func (e *PlatformLookupError) Unwrap() error { return e.Err }
