package proxy

import "fmt"

// Chat roles used by the assistant.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one turn of a chat completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the sampling parameters sent with every completion.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// UnavailableError means the upstream service could not be reached at all.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// UpstreamError means the upstream service was reached but the call did not
// produce a usable reply: a timeout, an error status or a malformed body.
// Status is zero when no HTTP response was received.
type UpstreamError struct {
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream error (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("upstream error: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
