// Package vision defines the contract of the external vision-extraction capability and the retry,
// rate-limit and circuit-breaker plumbing every call to it goes through.
package vision

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// Image is one encoded image handed to the capability.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is a single extraction call.
type Request struct {
	Images      []Image
	Instruction string
	ContentType models.ContentType
	// JSONOutput asks the provider to constrain output to JSON when it supports that.
	JSONOutput bool
}

// Capability is the external vision/LLM extraction service. Implementations return the raw text the
// model produced and wrap retryable overload conditions in *TransientError.
type Capability interface {
	Extract(ctx context.Context, req Request) (string, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, req Request) (string, error)

func (f CapabilityFunc) Extract(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// TransientError indicates a retryable provider overload (rate limit, unavailable, deadline).
type TransientError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient provider error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient provider error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient checks if an error is worth retrying.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
