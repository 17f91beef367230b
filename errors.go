package llmstream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
// These can be checked with errors.Is().
var (
	// ErrStreamFailed indicates the provider reported an explicit error on
	// the stream. The pipeline instance must not be resumed after this.
	ErrStreamFailed = errors.New("llmstream: provider stream error")
)

// defaultErrorCode is used when the provider error payload carries no code.
const defaultErrorCode = "stream_error"

// StreamError is a fatal error surfaced when a payload contains an explicit
// provider error field or event. It is always returned from Push/Flush,
// never emitted as a StreamEvent; callers should abort the in-flight turn
// rather than attempt to resume the same pipeline instance.
type StreamError struct {
	Code         string          // Provider-supplied code, or "stream_error"
	Message      string          // Human-readable message
	Status       int             // HTTP-style status (default 500)
	Provider     string          // Provider name, if known
	Model        string          // Model id, if known
	FinishReason string          // finish_reason from the failing payload, if any
	Raw          json.RawMessage // Raw provider error payload
}

func (e *StreamError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("stream error from provider '%s' (code %s): %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("stream error (code %s): %s", e.Code, e.Message)
}

func (e *StreamError) Unwrap() error {
	return ErrStreamFailed
}

// IsStreamError checks whether an error is a fatal provider stream error.
func IsStreamError(err error) bool {
	return errors.Is(err, ErrStreamFailed)
}
