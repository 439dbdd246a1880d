package llm

import "fmt"

// GenerationError reports that the model produced no reply for a turn:
// the call failed, timed out or returned no usable text.
type GenerationError struct {
	ConversationID string
	Err            error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for conversation %q: %v", e.ConversationID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
