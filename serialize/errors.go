package serialize

import "fmt"

// DeserializationError reports corrupt or incompatible persisted state:
// malformed bytes, a missing discriminator, or a version newer than this
// build understands.
type DeserializationError struct {
	Reason string
	Err    error
}

func (e *DeserializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("serialize: deserialization failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("serialize: deserialization failed: %s", e.Reason)
}

func (e *DeserializationError) Unwrap() error { return e.Err }
