// Package serialize defines the wire contract every persisted trigger,
// schedule, and job state passes through: a type discriminator plus a
// flat, primitive-valued state map, encoded to bytes and back.
package serialize

// Serializer turns a (kind, state) pair into bytes and back. kind is the
// stable discriminator a caller uses to pick the right constructor on
// decode (see trigger.FromState for the trigger-kernel instance of this
// pattern); state is a flat map of primitives, slices, and nested maps —
// anything JSON-shaped.
type Serializer interface {
	Encode(kind string, state map[string]any) ([]byte, error)
	Decode(data []byte) (kind string, state map[string]any, err error)
}
