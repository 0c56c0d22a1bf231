package outbox

import (
	"errors"
	"fmt"
)

var (
	// ErrSerialization matches every SerializationError.
	ErrSerialization = errors.New("outbox payload serialization failed")
	// ErrEmptyPayload is returned when a serializer produced no bytes.
	ErrEmptyPayload = errors.New("outbox payload is empty")
	// ErrInvalidRecord is returned when a built outbox record fails validation.
	ErrInvalidRecord = errors.New("outbox record is invalid")
)

// SerializationError reports a payload that could not be serialized for a
// topic. The session is aborted.
type SerializationError struct {
	Topic string
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("outbox: serialize payload for topic %q: %v", e.Topic, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Is matches ErrSerialization.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization
}
