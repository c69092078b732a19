package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrDeserialization reports malformed token bytes.
	ErrDeserialization = errors.New("wire: deserialization error")
	// ErrSerialization reports a message that cannot be encoded.
	ErrSerialization = errors.New("wire: serialization error")
	// ErrBlockDeserialization reports malformed block bytes.
	ErrBlockDeserialization = errors.New("wire: block deserialization error")
	// ErrVersion reports an unsupported block version.
	ErrVersion = errors.New("wire: unsupported block version")
	// ErrEmptyKeys reports a signed block missing its next key.
	ErrEmptyKeys = errors.New("wire: missing public key")
)

func errSerialize(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSerialization, fmt.Sprintf(format, args...))
}

func errDeserialize(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDeserialization, fmt.Sprintf(format, args...))
}

func errBlock(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBlockDeserialization, fmt.Sprintf(format, args...))
}
