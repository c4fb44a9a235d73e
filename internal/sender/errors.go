package sender

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput         = errors.New("sender: destination is empty")
	ErrHostNotFound       = errors.New("sender: host not found")
	ErrPermissionDenied   = errors.New("sender: microphone permission denied")
	ErrCaptureGrantDenied = errors.New("sender: playback capture not granted")
)

// TransportError wraps a failure reported by Transport.Start.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sender: transport failed to start: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
