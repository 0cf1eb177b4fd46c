package capture

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied means the user or host refused access to a device
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrUnavailable means a device is missing, unsupported, or produced a
	// stream without the required tracks
	ErrUnavailable = errors.New("capture unavailable")

	// ErrAlreadyActive is returned when Start is called while a capture is held
	ErrAlreadyActive = errors.New("capture already active")
)

// RequestKind selects what a device is asked to capture
type RequestKind int

const (
	// DisplayWithAudio requests a screen share with its system audio
	DisplayWithAudio RequestKind = iota

	// MicrophoneOnly requests microphone audio without video
	MicrophoneOnly
)

func (k RequestKind) String() string {
	switch k {
	case DisplayWithAudio:
		return "display"
	case MicrophoneOnly:
		return "microphone"
	default:
		return "unknown"
	}
}

// Device is the host environment's media source
type Device interface {
	Request(ctx context.Context, kind RequestKind) (*Stream, error)
}
