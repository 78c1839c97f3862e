package audio

import "errors"

var (
	// ErrAudioConversion is returned when a buffer cannot be converted between
	// the device format and the wire format. The buffer should be dropped.
	ErrAudioConversion = errors.New("audio conversion failed")
	// ErrPermissionDenied is returned by input clients when the platform
	// refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
)
