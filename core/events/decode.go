package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrDecode      = errors.New("failed to decode inbound event")
	errMissingType = errors.New("missing event type")
)

// DecodeError reports a frame that could not be decoded. Raw holds the
// original payload for logging.
type DecodeError struct {
	Type Type
	Raw  string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode inbound event: %v", e.Err)
	}
	return fmt.Sprintf("decode %q event: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Decode turns a raw text frame into a typed event. The discriminant is read
// first and the payload is then decoded into the matching variant. Unknown
// discriminants decode into Unhandled.
func Decode(raw []byte) (Inbound, error) {
	var discriminant struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &discriminant); err != nil {
		return nil, &DecodeError{Raw: string(raw), Err: err}
	}
	if discriminant.Type == "" {
		return nil, &DecodeError{Raw: string(raw), Err: errMissingType}
	}

	event, err := decodeVariant(discriminant.Type, raw)
	if err != nil {
		return nil, &DecodeError{Type: discriminant.Type, Raw: string(raw), Err: err}
	}
	return event, nil
}

func decodeVariant(eventType Type, raw []byte) (Inbound, error) {
	switch eventType {
	case TypeError:
		return decodeAs[ErrorOccurred](raw)
	case TypeSessionCreated:
		return decodeAs[SessionCreated](raw)
	case TypeSessionUpdated:
		return decodeAs[SessionUpdated](raw)
	case TypeRateLimitsUpdated:
		return decodeAs[RateLimitsUpdated](raw)
	case TypeConversationItemCreated:
		return decodeAs[ConversationItemCreated](raw)
	case TypeItemTruncated:
		return decodeAs[ItemTruncated](raw)
	case TypeInputTranscriptionCompleted:
		return decodeAs[InputTranscriptionCompleted](raw)
	case TypeSpeechStarted:
		return decodeAs[SpeechStarted](raw)
	case TypeSpeechStopped:
		return decodeAs[SpeechStopped](raw)
	case TypeInputBufferCommitted:
		return decodeAs[InputBufferCommitted](raw)
	case TypeInputBufferCleared:
		return decodeAs[InputBufferCleared](raw)
	case TypeResponseCreated:
		return decodeAs[ResponseCreated](raw)
	case TypeResponseDone:
		return decodeAs[ResponseDone](raw)
	case TypeOutputItemAdded:
		return decodeAs[OutputItemAdded](raw)
	case TypeOutputItemDone:
		return decodeAs[OutputItemDone](raw)
	case TypeContentPartAdded:
		return decodeAs[ContentPartAdded](raw)
	case TypeContentPartDone:
		return decodeAs[ContentPartDone](raw)
	case TypeAudioDelta:
		return decodeAs[AudioDelta](raw)
	case TypeAudioDone:
		return decodeAs[AudioDone](raw)
	case TypeTranscriptDelta:
		return decodeAs[TranscriptDelta](raw)
	case TypeTranscriptDone:
		return decodeAs[TranscriptDone](raw)
	case TypeTextDelta:
		return decodeAs[TextDelta](raw)
	case TypeTextDone:
		return decodeAs[TextDone](raw)
	}

	var envelope Base
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	return Unhandled{Base: envelope}, nil
}

func decodeAs[T Inbound](raw []byte) (Inbound, error) {
	var event T
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, err
	}
	return event, nil
}
