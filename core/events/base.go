package events

// Type is the wire discriminant of a protocol event.
type Type string

const (
	TypeError                       Type = "error"
	TypeSessionCreated              Type = "session.created"
	TypeSessionUpdated              Type = "session.updated"
	TypeRateLimitsUpdated           Type = "rate_limits.updated"
	TypeConversationItemCreated     Type = "conversation.item.created"
	TypeItemTruncated               Type = "conversation.item.truncated"
	TypeInputTranscriptionCompleted Type = "conversation.item.input_audio_transcription.completed"
	TypeSpeechStarted               Type = "input_audio_buffer.speech_started"
	TypeSpeechStopped               Type = "input_audio_buffer.speech_stopped"
	TypeInputBufferCommitted        Type = "input_audio_buffer.committed"
	TypeInputBufferCleared          Type = "input_audio_buffer.cleared"
	TypeResponseCreated             Type = "response.created"
	TypeResponseDone                Type = "response.done"
	TypeOutputItemAdded             Type = "response.output_item.added"
	TypeOutputItemDone              Type = "response.output_item.done"
	TypeContentPartAdded            Type = "response.content_part.added"
	TypeContentPartDone             Type = "response.content_part.done"
	TypeAudioDelta                  Type = "response.audio.delta"
	TypeAudioDone                   Type = "response.audio.done"
	TypeTranscriptDelta             Type = "response.audio_transcript.delta"
	TypeTranscriptDone              Type = "response.audio_transcript.done"
	TypeTextDelta                   Type = "response.text.delta"
	TypeTextDone                    Type = "response.text.done"
)

// Inbound is the closed set of decoded server events.
//
//sumtype:decl
type Inbound interface {
	EventType() Type
	ID() string

	inbound()
}

// Base carries the fields shared by every server event.
type Base struct {
	Type    Type   `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

func (b Base) EventType() Type { return b.Type }
func (b Base) ID() string      { return b.EventID }

func (Base) inbound() {}

// ContentRef locates a content part inside an agent turn.
type ContentRef struct {
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
}
