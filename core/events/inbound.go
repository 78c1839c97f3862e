package events

type ErrorOccurred struct {
	Base
	Error ErrorDetail `json:"error"`
}

type SessionCreated struct {
	Base
	Session Session `json:"session"`
}

type SessionUpdated struct {
	Base
	Session Session `json:"session"`
}

type RateLimitsUpdated struct {
	Base
	RateLimits []RateLimit `json:"rate_limits"`
}

type ConversationItemCreated struct {
	Base
	PreviousItemID *string `json:"previous_item_id,omitempty"`
	Item           Item    `json:"item"`
}

type ItemTruncated struct {
	Base
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

// InputTranscriptionCompleted carries the transcript of a committed user
// audio item.
type InputTranscriptionCompleted struct {
	Base
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

type SpeechStarted struct {
	Base
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

type SpeechStopped struct {
	Base
	AudioEndMs int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

type InputBufferCommitted struct {
	Base
	PreviousItemID *string `json:"previous_item_id,omitempty"`
	ItemID         string  `json:"item_id"`
}

type InputBufferCleared struct{ Base }

type ResponseCreated struct {
	Base
	Response Response `json:"response"`
}

type ResponseDone struct {
	Base
	Response Response `json:"response"`
}

type OutputItemAdded struct {
	Base
	ResponseID  string `json:"response_id"`
	OutputIndex int    `json:"output_index"`
	Item        Item   `json:"item"`
}

type OutputItemDone struct {
	Base
	ResponseID  string `json:"response_id"`
	OutputIndex int    `json:"output_index"`
	Item        Item   `json:"item"`
}

type ContentPartAdded struct {
	Base
	ContentRef
	Part Content `json:"part"`
}

type ContentPartDone struct {
	Base
	ContentRef
	Part Content `json:"part"`
}

// AudioDelta carries a base64 encoded PCM16/24kHz/mono fragment in Payload.
type AudioDelta struct {
	Base
	ContentRef
	Payload string `json:"delta"`
}

type AudioDone struct {
	Base
	ContentRef
}

type TranscriptDelta struct {
	Base
	ContentRef
	Delta string `json:"delta"`
}

type TranscriptDone struct {
	Base
	ContentRef
	Transcript string `json:"transcript"`
}

type TextDelta struct {
	Base
	ContentRef
	Delta string `json:"delta"`
}

type TextDone struct {
	Base
	ContentRef
	Text string `json:"text"`
}

// Unhandled is any event whose discriminant this client does not know.
type Unhandled struct{ Base }
