// Package commands builds the outbound client events of the realtime
// protocol. Builders are pure; sending the encoded frame is up to the caller.
package commands

import (
	"encoding/json"
	"fmt"
)

type Type string

const (
	TypeSessionUpdate    Type = "session.update"
	TypeItemCreate       Type = "conversation.item.create"
	TypeItemTruncate     Type = "conversation.item.truncate"
	TypeResponseCreate   Type = "response.create"
	TypeResponseCancel   Type = "response.cancel"
	TypeAudioAppend      Type = "input_audio_buffer.append"
	TypeAudioBufferClear Type = "input_audio_buffer.clear"
)

var DefaultModalities = []string{"text", "audio"}

// Command is any outbound client event.
type Command interface {
	CommandType() Type

	command()
}

type Header struct {
	Type Type `json:"type"`
}

func (h Header) CommandType() Type { return h.Type }

func (Header) command() {}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Item struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ItemCreate struct {
	Header
	Item Item `json:"item"`
}

// CreateItem adds a typed user message to the conversation.
func CreateItem(text string) ItemCreate {
	return ItemCreate{
		Header: Header{Type: TypeItemCreate},
		Item: Item{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

type ResponseOptions struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions,omitempty"`
}

type ResponseCreate struct {
	Header
	Response ResponseOptions `json:"response"`
}

// CreateResponse asks the agent for a text and audio turn.
func CreateResponse(instructions string) ResponseCreate {
	return ResponseCreate{
		Header: Header{Type: TypeResponseCreate},
		Response: ResponseOptions{
			Modalities:   append([]string(nil), DefaultModalities...),
			Instructions: instructions,
		},
	}
}

type ResponseCancel struct{ Header }

func CancelResponse() ResponseCancel {
	return ResponseCancel{Header: Header{Type: TypeResponseCancel}}
}

type ItemTruncate struct {
	Header
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int64  `json:"audio_end_ms"`
}

// TruncateItem tells the agent how much of an audio content part was heard.
func TruncateItem(itemID string, contentIndex int, audioEndMs int64) ItemTruncate {
	return ItemTruncate{
		Header:       Header{Type: TypeItemTruncate},
		ItemID:       itemID,
		ContentIndex: contentIndex,
		AudioEndMs:   audioEndMs,
	}
}

type AudioAppend struct {
	Header
	Audio string `json:"audio"`
}

// AppendAudio carries base64 PCM16/24kHz/mono.
func AppendAudio(audio string) AudioAppend {
	return AudioAppend{Header: Header{Type: TypeAudioAppend}, Audio: audio}
}

type AudioBufferClear struct{ Header }

func ClearAudioBuffer() AudioBufferClear {
	return AudioBufferClear{Header: Header{Type: TypeAudioBufferClear}}
}

// Encode serializes a command, stamping it with eventID when one is given.
func Encode(cmd Command, eventID string) ([]byte, error) {
	if cmd == nil {
		return nil, fmt.Errorf("encode command: nil command")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %q command: %w", cmd.CommandType(), err)
	}
	if eventID == "" {
		return data, nil
	}

	id, err := json.Marshal(eventID)
	if err != nil {
		return nil, fmt.Errorf("encode %q command id: %w", cmd.CommandType(), err)
	}

	// Every command is a non-empty object starting with its type field.
	stamped := make([]byte, 0, len(data)+len(id)+14)
	stamped = append(stamped, `{"event_id":`...)
	stamped = append(stamped, id...)
	stamped = append(stamped, ',')
	stamped = append(stamped, data[1:]...)
	return stamped, nil
}
