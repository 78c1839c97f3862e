package commands

const (
	AudioFormatPCM16     = "pcm16"
	TurnDetectionServer  = "server_vad"
	DefaultTranscription = "whisper-1"
)

type TurnDetection struct {
	Type              string   `json:"type"`
	Threshold         *float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   *int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs *int     `json:"silence_duration_ms,omitempty"`
}

type Transcription struct {
	Model string `json:"model"`
}

type SessionOptions struct {
	Modalities              []string       `json:"modalities,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
}

type SessionUpdate struct {
	Header
	Session SessionOptions `json:"session"`
}

// UpdateSession configures the remote session. Unset audio formats default to
// pcm16, turn detection to server VAD and input transcription to whisper-1.
func UpdateSession(opts SessionOptions) SessionUpdate {
	if len(opts.Modalities) == 0 {
		opts.Modalities = append([]string(nil), DefaultModalities...)
	}
	if opts.InputAudioFormat == "" {
		opts.InputAudioFormat = AudioFormatPCM16
	}
	if opts.OutputAudioFormat == "" {
		opts.OutputAudioFormat = AudioFormatPCM16
	}
	if opts.TurnDetection == nil {
		opts.TurnDetection = &TurnDetection{Type: TurnDetectionServer}
	}
	if opts.InputAudioTranscription == nil {
		opts.InputAudioTranscription = &Transcription{Model: DefaultTranscription}
	}

	return SessionUpdate{Header: Header{Type: TypeSessionUpdate}, Session: opts}
}
