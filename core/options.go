package orchestration

import (
	"context"
	"log/slog"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/events"
)

type OrchestratorOption func(*Orchestrator)

// Config is the session configuration handed to the dialer and to the
// session update sent on connect.
type Config struct {
	ServerURL string
	// AuthToken is opaque to the session and only forwarded to the transport.
	AuthToken    string
	Model        string
	Voice        string
	Instructions string
	// TranscriptionModel transcribes spoken user input for display.
	TranscriptionModel string
	// OutboundQueueSize bounds the outbound audio lane.
	OutboundQueueSize int
}

func WithConfig(config *Config) OrchestratorOption {
	return func(o *Orchestrator) {
		if config == nil {
			return
		}
		o.config = *config
	}
}

// WithLogger redirects the session log records. The default logger is
// bridged to OpenTelemetry.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l == nil {
			return
		}
		o.logger = l
		o.capture.logger = l
		o.playback.logger = l
	}
}

// Transport is a duplex text frame connection to the remote agent.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	// Receive blocks until a frame arrives, the context is cancelled or the
	// transport is closed.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type Dialer func(ctx context.Context, config Config) (Transport, error)

func WithDialer(dial Dialer) OrchestratorOption {
	return func(o *Orchestrator) { o.dial = dial }
}

// WithTransport uses an already established transport for the next Connect.
func WithTransport(transport Transport) OrchestratorOption {
	return WithDialer(func(context.Context, Config) (Transport, error) {
		return transport, nil
	})
}

type AudioInput interface {
	audioInputBase
}

type AudioInputFine interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

func WithAudioInput(client AudioInput) OrchestratorOption {
	return func(o *Orchestrator) { o.capture.Set(client) }
}

// AudioOutput plays scheduled buffers in order. Mark calls back once every
// buffer sent before it has been played.
type AudioOutput interface {
	audioOutputBase
	Mark(mark string, onPlayed func(mark string)) error
}

type AudioOutputControls interface {
	StartPlayback(ctx context.Context) error
	StopPlayback() error
}

func WithAudioOutput(client AudioOutput) OrchestratorOption {
	return func(o *Orchestrator) { o.playback.Set(client) }
}

type ConnectOptions struct {
	onStateChanged func(state State)
	onMessages     func(messages Messages)
	onVolume       func(volume float64)
	onError        func(err error)
	onRateLimits   func(limits []events.RateLimit)
}

type ConnectOption func(*ConnectOptions)

func WithStateChangedCallback(callback func(state State)) ConnectOption {
	return func(o *ConnectOptions) {
		o.onStateChanged = callback
	}
}

// WithMessagesCallback registers a callback for conversation display updates.
// The callback receives a deep copy it may keep.
func WithMessagesCallback(callback func(messages Messages)) ConnectOption {
	return func(o *ConnectOptions) {
		o.onMessages = callback
	}
}

// WithVolumeCallback registers a callback for the RMS volume of captured
// audio, normalized to 0..1.
//
// The callback runs inline on the capture path and should not block.
func WithVolumeCallback(callback func(volume float64)) ConnectOption {
	return func(o *ConnectOptions) {
		o.onVolume = callback
	}
}

// WithErrorCallback registers a callback for non-fatal session errors:
// remote protocol errors, capture failures and a lost transport.
func WithErrorCallback(callback func(err error)) ConnectOption {
	return func(o *ConnectOptions) {
		o.onError = callback
	}
}

func WithRateLimitsCallback(callback func(limits []events.RateLimit)) ConnectOption {
	return func(o *ConnectOptions) {
		o.onRateLimits = callback
	}
}

type audioOutputBase interface {
	EncodingInfo() audio.EncodingInfo
	SendAudio(audio []byte) error
	ClearBuffer()
}

type audioInputBase interface {
	EncodingInfo() audio.EncodingInfo
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	Close()
}
