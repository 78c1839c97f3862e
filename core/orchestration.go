package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-realtime/core/commands"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator runs one realtime voice session at a time. It owns the
// turn-taking state and decides whether the microphone or the speaker is
// active; never both.
type Orchestrator struct {
	config Config
	logger *slog.Logger
	dial   Dialer

	capture  *capturePipeline
	playback *playbackPipeline

	// state is written by the session actor and read lock-free by the
	// capture callback.
	state atomic.Int32

	// Owned by the session actor.
	correlation         Correlation
	cancelledResponseID string
	messages            Messages

	// mu serializes Connect and Disconnect.
	mu     sync.Mutex
	active atomic.Pointer[sessionRuntime]
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		logger:   logger,
		capture:  newCapturePipeline(nil),
		playback: newPlaybackPipeline(nil),
	}

	o.capture.isListening = func() bool { return o.State() == StateListening }
	o.capture.onVolume = func(volume float64) {
		if runtime := o.active.Load(); runtime != nil {
			runtime.emit(volumeMeasured{Volume: volume})
		}
	}
	o.capture.onWireAudio = func(encoded string) {
		if runtime := o.active.Load(); runtime != nil {
			runtime.writer.sendAudio(commands.AppendAudio(encoded))
		}
	}
	o.capture.onStreamFailed = func(err error) {
		if runtime := o.active.Load(); runtime != nil {
			runtime.post(func() { o.captureFailed(runtime, err) })
		}
	}
	o.playback.onPlayed = func(generation uint64) {
		if runtime := o.active.Load(); runtime != nil {
			runtime.post(func() { o.bufferPlayed(runtime, generation) })
		}
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// State is safe to call from any goroutine.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Connect establishes the transport, configures the remote session and
// starts dispatching inbound events.
func (o *Orchestrator) Connect(ctx context.Context, opts ...ConnectOption) error {
	ctx, span := tracer.Start(ctx, "connect")
	defer span.End()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active.Load() != nil {
		return ErrAlreadyConnected
	}
	if o.dial == nil {
		recordSpanError(span, ErrNoTransport)
		return ErrNoTransport
	}

	transport, err := o.dial(ctx, o.config)
	if err != nil {
		err = fmt.Errorf("failed to connect: %w", err)
		recordSpanError(span, err)
		return err
	}
	if isNilClient(transport) {
		recordSpanError(span, ErrNoTransport)
		return ErrNoTransport
	}

	options := ConnectOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	runtime := newSessionRuntime(context.WithoutCancel(ctx), transport, o.config.OutboundQueueSize, newCallbackEventEmitter(options))
	runtime.writer.logger = o.logger
	o.active.Store(runtime)
	runtime.start()
	runtime.writer.sendControl(commands.UpdateSession(o.sessionOptions()))
	go o.receive(runtime)

	span.SetAttributes(attribute.String("realtime.model", o.config.Model))
	o.logger.Info("session connected", "server_url", o.config.ServerURL, "model", o.config.Model)
	return nil
}

func (o *Orchestrator) sessionOptions() commands.SessionOptions {
	opts := commands.SessionOptions{
		Voice:        o.config.Voice,
		Instructions: o.config.Instructions,
	}
	if o.config.TranscriptionModel != "" {
		opts.InputAudioTranscription = &commands.Transcription{Model: o.config.TranscriptionModel}
	}
	return opts
}

// Disconnect stops capture and playback, leaves the session Idle and joins
// every session goroutine before releasing the transport.
func (o *Orchestrator) Disconnect() error {
	return o.disconnect(o.active.Load())
}

func (o *Orchestrator) disconnect(runtime *sessionRuntime) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if runtime == nil || o.active.Load() != runtime {
		return ErrNotConnected
	}

	runtime.closing.Store(true)
	runtime.call(func() { o.teardown(runtime) })
	runtime.end()
	runtime.writer.stop()
	runtime.cancel()

	var errs error
	if err := runtime.transport.Close(); err != nil {
		errs = fmt.Errorf("failed to close transport: %w", err)
	}
	<-runtime.receiveDone

	o.active.Store(nil)
	o.logger.Info("session disconnected")
	return errs
}

// Close disconnects and releases the audio input.
func (o *Orchestrator) Close() error {
	var errs error
	if err := o.Disconnect(); err != nil && !errors.Is(err, ErrNotConnected) {
		errs = errors.Join(errs, err)
	}
	if err := o.capture.Close(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to close audio input: %w", err))
	}
	return errs
}

// StartListening clears the remote input buffer and starts capture. It is
// only allowed while Idle.
func (o *Orchestrator) StartListening(ctx context.Context) error {
	_, span := tracer.Start(ctx, "start listening")
	defer span.End()

	err := o.do(func(runtime *sessionRuntime) error { return o.startListening(runtime) })
	if err != nil {
		recordSpanError(span, err)
	}
	return err
}

// InterruptListening stops capture and discards uncommitted input audio.
func (o *Orchestrator) InterruptListening(ctx context.Context) error {
	return o.do(func(runtime *sessionRuntime) error { return o.interruptListening(runtime) })
}

// InterruptSpeaking barges in on the agent: the response is cancelled and
// the item truncated at the amount of audio sent to the speaker.
func (o *Orchestrator) InterruptSpeaking(ctx context.Context) error {
	_, span := tracer.Start(ctx, "interrupt speaking")
	defer span.End()

	err := o.do(func(runtime *sessionRuntime) error {
		span.SetAttributes(attribute.Int64("realtime.played_ms", o.playback.Ledger().PlayedDurationMs()))
		return o.interruptSpeaking(runtime)
	})
	if err != nil {
		recordSpanError(span, err)
	}
	return err
}

// Tap maps a single user gesture onto the current state: start listening
// when Idle, stop listening when Listening and barge in when Speaking.
func (o *Orchestrator) Tap(ctx context.Context) error {
	return o.do(func(runtime *sessionRuntime) error {
		switch o.State() {
		case StateIdle:
			return o.startListening(runtime)
		case StateListening:
			return o.interruptListening(runtime)
		case StateSpeaking:
			return o.interruptSpeaking(runtime)
		}
		return nil
	})
}

// SendText adds a typed user message and asks the agent to respond.
func (o *Orchestrator) SendText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	return o.do(func(runtime *sessionRuntime) error {
		o.messages.addUser(uuid.NewString(), text)
		runtime.emit(messagesChanged{Messages: o.messages.Snapshot()})
		runtime.writer.sendControl(commands.CreateItem(text))
		runtime.writer.sendControl(commands.CreateResponse(o.config.Instructions))
		return nil
	})
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	State       State
	Correlation Correlation
	Ledger      Ledger
	Messages    Messages
	Capturing   bool
	Playing     bool
}

func (o *Orchestrator) Snapshot() (Snapshot, error) {
	var snapshot Snapshot
	err := o.do(func(*sessionRuntime) error {
		snapshot = o.snapshot()
		return nil
	})
	return snapshot, err
}

func (o *Orchestrator) snapshot() Snapshot {
	correlation := o.correlation
	if correlation.ContentIndex != nil {
		index := *correlation.ContentIndex
		correlation.ContentIndex = &index
	}

	return Snapshot{
		State:       o.State(),
		Correlation: correlation,
		Ledger:      o.playback.Ledger(),
		Messages:    o.messages.Snapshot(),
		Capturing:   o.capture.IsCapturing(),
		Playing:     o.playback.IsPlaying(),
	}
}

// do runs fn on the session actor and waits for its result.
func (o *Orchestrator) do(fn func(runtime *sessionRuntime) error) error {
	runtime := o.active.Load()
	if runtime == nil || runtime.closing.Load() {
		return ErrNotConnected
	}

	var err error
	if !runtime.call(func() { err = fn(runtime) }) {
		return ErrNotConnected
	}
	return err
}

func (o *Orchestrator) receive(runtime *sessionRuntime) {
	defer close(runtime.receiveDone)

	for {
		frame, err := runtime.transport.Receive(runtime.ctx)
		if err != nil {
			if runtime.closing.Load() || runtime.ctx.Err() != nil {
				return
			}

			o.logger.Error("transport receive failed, disconnecting", "error", err)
			runtime.emit(errorRaised{Err: fmt.Errorf("%w: %w", ErrNotConnected, err)})
			go o.disconnect(runtime)
			return
		}

		o.dispatchFrame(runtime, frame)
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
