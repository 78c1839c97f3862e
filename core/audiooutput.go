package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-realtime/core/audio"
)

// Ledger is the playback bookkeeping of the current agent turn.
type Ledger struct {
	// PendingBuffers counts buffers handed to the device and not yet played.
	PendingBuffers int
	// TurnDone is set once the agent signalled the end of the turn.
	TurnDone bool
	// PlayedSamples counts wire-rate samples sent to the device since the
	// last clear. It grows when a buffer is scheduled, not when it finishes.
	PlayedSamples int64
}

// PlayedDurationMs is the truncation offset of the audio sent to the device.
func (l Ledger) PlayedDurationMs() int64 {
	return l.PlayedSamples * 1000 / audio.WireSampleRate
}

// Drained reports whether the turn is over and nothing is left to play.
func (l Ledger) Drained() bool {
	return l.PendingBuffers == 0 && l.TurnDone
}

// playbackPipeline owns the output sink and its ledger. Every method except
// IsPlaying must be called from the session actor.
type playbackPipeline struct {
	// base stores the configured output client.
	base AudioOutput
	// controls is set when the output client can start and stop the device.
	controls AudioOutputControls

	ledger Ledger
	// generation changes on every clear so completions of discarded buffers
	// are ignored.
	generation uint64
	playing    atomic.Bool

	onPlayed func(generation uint64)
	logger   *slog.Logger
}

func newPlaybackPipeline(client AudioOutput) *playbackPipeline {
	p := &playbackPipeline{
		onPlayed: func(uint64) {},
		logger:   logger,
	}
	p.Set(client)
	return p
}

// Set replaces the configured output client. Nil and typed-nil clients are
// treated as unconfigured.
func (p *playbackPipeline) Set(client AudioOutput) {
	if p == nil {
		return
	}

	p.base = nil
	p.controls = nil

	if isNilClient(client) {
		return
	}

	p.base = client
	if controls, ok := client.(AudioOutputControls); ok {
		p.controls = controls
	}
}

func (p *playbackPipeline) isConfigured() bool { return p != nil && p.base != nil }
func (p *playbackPipeline) IsPlaying() bool    { return p != nil && p.playing.Load() }
func (p *playbackPipeline) Ledger() Ledger     { return p.ledger }

// EncodingInfo returns the output device encoding, or the project default if
// no client is configured.
func (p *playbackPipeline) EncodingInfo() audio.EncodingInfo {
	if p.isConfigured() {
		if info := p.base.EncodingInfo(); !info.IsZero() {
			return info
		}
	}
	return audio.GetDefaultEncodingInfo()
}

// onAudioDelta decodes, converts and schedules one wire audio payload. A
// buffer that cannot be converted is dropped without touching the ledger.
func (p *playbackPipeline) onAudioDelta(ctx context.Context, payload string) error {
	pcm, err := audio.DecodeBase64(payload)
	if err != nil {
		return err
	}
	samples := int64(len(pcm) / 2)
	if samples == 0 {
		return nil
	}

	if !p.isConfigured() {
		// Nothing can play it, so it counts as heard right away.
		p.ledger.PlayedSamples += samples
		return nil
	}

	buffer, err := audio.FromWire(pcm, p.EncodingInfo())
	if err != nil {
		return err
	}

	if err := p.base.SendAudio(buffer); err != nil {
		return fmt.Errorf("failed to schedule playback buffer: %w", err)
	}
	p.ledger.PendingBuffers++
	p.ledger.PlayedSamples += samples
	buffersScheduled.Add(ctx, 1)

	generation := p.generation
	if err := p.base.Mark(uuid.NewString(), func(string) { p.onPlayed(generation) }); err != nil {
		p.ledger.PendingBuffers--
		p.logger.Warn("playback completion unavailable, treating buffer as played", "error", err)
	}
	return nil
}

// bufferPlayed applies one completion. It reports false for completions that
// belong to buffers discarded by a clear.
func (p *playbackPipeline) bufferPlayed(generation uint64) bool {
	if generation != p.generation || p.ledger.PendingBuffers == 0 {
		return false
	}
	p.ledger.PendingBuffers--
	return true
}

func (p *playbackPipeline) beginTurn()  { p.ledger.TurnDone = false }
func (p *playbackPipeline) onTurnDone() { p.ledger.TurnDone = true }

// resume starts the output device. It is a no-op while already playing.
func (p *playbackPipeline) resume(ctx context.Context) error {
	if !p.playing.CompareAndSwap(false, true) {
		return nil
	}
	if p.controls != nil {
		if err := p.controls.StartPlayback(ctx); err != nil {
			return fmt.Errorf("failed to start playback: %w", err)
		}
	}
	return nil
}

// pause stops the output device and keeps scheduled buffers.
func (p *playbackPipeline) pause() error {
	if !p.playing.CompareAndSwap(true, false) {
		return nil
	}
	if p.controls != nil {
		if err := p.controls.StopPlayback(); err != nil {
			return fmt.Errorf("failed to stop playback: %w", err)
		}
	}
	return nil
}

// stopAndClear halts output, drops scheduled audio and resets the ledger.
func (p *playbackPipeline) stopAndClear() {
	if err := p.pause(); err != nil {
		p.logger.Warn("failed to stop playback", "error", err)
	}
	if p.isConfigured() {
		p.base.ClearBuffer()
	}
	p.ledger = Ledger{}
	p.generation++
}

// isNilClient detects nil and typed-nil interface values so Set can avoid
// storing unusable interface wrappers as configured clients.
func isNilClient(client any) bool {
	if client == nil {
		return true
	}

	v := reflect.ValueOf(client)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
