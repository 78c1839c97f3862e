package orchestration

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/koscakluka/ema-realtime/core/audio"
)

// capturePipeline owns the microphone tap. Frames arrive on the device
// callback and are forwarded as wire audio only while the session listens.
type capturePipeline struct {
	// base stores the configured input client used for streaming audio.
	base audioInputBase
	// controls is set when the input client supports explicit capture controls.
	controls     AudioInputFine
	encodingInfo audio.EncodingInfo

	// connected reports whether a concrete input client is currently configured.
	connected atomic.Bool
	// isCapturing reports whether the input client is currently capturing audio.
	isCapturing atomic.Bool

	// cancelStream stops a Stream based capture and streamDone closes once
	// that Stream call returned. Only touched by the session actor.
	cancelStream context.CancelFunc
	streamDone   chan struct{}

	isListening    func() bool
	onWireAudio    func(encoded string)
	onVolume       func(volume float64)
	onStreamFailed func(err error)
	logger         *slog.Logger
}

func newCapturePipeline(client audioInputBase) *capturePipeline {
	c := &capturePipeline{
		isListening:    func() bool { return false },
		onWireAudio:    func(string) {},
		onVolume:       func(float64) {},
		onStreamFailed: func(error) {},
		logger:         logger,
	}
	c.Set(client)
	return c
}

func (c *capturePipeline) Set(client audioInputBase) {
	if c == nil {
		return
	}

	c.base = nil
	c.controls = nil
	c.encodingInfo = audio.GetDefaultEncodingInfo()
	c.connected.Store(false)
	c.isCapturing.Store(false)

	if isNilClient(client) {
		return
	}

	c.base = client
	c.connected.Store(true)
	if fine, ok := client.(AudioInputFine); ok {
		c.controls = fine
	}
	if info := client.EncodingInfo(); !info.IsZero() {
		c.encodingInfo = info
	}
}

func (c *capturePipeline) IsConfigured() bool            { return c != nil && c.connected.Load() }
func (c *capturePipeline) SupportsCaptureControls() bool { return c != nil && c.controls != nil }
func (c *capturePipeline) IsCapturing() bool             { return c != nil && c.isCapturing.Load() }

func (c *capturePipeline) EncodingInfo() audio.EncodingInfo {
	if c == nil {
		return audio.GetDefaultEncodingInfo()
	}
	return c.encodingInfo
}

// start begins capturing. Clients with capture controls report start
// failures (including denied permission) synchronously; Stream clients report
// them through onStreamFailed.
func (c *capturePipeline) start(ctx context.Context) error {
	if !c.IsConfigured() {
		return nil
	}

	if !c.isCapturing.CompareAndSwap(false, true) {
		return nil
	}

	if c.SupportsCaptureControls() {
		if err := c.controls.StartCapture(ctx, c.onRawFrame); err != nil {
			c.isCapturing.Store(false)
			return err
		}
		return nil
	}

	// A device is never streamed twice at once.
	c.waitStream()

	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancelStream = cancel
	c.streamDone = done
	go func() {
		err := c.base.Stream(streamCtx, c.onRawFrame)
		close(done)
		if err != nil && streamCtx.Err() == nil {
			c.onStreamFailed(err)
		}
	}()
	return nil
}

// waitStream blocks until the last Stream call returned.
func (c *capturePipeline) waitStream() {
	if c.streamDone == nil {
		return
	}
	<-c.streamDone
	c.streamDone = nil
}

func (c *capturePipeline) stop() error {
	if !c.IsConfigured() {
		return nil
	}

	if !c.isCapturing.CompareAndSwap(true, false) {
		return nil
	}

	if c.cancelStream != nil {
		c.cancelStream()
		c.cancelStream = nil
	}
	c.waitStream()

	if c.SupportsCaptureControls() {
		return c.controls.StopCapture()
	}
	return nil
}

func (c *capturePipeline) Close() error {
	if !c.IsConfigured() {
		return nil
	}

	var errs error
	if err := c.stop(); err != nil {
		errs = errors.Join(errs, err)
	}
	c.waitStream()
	c.base.Close()
	c.connected.Store(false)

	return errs
}

// onRawFrame runs on the audio device callback. It never blocks: the state
// is read atomically and the encoded frame goes to the writer's audio lane.
func (c *capturePipeline) onRawFrame(frame []byte) {
	if !c.isListening() {
		return
	}

	wire, err := audio.ToWire(frame, c.encodingInfo)
	if err != nil {
		capturedFramesDropped.Add(context.Background(), 1)
		c.logger.Warn("dropping capture frame", "error", err, "bytes", len(frame))
		return
	}
	if len(wire) == 0 {
		return
	}

	c.onVolume(audio.Volume(wire))
	c.onWireAudio(audio.EncodeBase64(wire))
}
