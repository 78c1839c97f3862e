package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

type playbackClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	queue playbackQueue

	mu sync.Mutex
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Playback)
	c.config.SampleRate = sampleRate
	c.config.Playback.Format = format
	c.config.Playback.Channels = channels
	c.config.Alsa.NoMMap = 1
	c.config.PeriodSizeInFrames = sampleRate / 50 // 20ms
	c.config.Periods = 4

	c.audioContext = audioContext

	var err error
	if c.device, err = malgo.InitDevice(
		c.audioContext.Context,
		c.config,
		malgo.DeviceCallbacks{Data: c.processAudio(bytesPerFrame)},
	); err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

// Stop halts the device and keeps queued audio so playback can resume.
func (c *playbackClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop playback device: %w", err)
	}
	return nil
}

func (c *playbackClient) SendAudio(audio []byte) error {
	c.mu.Lock()
	initialized := c.device != nil
	c.mu.Unlock()
	if !initialized {
		return fmt.Errorf("device not initialized")
	}

	c.queue.push(audio)
	return nil
}

func (c *playbackClient) ClearBuffer() {
	c.queue.clear()
}

func (c *playbackClient) Mark(mark string, callback func(string)) error {
	c.queue.mark(mark, callback)
	return nil
}

func (c *playbackClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return nil
	}

	c.device.Uninit()
	c.device = nil
	c.queue.clear()
	return nil
}

func (c *playbackClient) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame
		if need > len(pOutput) {
			need = len(pOutput)
		}

		reached := c.queue.fill(pOutput[:need])
		if len(reached) == 0 {
			return
		}
		// Keep the device thread free of callback work.
		go func() {
			for _, mark := range reached {
				mark.callback(mark.name)
			}
		}()
	}
}
