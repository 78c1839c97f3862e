// Package portaudio provides blocking microphone capture and speaker playback
// through PortAudio.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-realtime/core/audio"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-realtime/core/audio/portaudio"

var logger = otelslog.NewLogger(scopeName)

type playbackItem struct {
	audio    []byte
	mark     string
	callback func(string)
}

// Client reads from the default input device and writes to the default
// output device with blocking streams. Playback runs on its own goroutine so
// SendAudio never blocks the caller.
type Client struct {
	bufferSize int
	input      *portaudio.Stream
	output     *portaudio.Stream
	in         []int16
	out        []int16

	mu       sync.Mutex
	cond     *sync.Cond
	items    []playbackItem
	leftover []byte
	playing  bool
	closed   bool
	done     chan struct{}
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	c := &Client{
		bufferSize: bufferSize,
		in:         make([]int16, bufferSize),
		out:        make([]int16, bufferSize),
		done:       make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)

	var err error
	if c.input, err = portaudio.OpenDefaultStream(1, 0, audio.DefaultSampleRate, bufferSize, c.in); err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if c.output, err = portaudio.OpenDefaultStream(0, 1, audio.DefaultSampleRate, bufferSize, c.out); err != nil {
		_ = c.input.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}

	go c.playLoop()
	return c, nil
}

// Stream blocks reading microphone frames until ctx is cancelled.
func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	if err := c.input.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	defer func() { _ = c.input.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.input.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				logger.Debug("input overflowed")
				continue
			}
			return fmt.Errorf("failed to read input stream: %w", err)
		}

		frame, _ := binary.Append(make([]byte, 0, len(c.in)*2), binary.LittleEndian, c.in)
		onAudio(frame)
	}
}

func (c *Client) StartPlayback(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		return nil
	}
	if err := c.output.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	c.playing = true
	c.cond.Broadcast()
	return nil
}

// StopPlayback pauses the output and keeps queued audio.
func (c *Client) StopPlayback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return nil
	}
	c.playing = false
	if err := c.output.Stop(); err != nil {
		return fmt.Errorf("failed to stop output stream: %w", err)
	}
	return nil
}

func (c *Client) SendAudio(audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client closed")
	}
	c.items = append(c.items, playbackItem{audio: audio})
	c.cond.Broadcast()
	return nil
}

// Mark runs callback once all audio sent before it was written to the device.
func (c *Client) Mark(mark string, callback func(string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client closed")
	}
	if callback == nil {
		callback = func(string) {}
	}
	c.items = append(c.items, playbackItem{mark: mark, callback: callback})
	c.cond.Broadcast()
	return nil
}

func (c *Client) ClearBuffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.leftover = nil
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.items = nil
	c.cond.Broadcast()
	c.mu.Unlock()

	<-c.done
	_ = c.input.Close()
	_ = c.output.Close()
	_ = portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Channels:   1,
		Format:     audio.EncodingLinear16,
	}
}

// nextChunk waits for a full device buffer or a mark. Audio shorter than a
// buffer is held back until more arrives or a mark flushes it padded with
// silence.
func (c *Client) nextChunk() (chunk []byte, marks []playbackItem, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bufferBytes := c.bufferSize * 2
	for {
		if c.closed {
			return nil, nil, false
		}
		for len(c.items) > 0 && len(c.leftover) < bufferBytes && c.items[0].callback == nil {
			c.leftover = append(c.leftover, c.items[0].audio...)
			c.items = c.items[1:]
		}
		if c.playing {
			if len(c.leftover) >= bufferBytes {
				chunk = c.leftover[:bufferBytes:bufferBytes]
				c.leftover = c.leftover[bufferBytes:]
				return chunk, nil, true
			}
			if len(c.items) > 0 {
				// A mark is next: flush what is left, then report it.
				chunk = c.leftover
				c.leftover = nil
				for len(c.items) > 0 && c.items[0].callback != nil {
					marks = append(marks, c.items[0])
					c.items = c.items[1:]
				}
				return chunk, marks, true
			}
		}
		c.cond.Wait()
	}
}

func (c *Client) playLoop() {
	defer close(c.done)

	for {
		chunk, marks, ok := c.nextChunk()
		if !ok {
			return
		}

		if len(chunk) > 0 {
			clear(c.out)
			_, _ = binary.Decode(chunk, binary.LittleEndian, c.out[:len(chunk)/2])
			if err := c.output.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
				logger.Warn("failed to write output stream", "error", err)
			}
		}

		for _, mark := range marks {
			mark.callback(mark.mark)
		}
	}
}
