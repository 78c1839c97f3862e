package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-realtime/core/commands"
)

const (
	priorityQueueCapacity     = 32
	defaultAudioQueueCapacity = 64
	shutdownFlushTimeout      = 100 * time.Millisecond
)

type sendFunc func(ctx context.Context, frame []byte) error

// outboundWriter is the only goroutine writing to the transport. Control
// commands go through the priority lane and are always written before queued
// audio. Audio is dropped when its lane is full.
type outboundWriter struct {
	ctx    context.Context
	send   sendFunc
	logger *slog.Logger

	priority chan commands.Command
	normal   chan commands.Command

	closeCh  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newOutboundWriter(ctx context.Context, send sendFunc, audioQueueCapacity int, logger *slog.Logger) *outboundWriter {
	if audioQueueCapacity <= 0 {
		audioQueueCapacity = defaultAudioQueueCapacity
	}

	return &outboundWriter{
		ctx:      ctx,
		send:     send,
		logger:   logger,
		priority: make(chan commands.Command, priorityQueueCapacity),
		normal:   make(chan commands.Command, audioQueueCapacity),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *outboundWriter) Run() {
	defer close(w.done)

	var pendingNormal commands.Command
	for {
		select {
		case <-w.closeCh:
			w.flushPriorityOnShutdown()
			return
		default:
		}

		// Hard priority: if anything is queued, handle it before writing normal frames.
		select {
		case cmd := <-w.priority:
			w.write(cmd)
			continue
		default:
		}

		if pendingNormal != nil {
			w.write(pendingNormal)
			pendingNormal = nil
			continue
		}

		select {
		case <-w.closeCh:
			w.flushPriorityOnShutdown()
			return
		case cmd := <-w.priority:
			w.write(cmd)
		case cmd := <-w.normal:
			// Let a newly queued control command preempt before writing.
			pendingNormal = cmd
		}
	}
}

// sendControl queues a control command, waiting for room in the lane.
func (w *outboundWriter) sendControl(cmd commands.Command) bool {
	select {
	case <-w.closeCh:
		return false
	default:
	}

	select {
	case <-w.closeCh:
		return false
	case w.priority <- cmd:
		return true
	}
}

// sendAudio queues an audio command without blocking.
func (w *outboundWriter) sendAudio(cmd commands.Command) bool {
	select {
	case <-w.closeCh:
		return false
	default:
	}

	select {
	case w.normal <- cmd:
		return true
	default:
		w.logger.Debug("outbound audio lane full, dropping frame")
		return false
	}
}

func (w *outboundWriter) stop() {
	w.stopOnce.Do(func() { close(w.closeCh) })
	<-w.done
}

func (w *outboundWriter) flushPriorityOnShutdown() {
	deadline := time.Now().Add(shutdownFlushTimeout)
	for time.Now().Before(deadline) {
		select {
		case cmd := <-w.priority:
			w.write(cmd)
		default:
			return
		}
	}
}

func (w *outboundWriter) write(cmd commands.Command) {
	frame, err := commands.Encode(cmd, uuid.NewString())
	if err != nil {
		w.logger.Error("failed to encode outbound command", "type", cmd.CommandType(), "error", err)
		return
	}

	if err := w.send(w.ctx, frame); err != nil {
		sendErrors.Add(w.ctx, 1)
		w.logger.Warn("dropping outbound command",
			"type", cmd.CommandType(),
			"error", fmt.Errorf("%w: %w", ErrTransportSend, err),
		)
	}
}
