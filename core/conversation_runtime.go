package orchestration

import (
	"context"
	"sync"
	"sync/atomic"
)

const sessionIntentQueueCapacity = 256

// intent is a unit of work for the session actor. All session state is
// mutated from intents only.
type intent struct {
	run func()
	ack chan struct{}
}

// sessionRuntime holds everything that lives for one connection: the
// transport, the outbound writer and the actor serializing session state.
type sessionRuntime struct {
	ctx    context.Context
	cancel context.CancelFunc

	transport Transport
	writer    *outboundWriter
	emit      eventEmitter

	queue       chan intent
	closeCh     chan struct{}
	done        chan struct{}
	receiveDone chan struct{}

	startOnce sync.Once
	endOnce   sync.Once

	// closing is set once teardown began so receive errors are not reported.
	closing atomic.Bool
}

func newSessionRuntime(ctx context.Context, transport Transport, audioQueueCapacity int, emit eventEmitter) *sessionRuntime {
	ctx, cancel := context.WithCancel(ctx)
	if emit == nil {
		emit = noopEventEmitter
	}

	runtime := &sessionRuntime{
		ctx:         ctx,
		cancel:      cancel,
		transport:   transport,
		emit:        emit,
		queue:       make(chan intent, sessionIntentQueueCapacity),
		closeCh:     make(chan struct{}),
		done:        make(chan struct{}),
		receiveDone: make(chan struct{}),
	}
	runtime.writer = newOutboundWriter(ctx, transport.Send, audioQueueCapacity, logger)
	return runtime
}

func (runtime *sessionRuntime) start() {
	runtime.startOnce.Do(func() {
		go runtime.writer.Run()
		go func() {
			defer close(runtime.done)

			for {
				select {
				case <-runtime.closeCh:
					return
				case queued := <-runtime.queue:
					queued.run()
					if queued.ack != nil {
						close(queued.ack)
					}
				}
			}
		}()
	})
}

// end stops the actor and waits for it. Intents still queued are dropped.
func (runtime *sessionRuntime) end() {
	runtime.endOnce.Do(func() {
		close(runtime.closeCh)
	})
	<-runtime.done
}

// post queues fn without waiting for it to run.
func (runtime *sessionRuntime) post(fn func()) bool {
	if runtime.isClosed() {
		return false
	}

	select {
	case <-runtime.closeCh:
		return false
	case runtime.queue <- intent{run: fn}:
		return true
	}
}

// call queues fn and waits until the actor ran it.
func (runtime *sessionRuntime) call(fn func()) bool {
	if runtime.isClosed() {
		return false
	}

	ack := make(chan struct{})
	select {
	case <-runtime.closeCh:
		return false
	case runtime.queue <- intent{run: fn, ack: ack}:
	}

	select {
	case <-ack:
		return true
	case <-runtime.done:
		return false
	}
}

func (runtime *sessionRuntime) isClosed() bool {
	if runtime == nil {
		return true
	}

	select {
	case <-runtime.closeCh:
		return true
	default:
		return false
	}
}
