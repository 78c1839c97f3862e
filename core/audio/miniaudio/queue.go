package miniaudio

import "sync"

type playbackMark struct {
	name     string
	position int64
	callback func(string)
}

// playbackQueue holds audio waiting for the device together with the marks
// placed between buffers. Positions are absolute byte offsets since the
// client was created.
type playbackQueue struct {
	mu sync.Mutex

	audio    []byte
	marks    []playbackMark
	queued   int64
	consumed int64
}

func (q *playbackQueue) push(audio []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.audio = append(q.audio, audio...)
	q.queued += int64(len(audio))
}

// mark registers callback to run once everything queued so far was played.
func (q *playbackQueue) mark(name string, callback func(string)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.marks = append(q.marks, playbackMark{name: name, position: q.queued, callback: callback})
}

// clear drops queued audio and pending marks. Dropped marks never fire.
func (q *playbackQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.audio = nil
	q.marks = nil
	q.consumed = q.queued
}

func (q *playbackQueue) buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.audio)
}

// fill copies queued audio into out, pads the rest with silence and returns
// the marks that were reached. Callbacks are left to the caller so they never
// run under the lock.
func (q *playbackQueue) fill(out []byte) []playbackMark {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := copy(out, q.audio)
	clear(out[n:])
	q.audio = q.audio[n:]
	if len(q.audio) == 0 {
		q.audio = nil
	}
	q.consumed += int64(n)

	reached := 0
	for reached < len(q.marks) && q.marks[reached].position <= q.consumed {
		reached++
	}
	if reached == 0 {
		return nil
	}
	passed := q.marks[:reached:reached]
	q.marks = q.marks[reached:]
	return passed
}
