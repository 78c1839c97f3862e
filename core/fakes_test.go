package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/stretchr/testify/require"
)

var errTransportClosed = errors.New("transport closed")

type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error

	inbound   chan []byte
	failures  chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:  make(chan []byte, 16),
		failures: make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (f *fakeTransport) Send(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-f.inbound:
		return frame, nil
	case err := <-f.failures:
		return nil, err
	case <-f.closed:
		return nil, errTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// sentCommands returns every decoded outbound frame, in order.
func (f *fakeTransport) sentCommands() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]map[string]any, 0, len(f.sent))
	for _, frame := range f.sent {
		var decoded map[string]any
		if err := json.Unmarshal(frame, &decoded); err != nil {
			panic(fmt.Sprintf("outbound frame is not json: %v", err))
		}
		out = append(out, decoded)
	}
	return out
}

func (f *fakeTransport) sentOfType(commandType string) []map[string]any {
	var out []map[string]any
	for _, cmd := range f.sentCommands() {
		if cmd["type"] == commandType {
			out = append(out, cmd)
		}
	}
	return out
}

func (f *fakeTransport) sentTypes() []string {
	var out []string
	for _, cmd := range f.sentCommands() {
		out = append(out, fmt.Sprint(cmd["type"]))
	}
	return out
}

type fakeAudioInput struct {
	mu         sync.Mutex
	onAudio    func([]byte)
	capturing  bool
	startErr   error
	startCalls int
	stopCalls  int
	info       audio.EncodingInfo
}

func (f *fakeAudioInput) EncodingInfo() audio.EncodingInfo {
	if f.info.IsZero() {
		return audio.WireEncodingInfo()
	}
	return f.info
}

func (f *fakeAudioInput) Stream(ctx context.Context, onAudio func([]byte)) error {
	return errors.New("stream not supported by fake")
}

func (f *fakeAudioInput) Close() {}

func (f *fakeAudioInput) StartCapture(_ context.Context, onAudio func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	f.onAudio = onAudio
	f.capturing = true
	return nil
}

func (f *fakeAudioInput) StopCapture() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	f.onAudio = nil
	f.capturing = false
	return nil
}

func (f *fakeAudioInput) isCapturing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capturing
}

// push delivers a frame the way a device callback would.
func (f *fakeAudioInput) push(frame []byte) {
	f.mu.Lock()
	onAudio := f.onAudio
	f.mu.Unlock()
	if onAudio != nil {
		onAudio(frame)
	}
}

type fakeMark struct {
	name     string
	callback func(string)
}

type fakeAudioOutput struct {
	mu         sync.Mutex
	buffers    [][]byte
	marks      []fakeMark
	playing    bool
	clearCalls int
	startCalls int
	stopCalls  int
	sendErr    error
	info       audio.EncodingInfo
}

func (f *fakeAudioOutput) EncodingInfo() audio.EncodingInfo {
	if f.info.IsZero() {
		return audio.WireEncodingInfo()
	}
	return f.info
}

func (f *fakeAudioOutput) SendAudio(buffer []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.buffers = append(f.buffers, buffer)
	return nil
}

func (f *fakeAudioOutput) Mark(mark string, callback func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, fakeMark{name: mark, callback: callback})
	return nil
}

func (f *fakeAudioOutput) ClearBuffer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	f.buffers = nil
	f.marks = nil
}

func (f *fakeAudioOutput) StartPlayback(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = true
	f.startCalls++
	return nil
}

func (f *fakeAudioOutput) StopPlayback() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
	f.stopCalls++
	return nil
}

func (f *fakeAudioOutput) isPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeAudioOutput) playbackCalls() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.stopCalls
}

func (f *fakeAudioOutput) pendingMarks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.marks)
}

// takeMark removes the oldest mark without playing it.
func (f *fakeAudioOutput) takeMark() (fakeMark, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.marks) == 0 {
		return fakeMark{}, false
	}
	mark := f.marks[0]
	f.marks = f.marks[1:]
	return mark, true
}

// completeNext plays the oldest scheduled buffer.
func (f *fakeAudioOutput) completeNext() bool {
	mark, ok := f.takeMark()
	if !ok {
		return false
	}
	mark.callback(mark.name)
	return true
}

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) messages(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, record := range h.records {
		if record.Level == level {
			out = append(out, record.Message)
		}
	}
	return out
}

type testSession struct {
	orchestrator *Orchestrator
	transport    *fakeTransport
	input        *fakeAudioInput
	output       *fakeAudioOutput
	logs         *recordingHandler
	errs         *errorRecorder
}

type errorRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errorRecorder) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *errorRecorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func startSession(t require.TestingT, connectOpts ...ConnectOption) *testSession {
	s := &testSession{
		transport: newFakeTransport(),
		input:     &fakeAudioInput{},
		output:    &fakeAudioOutput{},
		logs:      &recordingHandler{},
		errs:      &errorRecorder{},
	}
	s.orchestrator = NewOrchestrator(
		WithConfig(&Config{ServerURL: "wss://example.test/v1/realtime", AuthToken: "token", Instructions: "be brief"}),
		WithTransport(s.transport),
		WithAudioInput(s.input),
		WithAudioOutput(s.output),
		WithLogger(slog.New(s.logs)),
	)

	opts := append([]ConnectOption{WithErrorCallback(s.errs.record)}, connectOpts...)
	require.NoError(t, s.orchestrator.Connect(context.Background(), opts...))
	return s
}

type cleanupT interface {
	require.TestingT
	Cleanup(func())
}

func newTestSession(t cleanupT, connectOpts ...ConnectOption) *testSession {
	s := startSession(t, connectOpts...)
	t.Cleanup(func() { _ = s.orchestrator.Disconnect() })
	return s
}

// feed dispatches a frame exactly as the receive loop would.
func (s *testSession) feed(frame string) {
	s.orchestrator.dispatchFrame(s.orchestrator.active.Load(), []byte(frame))
}

func (s *testSession) snapshot(t require.TestingT) Snapshot {
	snapshot, err := s.orchestrator.Snapshot()
	require.NoError(t, err)
	return snapshot
}

func speechStartedFrame(itemID string) string {
	return fmt.Sprintf(`{"type":"input_audio_buffer.speech_started","audio_start_ms":0,"item_id":%q}`, itemID)
}

func speechStoppedFrame(itemID string) string {
	return fmt.Sprintf(`{"type":"input_audio_buffer.speech_stopped","audio_end_ms":0,"item_id":%q}`, itemID)
}

func audioDeltaFrame(responseID, itemID string, contentIndex, durationMs int) string {
	pcm := make([]byte, durationMs*audio.WireSampleRate/1000*2)
	return fmt.Sprintf(
		`{"type":"response.audio.delta","response_id":%q,"item_id":%q,"output_index":0,"content_index":%d,"delta":%q}`,
		responseID, itemID, contentIndex, audio.EncodeBase64(pcm),
	)
}

func responseCreatedFrame(responseID string) string {
	return fmt.Sprintf(`{"type":"response.created","response":{"id":%q,"status":"in_progress","output":[]}}`, responseID)
}

func responseDoneFrame(responseID string) string {
	return fmt.Sprintf(`{"type":"response.done","response":{"id":%q,"status":"completed","output":[]}}`, responseID)
}
