package orchestration

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second
const tick = 5 * time.Millisecond

func TestConnectSendsSessionUpdate(t *testing.T) {
	s := newTestSession(t)

	require.Eventually(t, func() bool { return len(s.transport.sentOfType("session.update")) == 1 }, eventually, tick)
	update := s.transport.sentOfType("session.update")[0]
	assert.NotEmpty(t, update["event_id"])
	session := update["session"].(map[string]any)
	assert.Equal(t, "be brief", session["instructions"])
	assert.Equal(t, "pcm16", session["input_audio_format"])
	assert.Equal(t, StateIdle, s.orchestrator.State())
}

func TestConnectTwiceIsRejected(t *testing.T) {
	s := newTestSession(t)

	err := s.orchestrator.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestConnectWithoutTransport(t *testing.T) {
	o := NewOrchestrator(WithLogger(slog.New(slog.DiscardHandler)))

	assert.ErrorIs(t, o.Connect(context.Background()), ErrNoTransport)
	assert.ErrorIs(t, o.StartListening(context.Background()), ErrNotConnected)
}

func TestScenarioStartListeningThenFirstAudio(t *testing.T) {
	s := newTestSession(t)

	require.NoError(t, s.orchestrator.StartListening(context.Background()))
	snapshot := s.snapshot(t)
	assert.Equal(t, StateListening, snapshot.State)
	assert.True(t, s.input.isCapturing(), "expected capture to be active")
	require.Eventually(t, func() bool { return len(s.transport.sentOfType("input_audio_buffer.clear")) == 1 }, eventually, tick)

	s.feed(audioDeltaFrame("r1", "i1", 0, 100))
	snapshot = s.snapshot(t)
	assert.Equal(t, StateSpeaking, snapshot.State)
	assert.False(t, s.input.isCapturing(), "expected capture to stop")
	assert.True(t, s.output.isPlaying(), "expected playback to start")
	assert.Equal(t, 1, snapshot.Ledger.PendingBuffers)
	assert.Equal(t, "i1", snapshot.Correlation.ItemID)

	require.True(t, s.output.completeNext())
	snapshot = s.snapshot(t)
	assert.Equal(t, 0, snapshot.Ledger.PendingBuffers)
	assert.False(t, snapshot.Ledger.TurnDone)
	assert.Equal(t, StateSpeaking, snapshot.State)
}

func TestScenarioResponseDoneAfterDrainResumesListening(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.orchestrator.StartListening(context.Background()))
	s.feed(audioDeltaFrame("r1", "i1", 0, 100))
	require.True(t, s.output.completeNext())
	_ = s.snapshot(t)

	s.feed(responseDoneFrame("r1"))

	snapshot := s.snapshot(t)
	assert.Equal(t, StateListening, snapshot.State)
	assert.True(t, s.input.isCapturing())
	assert.False(t, s.output.isPlaying())
	assert.Equal(t, Ledger{}, snapshot.Ledger)
	require.Eventually(t, func() bool { return len(s.transport.sentOfType("input_audio_buffer.clear")) == 2 }, eventually, tick)
}

func TestAutoChainWaitsForLastBuffer(t *testing.T) {
	s := newTestSession(t)
	s.feed(responseCreatedFrame("r1"))
	s.feed(audioDeltaFrame("r1", "i1", 0, 50))
	s.feed(audioDeltaFrame("r1", "i1", 0, 50))
	s.feed(responseDoneFrame("r1"))

	require.True(t, s.output.completeNext())
	snapshot := s.snapshot(t)
	assert.Equal(t, StateSpeaking, snapshot.State, "listening must wait for the last buffer")
	assert.Equal(t, 1, snapshot.Ledger.PendingBuffers)

	require.True(t, s.output.completeNext())
	snapshot = s.snapshot(t)
	assert.Equal(t, StateListening, snapshot.State)
}

func TestScenarioInterruptSpeakingTruncatesAtPlayedDuration(t *testing.T) {
	s := newTestSession(t)
	s.feed(responseCreatedFrame("r1"))
	s.feed(`{"type":"response.output_item.added","response_id":"r1","output_index":0,"item":{"id":"i1","type":"message","role":"assistant"}}`)
	s.feed(`{"type":"response.content_part.added","response_id":"r1","item_id":"i1","output_index":0,"content_index":0,"part":{"type":"audio"}}`)
	for range 3 {
		s.feed(audioDeltaFrame("r1", "i1", 0, 400))
	}
	require.True(t, s.output.completeNext())

	snapshot := s.snapshot(t)
	require.Equal(t, StateSpeaking, snapshot.State)
	require.Equal(t, int64(1200), snapshot.Ledger.PlayedDurationMs())

	require.NoError(t, s.orchestrator.InterruptSpeaking(context.Background()))

	snapshot = s.snapshot(t)
	assert.Equal(t, StateIdle, snapshot.State)
	assert.False(t, s.output.isPlaying())
	assert.Equal(t, Ledger{}, snapshot.Ledger)

	require.Eventually(t, func() bool { return len(s.transport.sentOfType("conversation.item.truncate")) == 1 }, eventually, tick)
	types := s.transport.sentTypes()
	cancelAt := slices.Index(types, "response.cancel")
	truncateAt := slices.Index(types, "conversation.item.truncate")
	require.NotEqual(t, -1, cancelAt)
	assert.Less(t, cancelAt, truncateAt, "cancel must precede truncate")

	truncate := s.transport.sentOfType("conversation.item.truncate")[0]
	assert.Equal(t, "i1", truncate["item_id"])
	assert.EqualValues(t, 0, truncate["content_index"])
	assert.EqualValues(t, 1200, truncate["audio_end_ms"])
}

func TestScenarioMalformedFrameIsDroppedAndLogged(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.orchestrator.StartListening(context.Background()))
	before := s.snapshot(t)

	s.feed(`{"type":"response.audio.delta","content_index":"zero"`)
	s.feed(`{"type":"response.audio.delta","content_index":"zero"}`)

	after := s.snapshot(t)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"dropping inbound frame", "dropping inbound frame"}, s.logs.messages(slog.LevelError))

	s.feed(audioDeltaFrame("r1", "i1", 0, 20))
	assert.Equal(t, StateSpeaking, s.snapshot(t).State)
}

func TestFramesFromTransportAreDispatched(t *testing.T) {
	s := newTestSession(t)

	s.transport.inbound <- []byte(audioDeltaFrame("r1", "i1", 0, 20))

	require.Eventually(t, func() bool { return s.orchestrator.State() == StateSpeaking }, eventually, tick)
}

func TestInterruptListeningWhileIdleIsNoop(t *testing.T) {
	s := newTestSession(t)
	require.Eventually(t, func() bool { return len(s.transport.sentCommands()) == 1 }, eventually, tick)

	err := s.orchestrator.InterruptListening(context.Background())

	assert.ErrorIs(t, err, ErrTransitionRejected)
	assert.Equal(t, StateIdle, s.snapshot(t).State)
	assert.Never(t, func() bool { return len(s.transport.sentCommands()) != 1 }, 50*time.Millisecond, tick)
}

func TestStartListeningWhileSpeakingIsRejected(t *testing.T) {
	s := newTestSession(t)
	s.feed(audioDeltaFrame("r1", "i1", 0, 20))

	err := s.orchestrator.StartListening(context.Background())

	assert.ErrorIs(t, err, ErrTransitionRejected)
	snapshot := s.snapshot(t)
	assert.Equal(t, StateSpeaking, snapshot.State)
	assert.False(t, s.input.isCapturing())
	assert.Equal(t, 1, snapshot.Ledger.PendingBuffers)
}

func TestSpeechEventsWhileListeningControlPendingPlayback(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	require.NoError(t, s.orchestrator.StartListening(ctx))

	// Leave one buffer of the previous turn queued on a running device.
	require.NoError(t, s.orchestrator.do(func(runtime *sessionRuntime) error {
		s.orchestrator.playback.ledger.PendingBuffers = 1
		return s.orchestrator.playback.resume(runtime.ctx)
	}))
	starts, stops := s.output.playbackCalls()
	require.Equal(t, 1, starts)
	require.Equal(t, 0, stops)

	s.feed(speechStartedFrame("u1"))
	s.feed(speechStartedFrame("u1"))
	snapshot := s.snapshot(t)
	assert.Equal(t, StateListening, snapshot.State)
	assert.False(t, snapshot.Playing)
	starts, stops = s.output.playbackCalls()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops, "expected a single stop for repeated speech_started")

	s.feed(speechStoppedFrame("u1"))
	snapshot = s.snapshot(t)
	assert.Equal(t, StateListening, snapshot.State)
	assert.True(t, snapshot.Playing, "expected pending playback to resume")
	starts, _ = s.output.playbackCalls()
	assert.Equal(t, 2, starts)

	// Nothing pending: speech_stopped leaves the speaker off.
	require.NoError(t, s.orchestrator.do(func(*sessionRuntime) error {
		s.orchestrator.playback.ledger.PendingBuffers = 0
		return s.orchestrator.playback.pause()
	}))
	s.feed(speechStoppedFrame("u1"))
	snapshot = s.snapshot(t)
	assert.False(t, snapshot.Playing)
	starts, _ = s.output.playbackCalls()
	assert.Equal(t, 2, starts)
	assert.NotContains(t, s.logs.messages(slog.LevelInfo), "ignoring trigger")
}

func TestSpeechEventsOutsideListeningAreRejected(t *testing.T) {
	for _, tt := range []struct {
		name  string
		setup func(s *testSession)
		state State
	}{
		{name: "idle", setup: func(*testSession) {}, state: StateIdle},
		{name: "speaking", setup: func(s *testSession) { s.feed(audioDeltaFrame("r1", "i1", 0, 20)) }, state: StateSpeaking},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			tt.setup(s)
			before := s.snapshot(t)
			startsBefore, stopsBefore := s.output.playbackCalls()

			s.feed(speechStartedFrame("u1"))
			s.feed(speechStoppedFrame("u1"))

			after := s.snapshot(t)
			assert.Equal(t, tt.state, after.State)
			assert.Equal(t, before.Playing, after.Playing)
			assert.Equal(t, before.Ledger, after.Ledger)
			starts, stops := s.output.playbackCalls()
			assert.Equal(t, startsBefore, starts)
			assert.Equal(t, stopsBefore, stops)

			rejected := slices.DeleteFunc(s.logs.messages(slog.LevelInfo), func(message string) bool {
				return message != "ignoring trigger"
			})
			assert.Len(t, rejected, 2, "expected one rejection per speech event")
		})
	}
}

func TestInterruptListeningStopsCapture(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.orchestrator.StartListening(context.Background()))

	require.NoError(t, s.orchestrator.InterruptListening(context.Background()))

	assert.Equal(t, StateIdle, s.snapshot(t).State)
	assert.False(t, s.input.isCapturing())
	require.Eventually(t, func() bool { return len(s.transport.sentOfType("input_audio_buffer.clear")) == 2 }, eventually, tick)
}

func TestTapFollowsState(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.orchestrator.Tap(ctx))
	assert.Equal(t, StateListening, s.orchestrator.State())

	require.NoError(t, s.orchestrator.Tap(ctx))
	assert.Equal(t, StateIdle, s.orchestrator.State())

	s.feed(audioDeltaFrame("r1", "i1", 0, 20))
	require.NoError(t, s.orchestrator.Tap(ctx))
	assert.Equal(t, StateIdle, s.orchestrator.State())
	require.Eventually(t, func() bool { return len(s.transport.sentOfType("response.cancel")) == 1 }, eventually, tick)
}

func TestUnknownEventDoesNotChangeState(t *testing.T) {
	s := newTestSession(t)
	s.feed(audioDeltaFrame("r1", "i1", 0, 20))
	before := s.snapshot(t)

	s.feed(`{"type":"response.function_call_arguments.delta","delta":"{}"}`)

	assert.Equal(t, before, s.snapshot(t))
	assert.Empty(t, s.logs.messages(slog.LevelError))
}

func TestPermissionDeniedKeepsSessionIdle(t *testing.T) {
	s := newTestSession(t)
	s.input.startErr = audio.ErrPermissionDenied

	err := s.orchestrator.StartListening(context.Background())

	assert.ErrorIs(t, err, audio.ErrPermissionDenied)
	assert.Equal(t, StateIdle, s.snapshot(t).State)
	assert.False(t, s.input.isCapturing())
	errs := s.errs.all()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], audio.ErrPermissionDenied)

	s.input.startErr = nil
	require.NoError(t, s.orchestrator.StartListening(context.Background()))
	assert.Equal(t, StateListening, s.orchestrator.State())
}

func TestProtocolErrorIsSurfacedAndEndsTurn(t *testing.T) {
	s := newTestSession(t)
	s.feed(responseCreatedFrame("r1"))
	s.feed(audioDeltaFrame("r1", "i1", 0, 20))
	require.True(t, s.output.completeNext())

	s.feed(`{"type":"error","error":{"type":"server_error","code":"overloaded","message":"try again"}}`)

	errs := s.errs.all()
	require.Len(t, errs, 1)
	var protocolErr *ProtocolError
	require.True(t, errors.As(errs[0], &protocolErr))
	assert.Equal(t, "overloaded", protocolErr.Code)
	assert.Equal(t, "try again", protocolErr.Message)
	assert.Equal(t, StateListening, s.snapshot(t).State)
}

func TestProtocolErrorWhileIdleKeepsState(t *testing.T) {
	s := newTestSession(t)

	s.feed(`{"type":"error","error":{"message":"bad request"}}`)

	assert.Equal(t, StateIdle, s.snapshot(t).State)
	assert.Len(t, s.errs.all(), 1)
}

func TestAudioOfCancelledResponseIsDropped(t *testing.T) {
	s := newTestSession(t)
	s.feed(responseCreatedFrame("r1"))
	s.feed(audioDeltaFrame("r1", "i1", 0, 20))
	require.NoError(t, s.orchestrator.InterruptSpeaking(context.Background()))

	s.feed(audioDeltaFrame("r1", "i1", 0, 20))

	snapshot := s.snapshot(t)
	assert.Equal(t, StateIdle, snapshot.State)
	assert.Equal(t, 0, snapshot.Ledger.PendingBuffers)

	s.feed(responseCreatedFrame("r2"))
	s.feed(audioDeltaFrame("r2", "i2", 0, 20))
	assert.Equal(t, StateSpeaking, s.snapshot(t).State)
}

func TestStaleCompletionAfterClearIsIgnored(t *testing.T) {
	s := newTestSession(t)
	s.feed(responseCreatedFrame("r1"))
	s.feed(audioDeltaFrame("r1", "i1", 0, 20))
	stale, ok := s.output.takeMark()
	require.True(t, ok)
	require.NoError(t, s.orchestrator.InterruptSpeaking(context.Background()))

	s.feed(responseCreatedFrame("r2"))
	s.feed(audioDeltaFrame("r2", "i2", 0, 20))
	stale.callback(stale.name)

	snapshot := s.snapshot(t)
	assert.Equal(t, 1, snapshot.Ledger.PendingBuffers)
	assert.Equal(t, StateSpeaking, snapshot.State)
}

func TestTranscriptAssemblesMessages(t *testing.T) {
	var latest Messages
	s := newTestSession(t, WithMessagesCallback(func(messages Messages) { latest = messages }))

	require.NoError(t, s.orchestrator.SendText(context.Background(), "hello"))
	s.feed(responseCreatedFrame("r1"))
	s.feed(`{"type":"response.audio_transcript.delta","response_id":"r1","item_id":"i1","content_index":0,"delta":"Hi "}`)
	s.feed(`{"type":"response.audio_transcript.delta","response_id":"r1","item_id":"i1","content_index":0,"delta":"there"}`)

	snapshot := s.snapshot(t)
	require.NotNil(t, snapshot.Messages.InProgress)
	assert.Equal(t, "Hi there", snapshot.Messages.InProgress.Text)
	require.Len(t, snapshot.Messages.Finished, 1)
	assert.Equal(t, AuthorUser, snapshot.Messages.Finished[0].Author)

	s.feed(responseDoneFrame("r1"))

	snapshot = s.snapshot(t)
	assert.Nil(t, snapshot.Messages.InProgress)
	require.Len(t, snapshot.Messages.Finished, 2)
	assert.Equal(t, ChatMessage{ID: "i1", Text: "Hi there", Author: AuthorAgent}, snapshot.Messages.Finished[1])
	assert.Equal(t, snapshot.Messages, latest)

	require.Eventually(t, func() bool { return len(s.transport.sentOfType("response.create")) == 1 }, eventually, tick)
	types := s.transport.sentTypes()
	assert.Less(t, slices.Index(types, "conversation.item.create"), slices.Index(types, "response.create"))
}

func TestSpokenInputTranscriptFillsUserMessage(t *testing.T) {
	s := newTestSession(t)

	s.feed(`{"type":"conversation.item.created","item":{"id":"u1","type":"message","role":"user","content":[{"type":"input_audio"}]}}`)
	s.feed(`{"type":"conversation.item.input_audio_transcription.completed","item_id":"u1","content_index":0,"transcript":"what time is it"}`)

	finished := s.snapshot(t).Messages.Finished
	require.Len(t, finished, 1)
	assert.Equal(t, ChatMessage{ID: "u1", Text: "what time is it", Author: AuthorUser}, finished[0])
}

func TestRateLimitsAreForwarded(t *testing.T) {
	limits := make(chan int, 1)
	s := newTestSession(t, WithRateLimitsCallback(func(l []events.RateLimit) { limits <- len(l) }))

	s.feed(`{"type":"rate_limits.updated","rate_limits":[{"name":"requests","limit":10,"remaining":9,"reset_seconds":1}]}`)

	assert.Equal(t, 1, <-limits)
}

func TestDisconnectTearsDown(t *testing.T) {
	var states []State
	s := startSession(t, WithStateChangedCallback(func(state State) { states = append(states, state) }))
	require.NoError(t, s.orchestrator.StartListening(context.Background()))

	require.NoError(t, s.orchestrator.Disconnect())

	assert.Equal(t, StateIdle, s.orchestrator.State())
	assert.False(t, s.input.isCapturing())
	assert.False(t, s.output.isPlaying())
	assert.True(t, s.transport.isClosed())
	assert.Equal(t, []State{StateListening, StateIdle}, states)
	assert.ErrorIs(t, s.orchestrator.Disconnect(), ErrNotConnected)
	_, err := s.orchestrator.Snapshot()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReceiveFailureDisconnects(t *testing.T) {
	s := startSession(t)

	s.transport.failures <- errors.New("connection reset")

	require.Eventually(t, func() bool { return s.transport.isClosed() }, eventually, tick)
	require.Eventually(t, func() bool {
		_, err := s.orchestrator.Snapshot()
		return errors.Is(err, ErrNotConnected)
	}, eventually, tick)
	errs := s.errs.all()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrNotConnected)
}

func TestReconnectAfterDisconnect(t *testing.T) {
	s := startSession(t)
	require.NoError(t, s.orchestrator.Disconnect())

	second := newFakeTransport()
	WithTransport(second)(s.orchestrator)
	require.NoError(t, s.orchestrator.Connect(context.Background()))
	defer s.orchestrator.Disconnect()

	require.NoError(t, s.orchestrator.StartListening(context.Background()))
	require.Eventually(t, func() bool { return len(second.sentOfType("input_audio_buffer.clear")) == 1 }, eventually, tick)
}
