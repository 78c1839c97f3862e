package orchestration

import (
	"errors"
	"fmt"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/commands"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// The functions in this file run on the session actor.

func (o *Orchestrator) setState(runtime *sessionRuntime, next State) {
	previous := State(o.state.Swap(int32(next)))
	if previous == next {
		return
	}

	o.logger.Debug("session state changed", "from", previous, "to", next)
	runtime.emit(stateChanged{State: next})
}

func (o *Orchestrator) reject(runtime *sessionRuntime, trigger string) error {
	state := o.State()
	rejectedTransitions.Add(runtime.ctx, 1, metric.WithAttributes(
		attribute.String("state", state.String()),
		attribute.String("trigger", trigger),
	))
	o.logger.Info("ignoring trigger", "state", state, "trigger", trigger)
	return &transitionError{state: state, trigger: trigger}
}

func (o *Orchestrator) startListening(runtime *sessionRuntime) error {
	if o.State() != StateIdle {
		return o.reject(runtime, "start listening")
	}

	runtime.writer.sendControl(commands.ClearAudioBuffer())
	o.playback.stopAndClear()

	if err := o.capture.start(runtime.ctx); err != nil {
		err = fmt.Errorf("failed to start capture: %w", err)
		o.logger.Error("capture did not start, staying idle", "error", err, "permission_denied", errors.Is(err, audio.ErrPermissionDenied))
		runtime.emit(errorRaised{Err: err})
		return err
	}

	o.setState(runtime, StateListening)
	return nil
}

func (o *Orchestrator) interruptListening(runtime *sessionRuntime) error {
	if o.State() != StateListening {
		return o.reject(runtime, "interrupt listening")
	}

	if err := o.capture.stop(); err != nil {
		o.logger.Warn("failed to stop capture", "error", err)
	}
	runtime.writer.sendControl(commands.ClearAudioBuffer())
	o.setState(runtime, StateIdle)
	return nil
}

func (o *Orchestrator) interruptSpeaking(runtime *sessionRuntime) error {
	if o.State() != StateSpeaking {
		return o.reject(runtime, "interrupt speaking")
	}

	if err := o.playback.pause(); err != nil {
		o.logger.Warn("failed to pause playback", "error", err)
	}

	playedMs := o.playback.Ledger().PlayedDurationMs()
	correlation := o.correlation

	runtime.writer.sendControl(commands.CancelResponse())
	if correlation.ItemID != "" {
		runtime.writer.sendControl(commands.TruncateItem(correlation.ItemID, correlation.ContentIndexOrZero(), playedMs))
	} else {
		o.logger.Warn("no item to truncate after cancelling response", "response_id", correlation.ResponseID)
	}

	o.cancelledResponseID = correlation.ResponseID
	o.playback.stopAndClear()
	o.setState(runtime, StateIdle)
	return nil
}

// beginSpeaking moves to Speaking with the microphone off and the speaker on.
func (o *Orchestrator) beginSpeaking(runtime *sessionRuntime) {
	if err := o.capture.stop(); err != nil {
		o.logger.Warn("failed to stop capture", "error", err)
	}
	if err := o.playback.resume(runtime.ctx); err != nil {
		o.logger.Warn("failed to resume playback", "error", err)
	}
	o.setState(runtime, StateSpeaking)
}

// finishTurnIfDrained chains Speaking to Idle to Listening once the agent
// ended its turn and every scheduled buffer was played.
func (o *Orchestrator) finishTurnIfDrained(runtime *sessionRuntime) {
	if o.State() != StateSpeaking || !o.playback.Ledger().Drained() {
		return
	}

	o.setState(runtime, StateIdle)
	if err := o.startListening(runtime); err != nil {
		o.logger.Warn("failed to resume listening after turn", "error", err)
	}
}

func (o *Orchestrator) bufferPlayed(runtime *sessionRuntime, generation uint64) {
	if !o.playback.bufferPlayed(generation) {
		return
	}
	o.finishTurnIfDrained(runtime)
}

func (o *Orchestrator) captureFailed(runtime *sessionRuntime, err error) {
	err = fmt.Errorf("capture stopped: %w", err)
	o.logger.Error("audio input failed", "error", err)
	runtime.emit(errorRaised{Err: err})

	if stopErr := o.capture.stop(); stopErr != nil {
		o.logger.Warn("failed to stop capture", "error", stopErr)
	}
	if o.State() == StateListening {
		o.setState(runtime, StateIdle)
	}
}

func (o *Orchestrator) teardown(runtime *sessionRuntime) {
	if err := o.capture.stop(); err != nil {
		o.logger.Warn("failed to stop capture", "error", err)
	}
	o.playback.stopAndClear()
	o.setState(runtime, StateIdle)

	o.correlation = Correlation{}
	o.cancelledResponseID = ""
	o.messages.clear()
	runtime.emit(messagesChanged{Messages: o.messages.Snapshot()})
}
