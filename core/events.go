package orchestration

import (
	"errors"

	"github.com/koscakluka/ema-realtime/core/events"
)

// dispatchFrame decodes one inbound frame and applies it on the session
// actor before returning, so frames are handled in arrival order.
func (o *Orchestrator) dispatchFrame(runtime *sessionRuntime, frame []byte) {
	event, err := events.Decode(frame)
	if err != nil {
		decodeErrors.Add(runtime.ctx, 1)
		var decodeErr *events.DecodeError
		if errors.As(err, &decodeErr) {
			o.logger.Error("dropping inbound frame", "type", decodeErr.Type, "raw", decodeErr.Raw, "error", decodeErr.Err)
		} else {
			o.logger.Error("dropping inbound frame", "error", err)
		}
		return
	}

	runtime.call(func() { o.handleEvent(runtime, event) })
}

func (o *Orchestrator) handleEvent(runtime *sessionRuntime, event events.Inbound) {
	switch event := event.(type) {
	case events.ErrorOccurred:
		o.handleProtocolError(runtime, event)
	case events.SessionCreated:
		o.logger.Info("remote session created", "session_id", event.Session.ID, "model", event.Session.Model)
	case events.SessionUpdated:
		o.logger.Debug("remote session updated", "session_id", event.Session.ID)
	case events.RateLimitsUpdated:
		runtime.emit(rateLimitsChanged{Limits: append([]events.RateLimit(nil), event.RateLimits...)})
	case events.ConversationItemCreated:
		if event.Item.Role == "user" && hasContent(event.Item, "input_audio") {
			o.messages.addUser(event.Item.ID, "")
			o.emitMessages(runtime)
		}
	case events.ItemTruncated:
		o.logger.Debug("item truncated", "item_id", event.ItemID, "audio_end_ms", event.AudioEndMs)
	case events.InputTranscriptionCompleted:
		o.messages.setUserTranscript(event.ItemID, event.Transcript)
		o.emitMessages(runtime)
	case events.SpeechStarted:
		if o.State() != StateListening {
			_ = o.reject(runtime, "speech started")
			return
		}
		if err := o.playback.pause(); err != nil {
			o.logger.Warn("failed to pause playback", "error", err)
		}
	case events.SpeechStopped:
		if o.State() != StateListening {
			_ = o.reject(runtime, "speech stopped")
			return
		}
		if o.playback.Ledger().PendingBuffers > 0 {
			if err := o.playback.resume(runtime.ctx); err != nil {
				o.logger.Warn("failed to resume playback", "error", err)
			}
		}
	case events.InputBufferCommitted:
		o.logger.Debug("input audio committed", "item_id", event.ItemID)
	case events.InputBufferCleared:
		o.logger.Debug("input audio cleared")
	case events.ResponseCreated:
		o.correlation = o.correlation.Apply(event)
		o.playback.beginTurn()
	case events.ResponseDone:
		o.handleTurnDone(runtime, event.Response.ID)
	case events.OutputItemAdded:
		o.correlation = o.correlation.Apply(event)
	case events.OutputItemDone:
		o.logger.Debug("output item done", "item_id", event.Item.ID)
	case events.ContentPartAdded:
		o.correlation = o.correlation.Apply(event)
	case events.ContentPartDone:
		o.logger.Debug("content part done", "item_id", event.ItemID, "content_index", event.ContentIndex)
	case events.AudioDelta:
		o.handleAudioDelta(runtime, event)
	case events.AudioDone:
		o.logger.Debug("audio done", "item_id", event.ItemID)
	case events.TranscriptDelta:
		o.correlation = o.correlation.Apply(event)
		o.messages.appendAgentDelta(event.ItemID, event.Delta)
		o.emitMessages(runtime)
	case events.TranscriptDone:
		o.messages.setAgentText(event.ItemID, event.Transcript)
		o.emitMessages(runtime)
	case events.TextDelta:
		o.messages.appendAgentDelta(event.ItemID, event.Delta)
		o.emitMessages(runtime)
	case events.TextDone:
		o.messages.setAgentText(event.ItemID, event.Text)
		o.emitMessages(runtime)
	case events.Unhandled:
		o.logger.Debug("ignoring unhandled event", "type", event.EventType())
	}
}

func (o *Orchestrator) handleAudioDelta(runtime *sessionRuntime, event events.AudioDelta) {
	if event.ResponseID != "" && event.ResponseID == o.cancelledResponseID {
		o.logger.Debug("dropping audio of cancelled response", "response_id", event.ResponseID)
		return
	}

	o.correlation = o.correlation.Apply(event)
	o.beginSpeaking(runtime)

	if err := o.playback.onAudioDelta(runtime.ctx, event.Payload); err != nil {
		o.logger.Warn("dropping playback buffer", "item_id", event.ItemID, "error", err)
	}
	o.finishTurnIfDrained(runtime)
}

func (o *Orchestrator) handleTurnDone(runtime *sessionRuntime, responseID string) {
	if o.messages.flush() {
		o.emitMessages(runtime)
	}
	if responseID == "" || responseID == o.correlation.ResponseID {
		o.playback.onTurnDone()
	}
	o.finishTurnIfDrained(runtime)
}

// handleProtocolError surfaces a remote error. An error during an active
// exchange ends the agent turn.
func (o *Orchestrator) handleProtocolError(runtime *sessionRuntime, event events.ErrorOccurred) {
	err := &ProtocolError{
		Type:    event.Error.Type,
		Code:    event.Error.Code,
		Message: event.Error.Message,
		Param:   event.Error.Param,
		EventID: event.Error.EventID,
	}
	o.logger.Warn("remote error", "code", err.Code, "message", err.Message, "param", err.Param)
	runtime.emit(errorRaised{Err: err})

	if state := o.State(); state == StateSpeaking || state == StateListening {
		o.handleTurnDone(runtime, "")
	}
}

func (o *Orchestrator) emitMessages(runtime *sessionRuntime) {
	runtime.emit(messagesChanged{Messages: o.messages.Snapshot()})
}

func hasContent(item events.Item, contentType string) bool {
	for _, content := range item.Content {
		if content.Type == contentType {
			return true
		}
	}
	return false
}
