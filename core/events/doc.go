// Package events defines the typed inbound event contract of the realtime
// protocol and the decoder that produces it from raw text frames.
//
// Every server frame carries a "type" discriminant and an optional
// "event_id". Decode resolves the discriminant by exact match:
//
// response events
//
//   - ResponseCreated (response.created): a new agent turn started.
//   - OutputItemAdded (response.output_item.added): an output item was opened.
//   - OutputItemDone (response.output_item.done): an output item is complete.
//   - ContentPartAdded (response.content_part.added): a content part was opened.
//   - ContentPartDone (response.content_part.done): a content part is complete.
//   - AudioDelta (response.audio.delta): base64 PCM16/24kHz/mono fragment.
//   - AudioDone (response.audio.done): no more audio for the content part.
//   - TranscriptDelta (response.audio_transcript.delta): append-only
//     transcript fragment of the synthesized audio.
//   - TranscriptDone (response.audio_transcript.done): full transcript.
//   - TextDelta (response.text.delta) and TextDone (response.text.done): the
//     same for text-only turns.
//   - ResponseDone (response.done): the turn is complete.
//
// conversation events
//
//   - ConversationItemCreated (conversation.item.created)
//   - ItemTruncated (conversation.item.truncated)
//   - InputTranscriptionCompleted
//     (conversation.item.input_audio_transcription.completed)
//
// input audio buffer events
//
//   - SpeechStarted (input_audio_buffer.speech_started)
//   - SpeechStopped (input_audio_buffer.speech_stopped)
//   - InputBufferCommitted (input_audio_buffer.committed)
//   - InputBufferCleared (input_audio_buffer.cleared)
//
// session events
//
//   - SessionCreated (session.created), SessionUpdated (session.updated)
//   - RateLimitsUpdated (rate_limits.updated)
//   - ErrorOccurred (error)
//
// Any other discriminant decodes to Unhandled so that new server events do
// not break older clients.
package events
