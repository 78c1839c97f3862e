package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-realtime/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	decodeErrors, _          = meter.Int64Counter("realtime.decode.errors", metric.WithDescription("Inbound frames that failed to decode"))
	capturedFramesDropped, _ = meter.Int64Counter("realtime.capture.frames_dropped", metric.WithDescription("Capture frames dropped on conversion failure"))
	buffersScheduled, _      = meter.Int64Counter("realtime.playback.buffers_scheduled", metric.WithDescription("Playback buffers handed to the output device"))
	sendErrors, _            = meter.Int64Counter("realtime.transport.send_errors", metric.WithDescription("Outbound frames the transport failed to send"))
	rejectedTransitions, _   = meter.Int64Counter("realtime.transitions.rejected", metric.WithDescription("Triggers ignored in the current session state"))
)
