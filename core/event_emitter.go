package orchestration

import "github.com/koscakluka/ema-realtime/core/events"

// sessionEvent is a notification for the presentation boundary.
type sessionEvent interface{ sessionEvent() }

type stateChanged struct{ State State }
type messagesChanged struct{ Messages Messages }
type volumeMeasured struct{ Volume float64 }
type errorRaised struct{ Err error }
type rateLimitsChanged struct{ Limits []events.RateLimit }

func (stateChanged) sessionEvent()      {}
func (messagesChanged) sessionEvent()   {}
func (volumeMeasured) sessionEvent()    {}
func (errorRaised) sessionEvent()       {}
func (rateLimitsChanged) sessionEvent() {}

type eventEmitter func(sessionEvent)

func noopEventEmitter(sessionEvent) {}

func newCallbackEventEmitter(opts ConnectOptions) eventEmitter {
	return func(event sessionEvent) {
		switch typedEvent := event.(type) {
		case stateChanged:
			if opts.onStateChanged != nil {
				opts.onStateChanged(typedEvent.State)
			}
		case messagesChanged:
			if opts.onMessages != nil {
				opts.onMessages(typedEvent.Messages)
			}
		case volumeMeasured:
			if opts.onVolume != nil {
				opts.onVolume(typedEvent.Volume)
			}
		case errorRaised:
			if opts.onError != nil {
				opts.onError(typedEvent.Err)
			}
		case rateLimitsChanged:
			if opts.onRateLimits != nil {
				opts.onRateLimits(typedEvent.Limits)
			}
		}
	}
}
