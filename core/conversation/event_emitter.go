package conversation

import (
	"log/slog"

	"github.com/koscakluka/ema-datachat/core/events"
)

type eventEmitter func(events.Event)

type callbacks struct {
	onTurnStarted   func(turnID, prompt string)
	onTurnCompleted func(turnID string, answer events.FinalAnswer)
	onTurnFailed    func(err *TurnError)
	onEvent         func(event events.Event)
}

func newCallbackEventEmitter(opts callbacks, logger *slog.Logger) eventEmitter {
	call := func(name string, callback func()) {
		if err := panicSafeNamedCallback(name, callback); err != nil {
			logger.Error("observer failed", "error", err)
		}
	}

	return func(event events.Event) {
		if event.Kind().EndsTurn() {
			logger.Debug("turn ended", "kind", event.Kind())
		}
		if opts.onEvent != nil {
			call("event", func() { opts.onEvent(event) })
		}

		switch typedEvent := event.(type) {
		case events.TurnStarted:
			if opts.onTurnStarted != nil {
				call("turn started", func() { opts.onTurnStarted(typedEvent.TurnID, typedEvent.Prompt) })
			}
		case events.TurnCompleted:
			if opts.onTurnCompleted != nil {
				call("turn completed", func() { opts.onTurnCompleted(typedEvent.TurnID, typedEvent.Answer) })
			}
		case events.TurnFailed:
			if opts.onTurnFailed != nil {
				turnErr := &TurnError{TurnID: typedEvent.TurnID, Partial: typedEvent.Partial, Err: typedEvent.Err}
				call("turn failed", func() { opts.onTurnFailed(turnErr) })
			}
		case events.TurnCancelled:
			if opts.onTurnFailed != nil {
				turnErr := &TurnError{TurnID: typedEvent.TurnID, Partial: typedEvent.Partial, Err: typedEvent.Cause}
				call("turn failed", func() { opts.onTurnFailed(turnErr) })
			}
		}
	}
}
