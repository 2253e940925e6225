package conversation

import (
	"log/slog"

	"github.com/koscakluka/ema-datachat/core/events"
)

type AssemblerOption func(*Assembler)

// WithLogger replaces the package logger for this assembler.
func WithLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithHistory seeds the transcript with previously finalised messages, for
// example ones restored from a store. The assembler starts idle.
func WithHistory(history Transcript) AssemblerOption {
	return func(a *Assembler) {
		a.transcript = history.Clone()
	}
}

// WithTranscriptCallback registers a callback invoked after every mutation
// with a snapshot of the whole transcript and the change that produced it.
//
// The snapshot is a deep copy; receivers may keep or modify it freely.
func WithTranscriptCallback(callback func(transcript Transcript, change Change)) AssemblerOption {
	return func(a *Assembler) {
		a.onTranscript = callback
	}
}

func WithTurnStartedCallback(callback func(turnID, prompt string)) AssemblerOption {
	return func(a *Assembler) {
		a.callbacks.onTurnStarted = callback
	}
}

// WithTurnCompletedCallback registers a callback invoked exactly once per turn
// that received a final answer.
func WithTurnCompletedCallback(callback func(turnID string, answer events.FinalAnswer)) AssemblerOption {
	return func(a *Assembler) {
		a.callbacks.onTurnCompleted = callback
	}
}

// WithTurnFailedCallback registers a callback invoked when a turn's stream
// ends, errors or is cancelled before a final answer arrived.
func WithTurnFailedCallback(callback func(err *TurnError)) AssemblerOption {
	return func(a *Assembler) {
		a.callbacks.onTurnFailed = callback
	}
}

// WithEventCallback registers a callback receiving every event the assembler
// applies or produces, in order.
func WithEventCallback(callback func(event events.Event)) AssemblerOption {
	return func(a *Assembler) {
		a.callbacks.onEvent = callback
	}
}
