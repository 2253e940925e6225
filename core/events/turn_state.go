package events

const (
	// KindTurnStarted identifies the start of a turn.
	KindTurnStarted Kind = "turn_state.started"
	// KindTurnCompleted identifies a turn finalized by a final answer.
	KindTurnCompleted Kind = "turn_state.completed"
	// KindTurnFailed identifies a turn whose stream ended without a final
	// answer.
	KindTurnFailed Kind = "turn_state.failed"
	// KindTurnCancelled identifies a turn whose stream was aborted by the
	// caller.
	KindTurnCancelled Kind = "turn_state.cancelled"
)

// TurnStarted marks the start of a turn.
type TurnStarted struct {
	Base
	TurnID string
	Prompt string
}

// NewTurnStarted creates a turn started event.
func NewTurnStarted(turnID, prompt string) TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted), TurnID: turnID, Prompt: prompt}
}

// TurnCompleted marks successful completion of a turn.
type TurnCompleted struct {
	Base
	TurnID string
	Answer FinalAnswer
}

// NewTurnCompleted creates a turn completed event.
func NewTurnCompleted(turnID string, answer FinalAnswer) TurnCompleted {
	return TurnCompleted{Base: NewBase(KindTurnCompleted), TurnID: turnID, Answer: answer}
}

// TurnFailed marks a turn that ended without a final answer. Partial is the
// assistant text assembled before the stream ended.
type TurnFailed struct {
	Base
	TurnID  string
	Partial string
	Err     error
}

// NewTurnFailed creates a turn failed event.
func NewTurnFailed(turnID, partial string, err error) TurnFailed {
	return TurnFailed{Base: NewBase(KindTurnFailed), TurnID: turnID, Partial: partial, Err: err}
}

// TurnCancelled marks a turn whose stream was aborted by the caller. Partial
// content is kept, cancellation is not a rollback. Cause is the context error
// that aborted the stream.
type TurnCancelled struct {
	Base
	TurnID  string
	Partial string
	Cause   error
}

// NewTurnCancelled creates a turn cancelled event.
func NewTurnCancelled(turnID, partial string, cause error) TurnCancelled {
	return TurnCancelled{Base: NewBase(KindTurnCancelled), TurnID: turnID, Partial: partial, Cause: cause}
}
