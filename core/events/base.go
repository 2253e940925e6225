package events

import "time"

// Kind names an event type, e.g. "assistant_response.token_delta".
type Kind string

// EndsTurn reports whether events of this kind close a turn. Exactly one such
// event is emitted per started turn.
func (k Kind) EndsTurn() bool {
	switch k {
	case KindTurnCompleted, KindTurnFailed, KindTurnCancelled:
		return true
	}
	return false
}

// Event is anything produced by interpreting the chat stream or by the
// conversation assembler while it applies one.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base is embedded by every event. It records the kind and the moment the
// event was created, which for stream events is when its frame was
// interpreted.
type Base struct {
	kind      Kind
	createdAt time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, createdAt: time.Now()}
}

func (b Base) Kind() Kind { return b.kind }

func (b Base) Timestamp() time.Time { return b.createdAt }
