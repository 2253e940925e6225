package events

import "github.com/koscakluka/ema-datachat/core/results"

const (
	// KindTokenDelta identifies an incremental fragment of the assistant reply.
	KindTokenDelta Kind = "assistant_response.token_delta"
	// KindFinalAnswer identifies the terminal, fully structured answer of a
	// turn.
	KindFinalAnswer Kind = "assistant_response.final_answer"
)

// TokenDelta carries a fragment of the assistant's natural-language reply.
type TokenDelta struct {
	Base
	Token string
}

// NewTokenDelta creates a token delta event.
func NewTokenDelta(token string) TokenDelta {
	return TokenDelta{Base: NewBase(KindTokenDelta), Token: token}
}

// FinalAnswer is the terminal event of a turn. Table and Chart are nil when
// the server sent none or when the payload failed validation; in the latter
// case the validation error is kept in Rejected.
type FinalAnswer struct {
	Base
	Message string
	Table   *results.Table
	Chart   *results.Chart
	// RunID identifies the server-side run record, when the server sent one.
	RunID string

	Rejected []error
}

// NewFinalAnswer creates a final answer event.
func NewFinalAnswer(message string, table *results.Table, chart *results.Chart) FinalAnswer {
	return FinalAnswer{
		Base:    NewBase(KindFinalAnswer),
		Message: message,
		Table:   table,
		Chart:   chart,
	}
}
