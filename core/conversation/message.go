package conversation

import (
	"slices"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-datachat/core/results"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single transcript entry. Table, Chart and RunID are only ever
// set on finalised assistant messages.
type Message struct {
	ID     string
	TurnID string
	Role   Role
	// Content is the accumulated reply while the message is streaming and the
	// authoritative final text once it is finalised.
	Content string
	Table   *results.Table
	Chart   *results.Chart
	RunID   string

	IsFinalised bool
}

// Clone returns a copy of the message that shares no mutable state with it.
func (m Message) Clone() Message {
	cloned := m
	if m.Table != nil {
		cloned.Table = &results.Table{}
		if err := copier.CopyWithOption(cloned.Table, m.Table, copier.Option{DeepCopy: true}); err != nil {
			logger.Warn("failed to copy table, sharing it instead", "message_id", m.ID, "error", err)
			cloned.Table = m.Table
		}
	}
	if m.Chart != nil {
		cloned.Chart = &results.Chart{}
		if err := copier.CopyWithOption(cloned.Chart, m.Chart, copier.Option{DeepCopy: true}); err != nil {
			logger.Warn("failed to copy chart, sharing it instead", "message_id", m.ID, "error", err)
			cloned.Chart = m.Chart
		}
	}
	return cloned
}

// Transcript is the ordered list of messages of one conversation.
type Transcript []Message

// Clone returns a deep copy of the transcript.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	cloned := make(Transcript, len(t))
	for i, message := range t {
		cloned[i] = message.Clone()
	}
	return cloned
}

// Last returns the most recent message, if any.
func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}

// LatestChart returns the chart of the most recent message that carries one.
func (t Transcript) LatestChart() *results.Chart {
	for _, message := range slices.Backward(t) {
		if message.Chart != nil {
			return message.Chart
		}
	}
	return nil
}

// Finalised returns the messages that are no longer changing: every user
// message and every assistant message that received a final answer.
func (t Transcript) Finalised() Transcript {
	var finalised Transcript
	for _, message := range t {
		if message.IsFinalised {
			finalised = append(finalised, message)
		}
	}
	return finalised
}
