// Package conversation folds chat stream events into a transcript.
//
// An Assembler owns one conversation. Each turn starts with StartTurn, is fed
// events with Apply and ends either with a FinalAnswer or with EndStream. At
// most one assistant message is written per turn: the first token appends
// it, later tokens and the final answer update it in place.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-datachat/core/events"
)

var (
	ErrTurnInProgress = errors.New("a turn is already streaming")
	ErrEmptyPrompt    = errors.New("prompt is empty")
	ErrIncompleteTurn = errors.New("stream ended without a final answer")
)

type State int

const (
	StateIdle State = iota
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	ChangeAppended
	ChangeUpdated
	ChangeFinalised
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNone:
		return "none"
	case ChangeAppended:
		return "appended"
	case ChangeUpdated:
		return "updated"
	case ChangeFinalised:
		return "finalised"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change describes what a single mutation did to the transcript. Index and
// Message are only meaningful when Kind is not ChangeNone.
type Change struct {
	Kind    ChangeKind
	Index   int
	Message Message
}

var noChange = Change{Kind: ChangeNone, Index: -1}

// TurnError is returned by EndStream when a turn ends without a final answer.
// The partial reply stays in the transcript.
type TurnError struct {
	TurnID  string
	Partial string
	Err     error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %s ended without a final answer: %v", e.TurnID, e.Err)
}

// Unwrap exposes both ErrIncompleteTurn and the underlying cause, so callers
// can match either.
func (e *TurnError) Unwrap() []error {
	if e.Err == nil || errors.Is(e.Err, ErrIncompleteTurn) {
		return []error{ErrIncompleteTurn}
	}
	return []error{ErrIncompleteTurn, e.Err}
}

// Assembler applies one conversation's events to its transcript.
//
// Mutating methods are meant to be driven by a single goroutine, one turn at a
// time. Snapshot, State and TurnID may be called concurrently from renderers.
type Assembler struct {
	mu sync.RWMutex

	transcript Transcript
	state      State

	turnID string
	// pending accumulates token deltas of the current turn.
	pending strings.Builder
	// assistantIndex is the transcript position of the current turn's
	// assistant message, -1 until the first token or the final answer.
	assistantIndex int

	logger       *slog.Logger
	callbacks    callbacks
	emit         eventEmitter
	onTranscript func(Transcript, Change)
}

func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		state:          StateIdle,
		assistantIndex: -1,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.emit = newCallbackEventEmitter(a.callbacks, a.logger)

	return a
}

// StartTurn appends the user's prompt and begins streaming a new turn.
func (a *Assembler) StartTurn(text string) (Change, error) {
	if strings.TrimSpace(text) == "" {
		return noChange, ErrEmptyPrompt
	}

	a.mu.Lock()
	if a.state == StateStreaming {
		a.mu.Unlock()
		return noChange, ErrTurnInProgress
	}

	a.turnID = uuid.NewString()
	a.pending.Reset()
	a.assistantIndex = -1
	a.state = StateStreaming

	change := a.appendLocked(Message{
		ID:          uuid.NewString(),
		TurnID:      a.turnID,
		Role:        RoleUser,
		Content:     text,
		IsFinalised: true,
	})
	turnID := a.turnID
	a.mu.Unlock()

	a.logger.Debug("turn started", "turn_id", turnID)
	a.emit(events.NewTurnStarted(turnID, text))
	a.notify(change)

	return change, nil
}

// Apply folds a single interpreted event into the transcript. Events that
// arrive while no turn is streaming are protocol violations and are ignored.
func (a *Assembler) Apply(event events.Event) Change {
	switch typedEvent := event.(type) {
	case events.TokenDelta:
		return a.applyTokenDelta(typedEvent)
	case events.FinalAnswer:
		return a.applyFinalAnswer(typedEvent)
	default:
		kind := events.Kind("")
		if event != nil {
			kind = event.Kind()
		}
		a.logger.Debug("ignoring event the transcript has no use for", "kind", kind)
		return noChange
	}
}

func (a *Assembler) applyTokenDelta(delta events.TokenDelta) Change {
	a.mu.Lock()
	if a.state != StateStreaming {
		a.mu.Unlock()
		a.logger.Warn("ignoring token outside of a turn", "token_length", len(delta.Token))
		return noChange
	}
	if delta.Token == "" {
		a.mu.Unlock()
		return noChange
	}

	a.pending.WriteString(delta.Token)

	var change Change
	if a.assistantIndex < 0 {
		change = a.appendLocked(Message{
			ID:      uuid.NewString(),
			TurnID:  a.turnID,
			Role:    RoleAssistant,
			Content: a.pending.String(),
		})
		a.assistantIndex = change.Index
	} else {
		a.transcript[a.assistantIndex].Content = a.pending.String()
		change = Change{Kind: ChangeUpdated, Index: a.assistantIndex, Message: a.transcript[a.assistantIndex].Clone()}
	}
	a.mu.Unlock()

	a.emit(delta)
	a.notify(change)

	return change
}

func (a *Assembler) applyFinalAnswer(answer events.FinalAnswer) Change {
	a.mu.Lock()
	if a.state != StateStreaming {
		a.mu.Unlock()
		a.logger.Warn("ignoring final answer outside of a turn", "run_id", answer.RunID)
		return noChange
	}

	turnID := a.turnID
	for _, rejected := range answer.Rejected {
		a.logger.Warn("dropped invalid structured result", "turn_id", turnID, "error", rejected)
	}

	message := Message{
		TurnID:      turnID,
		Role:        RoleAssistant,
		Content:     answer.Message,
		Table:       answer.Table,
		Chart:       answer.Chart,
		RunID:       answer.RunID,
		IsFinalised: true,
	}
	if a.assistantIndex < 0 {
		message.ID = uuid.NewString()
		a.transcript = append(a.transcript, message)
		a.assistantIndex = len(a.transcript) - 1
	} else {
		message.ID = a.transcript[a.assistantIndex].ID
		a.transcript[a.assistantIndex] = message
	}
	change := Change{Kind: ChangeFinalised, Index: a.assistantIndex, Message: message.Clone()}
	a.finishTurnLocked()
	a.mu.Unlock()

	a.logger.Debug("turn completed", "turn_id", turnID, "run_id", answer.RunID)
	a.emit(answer)
	a.emit(events.NewTurnCompleted(turnID, answer))
	a.notify(change)

	return change
}

// Discard records a frame that could not be interpreted. The turn continues.
func (a *Assembler) Discard(err error) {
	a.logger.Debug("dropped frame", "turn_id", a.TurnID(), "error", err)
}

// EndStream reports that the current turn's stream is over. If the turn has
// already been finalised it returns nil. Otherwise the partial reply is kept,
// the assembler returns to idle and a *TurnError is returned wrapping cause,
// or ErrIncompleteTurn when the stream simply ran out.
func (a *Assembler) EndStream(cause error) error {
	a.mu.Lock()
	if a.state != StateStreaming {
		a.mu.Unlock()
		if cause != nil {
			a.logger.Debug("stream ended after the turn was finalised", "error", cause)
		}
		return nil
	}

	turnErr := &TurnError{TurnID: a.turnID, Partial: a.pending.String(), Err: cause}
	if turnErr.Err == nil {
		turnErr.Err = ErrIncompleteTurn
	}
	a.finishTurnLocked()
	a.mu.Unlock()

	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		a.logger.Info("turn cancelled", "turn_id", turnErr.TurnID, "partial_length", len(turnErr.Partial))
		a.emit(events.NewTurnCancelled(turnErr.TurnID, turnErr.Partial, cause))
	} else {
		a.logger.Warn("turn failed", "turn_id", turnErr.TurnID, "partial_length", len(turnErr.Partial), "error", turnErr.Err)
		a.emit(events.NewTurnFailed(turnErr.TurnID, turnErr.Partial, turnErr.Err))
	}

	return turnErr
}

// Snapshot returns a deep copy of the transcript.
func (a *Assembler) Snapshot() Transcript {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.transcript.Clone()
}

func (a *Assembler) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.state
}

// TurnID returns the ID of the streaming turn, or "" when idle.
func (a *Assembler) TurnID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.state != StateStreaming {
		return ""
	}
	return a.turnID
}

func (a *Assembler) appendLocked(message Message) Change {
	a.transcript = append(a.transcript, message)
	index := len(a.transcript) - 1
	return Change{Kind: ChangeAppended, Index: index, Message: message.Clone()}
}

func (a *Assembler) finishTurnLocked() {
	a.state = StateIdle
	a.turnID = ""
	a.pending.Reset()
	a.assistantIndex = -1
}

func (a *Assembler) notify(change Change) {
	if a.onTranscript == nil {
		return
	}

	snapshot := a.Snapshot()
	if err := panicSafeNamedCallback("transcript", func() { a.onTranscript(snapshot, change) }); err != nil {
		a.logger.Error("observer failed", "error", err)
	}
}
