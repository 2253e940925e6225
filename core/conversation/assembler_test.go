package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koscakluka/ema-datachat/core/events"
	"github.com/koscakluka/ema-datachat/core/results"
	"github.com/koscakluka/ema-datachat/core/stream"
)

// feed runs raw stream bytes through the decoder and interpreter into the
// assembler, the same way a chat session does.
func feed(a *Assembler, chunks ...string) {
	decoder := stream.NewDecoder()
	for _, chunk := range chunks {
		for _, frame := range decoder.Feed([]byte(chunk)) {
			event, err := events.Interpret(frame)
			if err != nil {
				a.Discard(err)
				continue
			}
			a.Apply(event)
		}
	}
}

func assistantMessages(transcript Transcript) []Message {
	var messages []Message
	for _, message := range transcript {
		if message.Role == RoleAssistant {
			messages = append(messages, message)
		}
	}
	return messages
}

func TestStartTurnAppendsUserMessage(t *testing.T) {
	assembler := NewAssembler()

	change, err := assembler.StartTurn("Show sales by month")
	require.NoError(t, err)

	assert.Equal(t, ChangeAppended, change.Kind)
	assert.Equal(t, 0, change.Index)
	assert.Equal(t, RoleUser, change.Message.Role)
	assert.Equal(t, "Show sales by month", change.Message.Content)
	assert.True(t, change.Message.IsFinalised)
	assert.NotEmpty(t, change.Message.ID)

	assert.Equal(t, StateStreaming, assembler.State())
	assert.NotEmpty(t, assembler.TurnID())
	assert.Equal(t, assembler.TurnID(), change.Message.TurnID)
	assert.Len(t, assembler.Snapshot(), 1, "assistant message must not exist before the first token")
}

func TestStartTurnRejections(t *testing.T) {
	t.Run("empty prompt", func(t *testing.T) {
		assembler := NewAssembler()
		for _, prompt := range []string{"", "   ", "\n\t"} {
			change, err := assembler.StartTurn(prompt)
			assert.ErrorIs(t, err, ErrEmptyPrompt)
			assert.Equal(t, ChangeNone, change.Kind)
		}
		assert.Empty(t, assembler.Snapshot())
		assert.Equal(t, StateIdle, assembler.State())
	})

	t.Run("turn in progress", func(t *testing.T) {
		assembler := NewAssembler()
		_, err := assembler.StartTurn("first")
		require.NoError(t, err)
		turnID := assembler.TurnID()

		_, err = assembler.StartTurn("second")
		assert.ErrorIs(t, err, ErrTurnInProgress)
		assert.Len(t, assembler.Snapshot(), 1)
		assert.Equal(t, turnID, assembler.TurnID())
	})
}

func TestTokenDeltasKeepSingleAssistantMessage(t *testing.T) {
	assembler := NewAssembler()
	_, err := assembler.StartTurn("hi")
	require.NoError(t, err)

	tokens := []string{"Sal", "es", " rose", " by", " 12%"}
	var assistantID string
	for i, token := range tokens {
		change := assembler.Apply(events.NewTokenDelta(token))

		if i == 0 {
			assert.Equal(t, ChangeAppended, change.Kind)
			assistantID = change.Message.ID
		} else {
			assert.Equal(t, ChangeUpdated, change.Kind)
			assert.Equal(t, assistantID, change.Message.ID)
		}
		assert.Equal(t, 1, change.Index)

		snapshot := assembler.Snapshot()
		assistants := assistantMessages(snapshot)
		require.Len(t, assistants, 1, "after %d tokens", i+1)
		assert.Equal(t, strings.Join(tokens[:i+1], ""), assistants[0].Content)
		assert.False(t, assistants[0].IsFinalised)
		assert.Len(t, snapshot, 2)
	}
}

func TestFinalAnswerOverwritesPartialMessage(t *testing.T) {
	assembler := NewAssembler()
	_, err := assembler.StartTurn("hi")
	require.NoError(t, err)

	first := assembler.Apply(events.NewTokenDelta("Sal"))
	assembler.Apply(events.NewTokenDelta("es rose"))
	lengthBefore := len(assembler.Snapshot())

	answer := events.NewFinalAnswer(
		"Sales rose 12%",
		&results.Table{Columns: []string{"month"}, Rows: []results.Row{{"month": "Jan"}}},
		&results.Chart{Type: "bar", X: "month", Y: "sales"},
	)
	answer.RunID = "run-1"
	change := assembler.Apply(answer)

	assert.Equal(t, ChangeFinalised, change.Kind)
	assert.Equal(t, first.Index, change.Index)
	assert.Equal(t, first.Message.ID, change.Message.ID)

	snapshot := assembler.Snapshot()
	assert.Len(t, snapshot, lengthBefore, "finalisation must not append")

	final := snapshot[change.Index]
	assert.Equal(t, "Sales rose 12%", final.Content)
	assert.Equal(t, "run-1", final.RunID)
	assert.True(t, final.IsFinalised)
	require.NotNil(t, final.Table)
	assert.Equal(t, []string{"month"}, final.Table.Columns)
	require.NotNil(t, final.Chart)
	assert.Equal(t, "bar", final.Chart.Type)

	assert.Equal(t, StateIdle, assembler.State())
	assert.Empty(t, assembler.TurnID())
}

func TestFinalAnswerWithoutTokensAppends(t *testing.T) {
	assembler := NewAssembler()
	_, err := assembler.StartTurn("hi")
	require.NoError(t, err)

	change := assembler.Apply(events.NewFinalAnswer("Done.", nil, nil))
	assert.Equal(t, ChangeFinalised, change.Kind)
	assert.Equal(t, 1, change.Index)

	snapshot := assembler.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, RoleAssistant, snapshot[1].Role)
	assert.Equal(t, "Done.", snapshot[1].Content)
	assert.Nil(t, snapshot[1].Table)
	assert.Nil(t, snapshot[1].Chart)
}

func TestEventsWhileIdleAreIgnored(t *testing.T) {
	assembler := NewAssembler()
	_, err := assembler.StartTurn("hi")
	require.NoError(t, err)
	assembler.Apply(events.NewFinalAnswer("first", nil, nil))
	before := assembler.Snapshot()

	testCases := []struct {
		name  string
		event events.Event
	}{
		{name: "second final answer", event: events.NewFinalAnswer("second", nil, nil)},
		{name: "late token", event: events.NewTokenDelta("late")},
		{name: "turn state event", event: events.NewTurnStarted("x", "y")},
		{name: "nil event", event: nil},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			change := assembler.Apply(testCase.event)
			assert.Equal(t, ChangeNone, change.Kind)
			assert.Equal(t, before, assembler.Snapshot())
			assert.Equal(t, StateIdle, assembler.State())
		})
	}
}

func TestDiscardDoesNotChangeState(t *testing.T) {
	assembler := NewAssembler()
	_, err := assembler.StartTurn("hi")
	require.NoError(t, err)
	assembler.Apply(events.NewTokenDelta("Par"))
	before := assembler.Snapshot()

	assembler.Discard(&events.InterpretError{Frame: "data: {}", Err: events.ErrUnrecognizedEvent})

	assert.Equal(t, before, assembler.Snapshot())
	assert.Equal(t, StateStreaming, assembler.State())
}

func TestNonPrefixedFramesNeverChangeState(t *testing.T) {
	assembler := NewAssembler()
	_, err := assembler.StartTurn("hi")
	require.NoError(t, err)
	before := assembler.Snapshot()

	feed(assembler,
		"event: token\n",
		": keep-alive\n\n",
		`{"token":"no prefix"}`+"\n",
		`id: 3`+"\r\n",
	)

	assert.Equal(t, before, assembler.Snapshot())
	assert.Equal(t, StateStreaming, assembler.State())
}

func TestNullMessageDoesNotFinaliseTurn(t *testing.T) {
	assembler := NewAssembler()
	_, err := assembler.StartTurn("hi")
	require.NoError(t, err)

	feed(assembler,
		"data: {\"token\":\"Par\"}\n",
		"data: {\"message\":null}\n",
		"data: {\"token\":\"tial\"}\n",
	)

	assert.Equal(t, StateStreaming, assembler.State())
	assistants := assistantMessages(assembler.Snapshot())
	require.Len(t, assistants, 1)
	assert.Equal(t, "Partial", assistants[0].Content)
	assert.False(t, assistants[0].IsFinalised)
}

func TestEndStreamWithoutFinalAnswer(t *testing.T) {
	var failures []*TurnError
	assembler := NewAssembler(WithTurnFailedCallback(func(err *TurnError) {
		failures = append(failures, err)
	}))
	_, err := assembler.StartTurn("hi")
	require.NoError(t, err)
	turnID := assembler.TurnID()

	feed(assembler, `data: {"token":"Par"}`+"\n")

	err = assembler.EndStream(nil)
	require.ErrorIs(t, err, ErrIncompleteTurn)

	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, turnID, turnErr.TurnID)
	assert.Equal(t, "Par", turnErr.Partial)

	snapshot := assembler.Snapshot()
	assistants := assistantMessages(snapshot)
	require.Len(t, assistants, 1)
	assert.Equal(t, "Par", assistants[0].Content)
	assert.False(t, assistants[0].IsFinalised)
	assert.Nil(t, assistants[0].Table)
	assert.Equal(t, StateIdle, assembler.State())

	require.Len(t, failures, 1)
	assert.Equal(t, turnID, failures[0].TurnID)

	// A new turn can start after the failure.
	_, err = assembler.StartTurn("again")
	assert.NoError(t, err)
}

func TestEndStreamCauses(t *testing.T) {
	transportErr := errors.New("connection reset by peer")

	testCases := []struct {
		name          string
		cause         error
		expectedKind  events.Kind
		expectedMatch error
	}{
		{name: "transport error", cause: transportErr, expectedKind: events.KindTurnFailed, expectedMatch: transportErr},
		{name: "wrapped transport error", cause: fmt.Errorf("error reading stream: %w", transportErr), expectedKind: events.KindTurnFailed, expectedMatch: transportErr},
		{name: "cancellation", cause: context.Canceled, expectedKind: events.KindTurnCancelled, expectedMatch: context.Canceled},
		{name: "deadline", cause: context.DeadlineExceeded, expectedKind: events.KindTurnCancelled, expectedMatch: context.DeadlineExceeded},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			var kinds []events.Kind
			assembler := NewAssembler(WithEventCallback(func(event events.Event) {
				kinds = append(kinds, event.Kind())
			}))
			_, err := assembler.StartTurn("hi")
			require.NoError(t, err)
			assembler.Apply(events.NewTokenDelta("Half an ans"))

			err = assembler.EndStream(testCase.cause)
			require.ErrorIs(t, err, testCase.expectedMatch)
			require.ErrorIs(t, err, ErrIncompleteTurn)

			assert.Equal(t, testCase.expectedKind, kinds[len(kinds)-1])
			assert.Equal(t, "Half an ans", assistantMessages(assembler.Snapshot())[0].Content)
			assert.Equal(t, StateIdle, assembler.State())
		})
	}
}

func TestEndStreamAfterFinalAnswerIsNoop(t *testing.T) {
	assembler := NewAssembler()
	_, err := assembler.StartTurn("hi")
	require.NoError(t, err)
	assembler.Apply(events.NewFinalAnswer("ok", nil, nil))

	assert.NoError(t, assembler.EndStream(nil))
	assert.NoError(t, assembler.EndStream(errors.New("late transport error")))
}

func TestStreamScenarioWithTable(t *testing.T) {
	var completed []events.FinalAnswer
	assembler := NewAssembler(WithTurnCompletedCallback(func(_ string, answer events.FinalAnswer) {
		completed = append(completed, answer)
	}))
	_, err := assembler.StartTurn("How did sales do?")
	require.NoError(t, err)

	feed(assembler,
		`data: {"token":"Sal"}`+"\n",
		`data: {"token":"es rose"}`+"\n",
		`data: {"message":"Sales rose 12%","table":{"columns":["month","sales"],"rows":[{"month":"Jan","sales":100}]}}`+"\n",
	)

	snapshot := assembler.Snapshot()
	assistants := assistantMessages(snapshot)
	require.Len(t, assistants, 1)

	final := assistants[0]
	assert.Equal(t, "Sales rose 12%", final.Content)
	require.NotNil(t, final.Table)
	assert.Equal(t, []string{"month", "sales"}, final.Table.Columns)
	require.Len(t, final.Table.Rows, 1)
	assert.Equal(t, "Jan", final.Table.Rows[0]["month"])
	assert.EqualValues(t, 100, final.Table.Rows[0]["sales"])
	assert.Nil(t, final.Chart)
	assert.True(t, final.IsFinalised)

	require.Len(t, completed, 1)
	assert.Equal(t, "Sales rose 12%", completed[0].Message)
	assert.NoError(t, assembler.EndStream(nil))
}

func TestStreamScenarioSplitAcrossChunks(t *testing.T) {
	raw := "event: status\ndata: {\"state\":\"thinking\"}\n\n" +
		"event: token\ndata: {\"token\":\"Hello \"}\n\n" +
		"event: token\ndata: {\"token\":\"wörld \"}\n\n" +
		"event: final\ndata: {\"run_id\":\"r1\",\"message\":\"Hello wörld\",\"table\":{\"row_count\":3},\"chart\":null}\n\n"

	for _, size := range []int{1, 2, 3, 7, 64, len(raw)} {
		t.Run(fmt.Sprintf("chunks of %d", size), func(t *testing.T) {
			var chunks []string
			for start := 0; start < len(raw); start += size {
				chunks = append(chunks, raw[start:min(start+size, len(raw))])
			}

			assembler := NewAssembler()
			_, err := assembler.StartTurn("hi")
			require.NoError(t, err)
			feed(assembler, chunks...)

			assistants := assistantMessages(assembler.Snapshot())
			require.Len(t, assistants, 1)
			assert.Equal(t, "Hello wörld", assistants[0].Content)
			assert.Equal(t, "r1", assistants[0].RunID)
			assert.Nil(t, assistants[0].Table, "invalid table degrades to absent")
			assert.Nil(t, assistants[0].Chart)
			assert.True(t, assistants[0].IsFinalised)
		})
	}
}

func TestTranscriptCallbackReceivesEveryChange(t *testing.T) {
	var kinds []ChangeKind
	var lengths []int
	assembler := NewAssembler(WithTranscriptCallback(func(transcript Transcript, change Change) {
		kinds = append(kinds, change.Kind)
		lengths = append(lengths, len(transcript))
	}))

	_, err := assembler.StartTurn("hi")
	require.NoError(t, err)
	assembler.Apply(events.NewTokenDelta("a"))
	assembler.Apply(events.NewTokenDelta("b"))
	assembler.Apply(events.NewFinalAnswer("ab", nil, nil))
	assembler.Apply(events.NewTokenDelta("ignored"))

	assert.Equal(t, []ChangeKind{ChangeAppended, ChangeAppended, ChangeUpdated, ChangeFinalised}, kinds)
	assert.Equal(t, []int{1, 2, 2, 2}, lengths)
}

func TestObserverPanicsAreRecovered(t *testing.T) {
	assembler := NewAssembler(
		WithTranscriptCallback(func(Transcript, Change) { panic("render failed") }),
		WithTurnCompletedCallback(func(string, events.FinalAnswer) { panic("refresh failed") }),
		WithEventCallback(func(events.Event) { panic("listener failed") }),
	)

	assert.NotPanics(t, func() {
		_, err := assembler.StartTurn("hi")
		require.NoError(t, err)
		assembler.Apply(events.NewTokenDelta("a"))
		assembler.Apply(events.NewFinalAnswer("a", nil, nil))
	})
	assert.Equal(t, StateIdle, assembler.State())
	assert.Len(t, assembler.Snapshot(), 2)
}

func TestObserverCanReadAssembler(t *testing.T) {
	var states []State
	var assembler *Assembler
	assembler = NewAssembler(WithTranscriptCallback(func(Transcript, Change) {
		states = append(states, assembler.State())
		_ = assembler.Snapshot()
	}))

	_, err := assembler.StartTurn("hi")
	require.NoError(t, err)
	assembler.Apply(events.NewFinalAnswer("done", nil, nil))

	assert.Equal(t, []State{StateStreaming, StateIdle}, states)
}

func TestSnapshotIsIsolated(t *testing.T) {
	assembler := NewAssembler()
	_, err := assembler.StartTurn("hi")
	require.NoError(t, err)
	assembler.Apply(events.NewFinalAnswer("ok", &results.Table{Columns: []string{"a"}, Rows: []results.Row{}}, nil))

	snapshot := assembler.Snapshot()
	snapshot[0].Content = "changed"
	snapshot[1].Table.Columns[0] = "changed"

	fresh := assembler.Snapshot()
	assert.Equal(t, "hi", fresh[0].Content)
	assert.Equal(t, "a", fresh[1].Table.Columns[0])
}

func TestWithHistorySeedsTranscript(t *testing.T) {
	history := Transcript{
		{ID: "1", Role: RoleUser, Content: "earlier", IsFinalised: true},
		{ID: "2", Role: RoleAssistant, Content: "answer", IsFinalised: true},
	}
	assembler := NewAssembler(WithHistory(history))
	history[0].Content = "mutated"

	assert.Equal(t, StateIdle, assembler.State())
	snapshot := assembler.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "earlier", snapshot[0].Content)

	change, err := assembler.StartTurn("next")
	require.NoError(t, err)
	assert.Equal(t, 2, change.Index)
}

func TestTurnStartedCallback(t *testing.T) {
	type started struct{ turnID, prompt string }
	var calls []started
	assembler := NewAssembler(WithTurnStartedCallback(func(turnID, prompt string) {
		calls = append(calls, started{turnID, prompt})
	}))

	_, err := assembler.StartTurn("  ")
	require.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, calls, "rejected turns do not start")

	_, err = assembler.StartTurn("hi")
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, assembler.TurnID(), calls[0].turnID)
	assert.Equal(t, "hi", calls[0].prompt)
}
