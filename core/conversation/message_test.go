package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koscakluka/ema-datachat/core/results"
)

func TestTranscriptLatestChart(t *testing.T) {
	older := &results.Chart{Type: "bar", X: "a", Y: "b"}
	newer := &results.Chart{Type: "bar", X: "c", Y: "d"}

	testCases := []struct {
		name       string
		transcript Transcript
		expected   *results.Chart
	}{
		{name: "empty", transcript: nil, expected: nil},
		{name: "no charts", transcript: Transcript{{Role: RoleUser}, {Role: RoleAssistant}}, expected: nil},
		{
			name:       "most recent chart wins",
			transcript: Transcript{{Role: RoleAssistant, Chart: older}, {Role: RoleUser}, {Role: RoleAssistant, Chart: newer}},
			expected:   newer,
		},
		{
			name:       "messages without a chart are skipped",
			transcript: Transcript{{Role: RoleAssistant, Chart: older}, {Role: RoleUser}, {Role: RoleAssistant}},
			expected:   older,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Same(t, testCase.expected, testCase.transcript.LatestChart())
		})
	}
}

func TestTranscriptFinalised(t *testing.T) {
	transcript := Transcript{
		{ID: "1", Role: RoleUser, IsFinalised: true},
		{ID: "2", Role: RoleAssistant, Content: "Par"},
		{ID: "3", Role: RoleUser, IsFinalised: true},
		{ID: "4", Role: RoleAssistant, IsFinalised: true},
	}

	var ids []string
	for _, message := range transcript.Finalised() {
		ids = append(ids, message.ID)
	}
	assert.Equal(t, []string{"1", "3", "4"}, ids)
}

func TestTranscriptLast(t *testing.T) {
	_, ok := Transcript{}.Last()
	assert.False(t, ok)

	last, ok := Transcript{{ID: "1"}, {ID: "2"}}.Last()
	require.True(t, ok)
	assert.Equal(t, "2", last.ID)
}

func TestMessageCloneCopiesStructuredResults(t *testing.T) {
	rowCount := 2
	original := Message{
		ID:      "m",
		Role:    RoleAssistant,
		Content: "ok",
		Table:   &results.Table{Columns: []string{"a", "b"}, Rows: []results.Row{{"a": "x"}}, RowCount: &rowCount},
		Chart:   &results.Chart{Type: "bar", X: "a", Y: "b", Data: []map[string]any{{"a": "x", "b": 1.0}}},
	}

	cloned := original.Clone()
	require.NotSame(t, original.Table, cloned.Table)
	require.NotSame(t, original.Chart, cloned.Chart)
	assert.Equal(t, original.Table.Columns, cloned.Table.Columns)
	assert.Equal(t, "bar", cloned.Chart.Type)
	require.NotNil(t, cloned.Table.RowCount)
	assert.Equal(t, 2, *cloned.Table.RowCount)

	cloned.Table.Columns[1] = "z"
	cloned.Chart.X = "z"
	assert.Equal(t, "b", original.Table.Columns[1])
	assert.Equal(t, "a", original.Chart.X)
}

func TestTranscriptCloneOfNil(t *testing.T) {
	assert.Nil(t, Transcript(nil).Clone())
}
