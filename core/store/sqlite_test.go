package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koscakluka/ema-datachat/core/conversation"
	"github.com/koscakluka/ema-datachat/core/results"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestNewSQLiteStoreCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "chat.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestSaveTurnAndLoadTranscript(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rowCount := 12
	firstPrompt := conversation.Message{ID: "m1", TurnID: "t1", Role: conversation.RoleUser, Content: "sales?", IsFinalised: true}
	firstAnswer := conversation.Message{
		ID:      "m2",
		TurnID:  "t1",
		Role:    conversation.RoleAssistant,
		Content: "Sales rose 12%",
		Table: &results.Table{
			Columns:  []string{"month", "sales"},
			Rows:     []results.Row{{"month": "Jan", "sales": 100.0}},
			RowCount: &rowCount,
		},
		Chart:       &results.Chart{Type: "bar", X: "month", Y: "sales", Data: []map[string]any{{"month": "Jan", "sales": 100.0}}},
		RunID:       "run-1",
		IsFinalised: true,
	}
	secondPrompt := conversation.Message{ID: "m3", TurnID: "t2", Role: conversation.RoleUser, Content: "why?", IsFinalised: true}
	secondAnswer := conversation.Message{ID: "m4", TurnID: "t2", Role: conversation.RoleAssistant, Content: "Because", IsFinalised: true}

	require.NoError(t, store.SaveTurn(ctx, "c1", "p1", firstPrompt, firstAnswer))
	require.NoError(t, store.SaveTurn(ctx, "c1", "p1", secondPrompt, secondAnswer))

	transcript, err := store.LoadTranscript(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, transcript, 4)

	var ids []string
	for _, message := range transcript {
		ids = append(ids, message.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids)

	loaded := transcript[1]
	assert.Equal(t, conversation.RoleAssistant, loaded.Role)
	assert.Equal(t, "t1", loaded.TurnID)
	assert.Equal(t, "Sales rose 12%", loaded.Content)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.True(t, loaded.IsFinalised)
	require.NotNil(t, loaded.Table)
	assert.Equal(t, firstAnswer.Table.Columns, loaded.Table.Columns)
	assert.Equal(t, firstAnswer.Table.Rows, loaded.Table.Rows)
	require.NotNil(t, loaded.Table.RowCount)
	assert.Equal(t, 12, *loaded.Table.RowCount)
	require.NotNil(t, loaded.Chart)
	assert.Equal(t, *firstAnswer.Chart, *loaded.Chart)

	assert.Nil(t, transcript[3].Table)
	assert.Nil(t, transcript[3].Chart)
}

func TestSaveTurnUpdatesExistingMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	prompt := conversation.Message{ID: "m1", TurnID: "t1", Role: conversation.RoleUser, Content: "hi", IsFinalised: true}
	partial := conversation.Message{ID: "m2", TurnID: "t1", Role: conversation.RoleAssistant, Content: "Par"}
	require.NoError(t, store.SaveTurn(ctx, "c1", "p1", prompt, partial))

	final := partial
	final.Content = "Partial no more"
	final.Table = &results.Table{Columns: []string{"a"}}
	final.IsFinalised = true
	require.NoError(t, store.SaveTurn(ctx, "c1", "p1", prompt, final))

	transcript, err := store.LoadTranscript(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, "m1", transcript[0].ID)
	assert.Equal(t, "Partial no more", transcript[1].Content)
	assert.True(t, transcript[1].IsFinalised)
	require.NotNil(t, transcript[1].Table, "nil rows are stored as an empty array")
	assert.Empty(t, transcript[1].Table.Rows)
}

func TestLoadTranscriptDropsInvalidStoredResults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	prompt := conversation.Message{ID: "m1", Role: conversation.RoleUser, Content: "hi", IsFinalised: true}
	answer := conversation.Message{ID: "m2", Role: conversation.RoleAssistant, Content: "ok", IsFinalised: true}
	require.NoError(t, store.SaveTurn(ctx, "c1", "p1", prompt, answer))

	_, err := store.db.ExecContext(ctx,
		`UPDATE messages SET table_json = ?, chart_json = ? WHERE id = ?`,
		`{"row_count": 3}`, `{"type": "bar"}`, "m2")
	require.NoError(t, err)

	transcript, err := store.LoadTranscript(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, "ok", transcript[1].Content)
	assert.Nil(t, transcript[1].Table)
	assert.Nil(t, transcript[1].Chart)
}

func TestLoadTranscriptUnknownConversation(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadTranscript(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestListConversations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	prompt := conversation.Message{ID: "m1", Role: conversation.RoleUser, Content: "hi", IsFinalised: true}
	answer := conversation.Message{ID: "m2", Role: conversation.RoleAssistant, Content: "ok", IsFinalised: true}
	require.NoError(t, store.SaveTurn(ctx, "c1", "p1", prompt, answer))

	other := conversation.Message{ID: "m3", Role: conversation.RoleUser, Content: "hi", IsFinalised: true}
	otherAnswer := conversation.Message{ID: "m4", Role: conversation.RoleAssistant, Content: "ok", IsFinalised: true}
	require.NoError(t, store.SaveTurn(ctx, "c2", "p2", other, otherAnswer))

	conversations, err := store.ListConversations(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, "c1", conversations[0].ID)
	assert.Equal(t, "p1", conversations[0].ProjectID)
	assert.False(t, conversations[0].CreatedAt.IsZero())

	stored, err := store.GetConversation(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, "p2", stored.ProjectID)
}

func TestRestoredTranscriptSeedsAssembler(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	prompt := conversation.Message{ID: "m1", Role: conversation.RoleUser, Content: "hi", IsFinalised: true}
	answer := conversation.Message{ID: "m2", Role: conversation.RoleAssistant, Content: "ok", IsFinalised: true}
	require.NoError(t, store.SaveTurn(ctx, "c1", "p1", prompt, answer))

	transcript, err := store.LoadTranscript(ctx, "c1")
	require.NoError(t, err)

	assembler := conversation.NewAssembler(conversation.WithHistory(transcript))
	change, err := assembler.StartTurn("next")
	require.NoError(t, err)
	assert.Equal(t, 2, change.Index)
}
