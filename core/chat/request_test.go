package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koscakluka/ema-datachat/core/conversation"
	"github.com/koscakluka/ema-datachat/core/results"
)

func TestNewRequestSendsRolesAndContentOnly(t *testing.T) {
	transcript := conversation.Transcript{
		{ID: "1", Role: conversation.RoleUser, Content: "top rows?", IsFinalised: true},
		{ID: "2", Role: conversation.RoleAssistant, Content: "Here.", Table: &results.Table{Columns: []string{"a"}}, RunID: "run-1", IsFinalised: true},
	}

	encoded, err := json.Marshal(NewRequest("project-1", nil, transcript, DefaultSettings()))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"project_id": "project-1",
		"dataset_id": null,
		"messages": [
			{"role": "user", "content": "top rows?"},
			{"role": "assistant", "content": "Here."}
		],
		"settings": {"provider": "ollama", "model": "llama3.1:8b", "temperature": 0.2}
	}`, string(encoded))
}

func TestNewRequestWithEmptyTranscript(t *testing.T) {
	datasetID := "dataset-1"
	request := NewRequest("project-1", &datasetID, nil, DefaultSettings())

	encoded, err := json.Marshal(request)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"messages":[]`)
	assert.Contains(t, string(encoded), `"dataset_id":"dataset-1"`)
}
