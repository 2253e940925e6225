package fakeapi

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-datachat/core/chat"
)

type runRegistry struct {
	mu   sync.RWMutex
	runs []chat.Run
	now  func() time.Time
}

func (r *runRegistry) add(runID string, request chat.Request, response answer) error {
	requestJSON, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("error encoding run request: %w", err)
	}
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("error encoding run response: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, chat.Run{
		ID:        runID,
		ProjectID: request.ProjectID,
		RunType:   "chat",
		CreatedAt: r.now().UTC().Format(time.RFC3339Nano),
		Request:   requestJSON,
		Response:  responseJSON,
	})
	return nil
}

// list returns the project's runs, newest first.
func (r *runRegistry) list(projectID string) []chat.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := []chat.Run{}
	for _, run := range slices.Backward(r.runs) {
		if run.ProjectID == projectID {
			runs = append(runs, run)
		}
	}
	return runs
}

func (r *runRegistry) get(runID string) (chat.Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, run := range r.runs {
		if run.ID == runID {
			return run, true
		}
	}
	return chat.Run{}, false
}

// exportMarkdown renders a run the way the analytics API exports it.
func exportMarkdown(run chat.Run) string {
	var response struct {
		Message string          `json:"message"`
		Table   json.RawMessage `json:"table"`
		Chart   json.RawMessage `json:"chart"`
	}
	_ = json.Unmarshal(run.Response, &response)

	return strings.Join([]string{
		"# Run " + run.ID,
		"",
		"**Type:** " + run.RunType,
		"",
		"## Answer",
		response.Message,
		"",
		"## Table",
		indentJSON(response.Table),
		"",
		"## Chart",
		indentJSON(response.Chart),
	}, "\n")
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "null"
	}
	indented, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "null"
	}
	return string(indented)
}
