package fakeapi

import (
	"strings"

	"github.com/koscakluka/ema-datachat/core/chat"
)

const (
	noDatasetMessage = "Please upload and select a dataset before asking data questions."
	noPromptMessage  = "No actionable response from the model."
)

// answer is the body of a final event, minus the run id.
type answer struct {
	Message string `json:"message"`
	Table   any    `json:"table"`
	Chart   any    `json:"chart"`
}

type finalPayload struct {
	RunID string `json:"run_id"`
	answer
}

var monthlySales = []map[string]any{
	{"month": "Jan", "sales": 100},
	{"month": "Feb", "sales": 112},
	{"month": "Mar", "sales": 98},
}

// answerFor picks a canned answer for the latest user message. The shapes
// follow what the analytics API returns for its tools: run_sql yields a
// table and a chart, plot only a chart and summarize_dataframe a summary
// object in place of a table.
func answerFor(request chat.Request) answer {
	if request.DatasetID == nil || *request.DatasetID == "" {
		return answer{Message: noDatasetMessage}
	}

	prompt := ""
	for i := len(request.Messages) - 1; i >= 0; i-- {
		if request.Messages[i].Role == "user" {
			prompt = strings.ToLower(request.Messages[i].Content)
			break
		}
	}

	switch {
	case strings.TrimSpace(prompt) == "":
		return answer{Message: noPromptMessage}
	case strings.Contains(prompt, "summar"):
		return answer{
			Message: "Summary stats computed.",
			Table: map[string]any{
				"row_count":    len(monthlySales),
				"column_count": 2,
				"numeric_summary": map[string]any{
					"sales": map[string]any{"count": 3, "mean": 103.33, "min": 98, "max": 112},
				},
			},
		}
	case strings.Contains(prompt, "plot") || strings.Contains(prompt, "chart"):
		return answer{
			Message: "Chart spec generated.",
			Chart:   salesChart(),
		}
	default:
		return answer{
			Message: "Here is the result of the SQL query.",
			Table: map[string]any{
				"columns":   []string{"month", "sales"},
				"rows":      monthlySales,
				"row_count": len(monthlySales),
			},
			Chart: salesChart(),
		}
	}
}

func salesChart() map[string]any {
	return map[string]any{
		"type": "bar",
		"x":    "month",
		"y":    "sales",
		"data": monthlySales,
	}
}
