package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Run is a server-side record of one answered chat turn.
type Run struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	RunType   string          `json:"run_type"`
	CreatedAt string          `json:"created_at"`
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response"`
}

// Answer returns the message text of the run's response, or "" when the
// response does not carry one.
func (r Run) Answer() string {
	var response struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(r.Response, &response); err != nil {
		return ""
	}
	return response.Message
}

// RunsClient reads run history from the analytics API.
type RunsClient struct {
	baseURL string
	client  *http.Client
}

func NewRunsClient(baseURL string, opts ...HTTPOption) *RunsClient {
	options := newHTTPOptions(opts)
	return &RunsClient{baseURL: baseURL, client: options.client}
}

// ListRuns returns the project's runs, newest first.
func (c *RunsClient) ListRuns(ctx context.Context, projectID string) ([]Run, error) {
	ctx, span := tracer.Start(ctx, "list runs")
	defer span.End()
	span.SetAttributes(attribute.String("request.project_id", projectID))

	endpoint, err := url.JoinPath(c.baseURL, "projects", projectID, "runs")
	if err != nil {
		err = fmt.Errorf("error building runs URL: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var runs []Run
	if err := c.getJSON(ctx, endpoint, &runs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("response.runs", len(runs)))

	return runs, nil
}

// ExportRun returns the markdown report of a run.
func (c *RunsClient) ExportRun(ctx context.Context, runID string) (string, error) {
	ctx, span := tracer.Start(ctx, "export run")
	defer span.End()
	span.SetAttributes(attribute.String("request.run_id", runID))

	endpoint, err := url.JoinPath(c.baseURL, "runs", runID, "export")
	if err != nil {
		err = fmt.Errorf("error building export URL: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var export struct {
		Markdown string `json:"markdown"`
	}
	if err := c.getJSON(ctx, endpoint, &export); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	return export.Markdown, nil
}

func (c *RunsClient) getJSON(ctx context.Context, endpoint string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newStatusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("error unmarshalling JSON: %w", err)
	}
	return nil
}
