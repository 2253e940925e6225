package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Initiator opens the byte stream of one chat turn.
type Initiator interface {
	Open(ctx context.Context, request Request) (io.ReadCloser, error)
}

// StatusError is returned when the server answers with a non-OK status.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("non-OK HTTP status: %s", e.Status)
	}
	return fmt.Sprintf("non-OK HTTP status: %s: %s", e.Status, e.Body)
}

const maxErrorBodySize = 4 * 1024

type HTTPOption func(*httpOptions)

type httpOptions struct {
	client *http.Client
}

// WithHTTPClient replaces the default traced client. The client must not set
// a Timeout when used for streaming, long answers would be cut off.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(o *httpOptions) {
		if client != nil {
			o.client = client
		}
	}
}

func newHTTPOptions(opts []HTTPOption) httpOptions {
	options := httpOptions{client: newTracedHTTPClient()}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func newTracedHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
			return operationName + " " + request.URL.Path
		}),
	)}
}

// HTTPInitiator opens chat streams with POST /chat/stream.
type HTTPInitiator struct {
	baseURL string
	client  *http.Client
}

func NewHTTPInitiator(baseURL string, opts ...HTTPOption) *HTTPInitiator {
	options := newHTTPOptions(opts)
	return &HTTPInitiator{baseURL: baseURL, client: options.client}
}

// Open sends the request and returns the response body once the server has
// accepted it. The body is tied to ctx: cancelling ctx aborts pending reads.
func (i *HTTPInitiator) Open(ctx context.Context, request Request) (io.ReadCloser, error) {
	endpoint, err := url.JoinPath(i.baseURL, "chat", "stream")
	if err != nil {
		return nil, fmt.Errorf("error building chat stream URL: %w", err)
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, newStatusError(resp)
	}

	return resp.Body, nil
}

func newStatusError(resp *http.Response) *StatusError {
	statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	if errorBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize)); err != nil {
		logger.Debug("failed to read error body", "status_code", resp.StatusCode, "error", err)
	} else {
		statusErr.Body = string(bytes.TrimSpace(errorBody))
	}
	return statusErr
}
