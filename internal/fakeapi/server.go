// Package fakeapi is a stand-in for the analytics API. It speaks the same
// chat stream wire format and run history endpoints with canned answers, so
// the client can be developed and tested without a model behind it.
package fakeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/koscakluka/ema-datachat/core/chat"
)

const DefaultTokenDelay = 10 * time.Millisecond

// Server is the fake analytics API.
type Server struct {
	echo     *echo.Echo
	runs     *runRegistry
	upgrader websocket.Upgrader

	tokenDelay time.Duration
}

type ServerOption func(*Server)

// WithTokenDelay sets the pause between streamed tokens. Zero streams them
// back to back.
func WithTokenDelay(delay time.Duration) ServerOption {
	return func(s *Server) {
		s.tokenDelay = delay
	}
}

func WithRequestLogging() ServerOption {
	return func(s *Server) {
		s.echo.Use(middleware.Logger())
	}
}

// withClock is used by tests to pin run timestamps.
func withClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		s.runs.now = now
	}
}

func NewServer(opts ...ServerOption) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(echo.WrapMiddleware(otelhttp.NewMiddleware("fake-analytics",
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return operation + " " + r.URL.Path
		}),
	)))

	s := &Server{
		echo:       e,
		runs:       &runRegistry{now: time.Now},
		tokenDelay: DefaultTokenDelay,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.GET("/health", s.handleHealth)
	e.POST("/chat/stream", s.handleChatStream)
	e.GET("/chat/ws", s.handleChatWebsocket)
	e.GET("/projects/:id/runs", s.handleListRuns)
	e.GET("/runs/:id/export", s.handleExportRun)

	return s
}

// Handler exposes the routes for use with an external http.Server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// respond answers a chat request and records it as a run. It returns the
// frames to send, each one a complete SSE event.
func (s *Server) respond(ctx context.Context, request chat.Request) []string {
	_, span := tracer.Start(ctx, "answer chat request")
	defer span.End()

	runID := uuid.NewString()
	response := answerFor(request)
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("request.project_id", request.ProjectID),
		attribute.Int("request.messages", len(request.Messages)),
	)

	if err := s.runs.add(runID, request, response); err != nil {
		span.RecordError(err)
		logger.Warn("failed to record run", "run_id", runID, "error", err)
	}

	return eventFrames(runID, response)
}

func eventFrames(runID string, response answer) []string {
	frames := []string{sseEvent("status", map[string]string{"state": "thinking"})}
	for _, word := range strings.Fields(response.Message) {
		frames = append(frames, sseEvent("token", map[string]string{"token": word + " "}))
	}
	return append(frames, sseEvent("final", finalPayload{RunID: runID, answer: response}))
}

func sseEvent(name string, payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("fakeapi: failed to encode %s event: %v", name, err))
	}
	return "event: " + name + "\ndata: " + string(data) + "\n\n"
}

func (s *Server) bindChatRequest(c echo.Context) (chat.Request, error) {
	var request chat.Request
	if err := c.Bind(&request); err != nil {
		return chat.Request{}, err
	}
	if err := validateChatRequest(request); err != nil {
		return chat.Request{}, err
	}
	return request, nil
}

func validateChatRequest(request chat.Request) error {
	switch {
	case request.ProjectID == "":
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "project_id is required")
	case request.Messages == nil:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "messages is required")
	}
	return nil
}

func (s *Server) handleChatStream(c echo.Context) error {
	request, err := s.bindChatRequest(c)
	if err != nil {
		return err
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}

	ctx := c.Request().Context()
	for i, frame := range s.respond(ctx, request) {
		if i > 0 && !s.pause(ctx) {
			return nil
		}
		if _, err := fmt.Fprint(c.Response().Writer, frame); err != nil {
			return nil
		}
		flusher.Flush()
	}
	return nil
}

func (s *Server) handleChatWebsocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already replied.
		logger.Warn("failed to upgrade websocket", "error", err)
		return nil
	}
	defer conn.Close()

	var request chat.Request
	if err := conn.ReadJSON(&request); err != nil {
		logger.Warn("failed to read chat request", "error", err)
		closeWebsocket(conn, websocket.CloseUnsupportedData, "invalid request body")
		return nil
	}
	if err := validateChatRequest(request); err != nil {
		closeWebsocket(conn, websocket.ClosePolicyViolation, err.Error())
		return nil
	}

	ctx := c.Request().Context()
	for i, frame := range s.respond(ctx, request) {
		if i > 0 && !s.pause(ctx) {
			return nil
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			logger.Debug("websocket client went away", "error", err)
			return nil
		}
	}
	closeWebsocket(conn, websocket.CloseNormalClosure, "")
	return nil
}

func closeWebsocket(conn *websocket.Conn, code int, text string) {
	message := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
}

// pause waits between tokens and reports whether the client is still there.
func (s *Server) pause(ctx context.Context) bool {
	if s.tokenDelay <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(s.tokenDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Server) handleListRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, s.runs.list(c.Param("id")))
}

func (s *Server) handleExportRun(c echo.Context) error {
	run, ok := s.runs.get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "Run not found"})
	}
	return c.JSON(http.StatusOK, map[string]string{"markdown": exportMarkdown(run)})
}
