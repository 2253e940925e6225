// Package chat drives chat turns against the analytics API: it opens the
// stream, decodes and interprets its frames and applies them to a
// conversation.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/koscakluka/ema-datachat/core/conversation"
	"github.com/koscakluka/ema-datachat/core/events"
	"github.com/koscakluka/ema-datachat/core/stream"
)

// Session is one conversation with the analytics API about a project.
type Session struct {
	initiator Initiator
	assembler *conversation.Assembler
	logger    *slog.Logger

	projectID string
	settings  Settings

	assemblerOptions []conversation.AssemblerOption

	mu        sync.RWMutex
	datasetID *string
}

type SessionOption func(*Session)

// WithDataset selects the dataset the first turns are asked about.
func WithDataset(datasetID string) SessionOption {
	return func(s *Session) {
		s.setDataset(datasetID)
	}
}

func WithSettings(settings Settings) SessionOption {
	return func(s *Session) {
		s.settings = settings
	}
}

// WithAssemblerOptions passes options to the session's conversation
// assembler, for example to observe the transcript or seed history.
func WithAssemblerOptions(opts ...conversation.AssemblerOption) SessionOption {
	return func(s *Session) {
		s.assemblerOptions = append(s.assemblerOptions, opts...)
	}
}

func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSession(initiator Initiator, projectID string, opts ...SessionOption) *Session {
	s := &Session{
		initiator: initiator,
		logger:    logger,
		projectID: projectID,
		settings:  DefaultSettings(),
	}
	for _, opt := range opts {
		opt(s)
	}

	assemblerOptions := append([]conversation.AssemblerOption{conversation.WithLogger(s.logger)}, s.assemblerOptions...)
	s.assembler = conversation.NewAssembler(assemblerOptions...)

	return s
}

// SelectDataset changes the dataset later turns are asked about. An empty id
// clears the selection.
func (s *Session) SelectDataset(datasetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setDataset(datasetID)
}

func (s *Session) setDataset(datasetID string) {
	if datasetID == "" {
		s.datasetID = nil
		return
	}
	s.datasetID = &datasetID
}

func (s *Session) DatasetID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.datasetID == nil {
		return ""
	}
	return *s.datasetID
}

func (s *Session) ProjectID() string {
	return s.projectID
}

func (s *Session) Settings() Settings {
	return s.settings
}

// Snapshot returns a copy of the session's transcript.
func (s *Session) Snapshot() conversation.Transcript {
	return s.assembler.Snapshot()
}

func (s *Session) State() conversation.State {
	return s.assembler.State()
}

// Send runs a whole turn: it appends the prompt, opens the stream and applies
// every frame until the stream ends. It returns the finalised assistant
// message, or a *conversation.TurnError when the stream ended, failed or was
// cancelled before a final answer. Partial content stays in the transcript
// either way.
//
// Frames after the final answer are read and ignored, the turn does not end
// until the server closes the stream.
func (s *Session) Send(ctx context.Context, text string) (conversation.Message, error) {
	ctx, span := tracer.Start(ctx, "send chat turn")
	defer span.End()

	span.SetAttributes(
		attribute.String("request.project_id", s.projectID),
		attribute.String("request.dataset_id", s.DatasetID()),
		attribute.String("request.provider", s.settings.Provider),
		attribute.String("request.model", s.settings.Model),
		attribute.Float64("request.temperature", s.settings.Temperature),
	)

	if _, err := s.assembler.StartTurn(text); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return conversation.Message{}, err
	}
	turnID := s.assembler.TurnID()
	span.SetAttributes(attribute.String("turn.id", turnID))

	s.mu.RLock()
	request := NewRequest(s.projectID, s.datasetID, s.assembler.Snapshot(), s.settings)
	s.mu.RUnlock()
	span.SetAttributes(attribute.Int("request.messages", len(request.Messages)))

	requestStart := time.Now()
	span.AddEvent("request started")
	body, err := s.initiator.Open(ctx, request)
	if err != nil {
		return s.fail(ctx, span, s.assembler.EndStream(err))
	}
	defer body.Close()

	var (
		final              *conversation.Message
		streamErr          error
		frameCount         int
		tokenCount         int
		droppedCount       int
		receivedFirstFrame bool
	)
	for frame, err := range stream.Frames(ctx, body) {
		if err != nil {
			streamErr = err
			break
		}

		frameCount++
		if !receivedFirstFrame {
			receivedFirstFrame = true
			latency := time.Since(requestStart).Seconds()
			span.SetAttributes(attribute.Float64("response.request_to_first_token_time", latency))
			span.AddEvent("received first frame")
			firstTokenLatency.Record(ctx, latency, metric.WithAttributes(attribute.String("model", s.settings.Model)))
		}

		event, err := events.Interpret(frame)
		if err != nil {
			droppedCount++
			s.assembler.Discard(err)
			continue
		}
		if _, ok := event.(events.TokenDelta); ok {
			tokenCount++
		}

		change := s.assembler.Apply(event)
		if change.Kind == conversation.ChangeFinalised {
			final = &change.Message
			span.AddEvent("received final answer")
		}
	}

	span.SetAttributes(
		attribute.Int("response.frames", frameCount),
		attribute.Int("response.tokens", tokenCount),
		attribute.Int("response.dropped_frames", droppedCount),
	)

	if err := s.assembler.EndStream(streamErr); err != nil {
		return s.fail(ctx, span, err)
	}
	if final == nil {
		// The turn was finalised by someone else driving the assembler.
		return s.fail(ctx, span, conversation.ErrIncompleteTurn)
	}
	if streamErr != nil {
		s.logger.Debug("stream failed after the final answer", "turn_id", turnID, "error", streamErr)
	}

	span.SetAttributes(
		attribute.String("response.run_id", final.RunID),
		attribute.Bool("response.has_table", final.Table != nil),
		attribute.Bool("response.has_chart", final.Chart != nil),
	)
	turnCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "completed")))

	return *final, nil
}

func (s *Session) fail(ctx context.Context, span trace.Span, err error) (conversation.Message, error) {
	outcome := "failed"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		outcome = "cancelled"
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	turnCounter.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	return conversation.Message{}, err
}
