package chat

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const scopeName = "github.com/koscakluka/ema-datachat/core/chat"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	turnCounter       metric.Int64Counter     = noop.Int64Counter{}
	firstTokenLatency metric.Float64Histogram = noop.Float64Histogram{}
)

func init() {
	if counter, err := meter.Int64Counter("chat.turns",
		metric.WithDescription("Chat turns by outcome."),
	); err != nil {
		logger.Error("failed to create turn counter", "error", err)
	} else {
		turnCounter = counter
	}

	if histogram, err := meter.Float64Histogram("chat.request_to_first_token",
		metric.WithDescription("Time from sending a chat request to the first frame."),
		metric.WithUnit("s"),
	); err != nil {
		logger.Error("failed to create first token histogram", "error", err)
	} else {
		firstTokenLatency = histogram
	}
}
