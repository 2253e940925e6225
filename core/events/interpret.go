package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/koscakluka/ema-datachat/core/results"
	"github.com/koscakluka/ema-datachat/core/stream"
)

var (
	ErrMalformedPayload  = errors.New("malformed event payload")
	ErrUnrecognizedEvent = errors.New("unrecognized event")
)

// InterpretError reports a frame that could not be turned into an event.
// Consumers drop the frame and carry on with the stream.
type InterpretError struct {
	Frame stream.Frame
	Err   error
}

func (e *InterpretError) Error() string {
	return fmt.Sprintf("failed to interpret frame: %v", e.Err)
}

func (e *InterpretError) Unwrap() error {
	return e.Err
}

// Interpret classifies a frame's payload. A non-empty "token" makes a
// TokenDelta; otherwise a "message" makes a FinalAnswer; anything else is
// ErrUnrecognizedEvent. Payloads that are not JSON objects are
// ErrMalformedPayload.
//
// Table and chart sub-payloads that fail validation are left out of the
// FinalAnswer instead of failing it, the message text is what matters.
func Interpret(frame stream.Frame) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(frame.Payload()), &fields); err != nil {
		return nil, &InterpretError{Frame: frame, Err: fmt.Errorf("%w: %w", ErrMalformedPayload, err)}
	}
	if fields == nil {
		// Literal null decodes into a nil map without error.
		return nil, &InterpretError{Frame: frame, Err: fmt.Errorf("%w: payload is null", ErrMalformedPayload)}
	}

	if token, ok := stringField(fields, "token"); ok && token != "" {
		return NewTokenDelta(token), nil
	}

	message, ok := stringField(fields, "message")
	if !ok {
		return nil, &InterpretError{Frame: frame, Err: ErrUnrecognizedEvent}
	}

	answer := NewFinalAnswer(message, nil, nil)
	answer.RunID, _ = stringField(fields, "run_id")

	if table, err := results.ParseTable(fields["table"]); err != nil {
		answer.Rejected = append(answer.Rejected, err)
	} else {
		answer.Table = table
	}
	if chart, err := results.ParseChart(fields["chart"]); err != nil {
		answer.Rejected = append(answer.Rejected, err)
	} else {
		answer.Chart = chart
	}

	return answer, nil
}

// stringField reports the named field when it is present and holds a JSON
// string. Other types, including null, count as absent.
func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}
