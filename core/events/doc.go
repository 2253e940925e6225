// Package events defines the typed chat stream event contract.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - assistant_response.*
//   - turn_state.*
//
// assistant_response events are produced by Interpret from stream frames:
//
//   - TokenDelta (assistant_response.token_delta): append-only fragment of
//     the assistant reply, in stream order.
//   - FinalAnswer (assistant_response.final_answer): terminal answer of the
//     turn with optional table, chart and run id. Structured parts that
//     failed validation are absent and listed in Rejected.
//
// turn_state events are produced by the conversation assembler as it applies
// a stream:
//
//   - TurnStarted (turn_state.started): a user prompt opened a turn.
//   - TurnCompleted (turn_state.completed): a final answer closed the turn.
//   - TurnFailed (turn_state.failed): the stream ended or errored before a
//     final answer; the partial reply is kept.
//   - TurnCancelled (turn_state.cancelled): the caller aborted the stream;
//     the partial reply is kept.
//
// Frames that carry neither a token nor a message are reported by Interpret
// as ErrUnrecognizedEvent, payloads that are not JSON objects as
// ErrMalformedPayload. Both are wrapped in *InterpretError and are meant to
// be dropped by the consumer without ending the stream.
package events
