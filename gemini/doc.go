// Package gemini implements the protocol adapter for the Google Gemini
// generateContent / streamGenerateContent HTTP API. It covers:
//
//   - Mapping provider-agnostic core.Content sequences onto the vendor's
//     contents array (roles user/model, functionCall / functionResponse parts)
//   - Building request payloads with the vendor's null-omission and
//     empty-object quirks preserved exactly
//   - Reading the streaming SSE response body line by line
//   - Decoding SSE data lines into semantic stream events: incremental text
//     deltas, mid-stream tool invocations (with recursive splicing of the
//     tool handler's own event sequence) and a terminal usage report
//   - Classifying every fatal failure into a single *Error taxonomy
//
// Streaming is exposed as a lazy pull-based iter.Seq2 producer: no request
// is issued until the consumer pulls the first event, and the response body
// is released on every exit path including early consumer breaks.
package gemini
