// Package chat provides the conversational runtime on top of the gemini
// protocol adapter: sessions with in-memory history, a bounded tool loop for
// buffered sends and a streaming send that executes tool calls mid-stream
// and splices the nested model turn's events into the caller's sequence.
//
// A Session is not safe for concurrent use; run one send at a time. Tool
// calls within a single model turn may execute in parallel through the
// session's executor.
package chat
