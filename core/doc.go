// Package core provides the foundational domain types shared across
// GeminiKit. It defines the provider-agnostic abstractions for:
//
//   - Content and its closed Part variant set (text, function call,
//     function response)
//   - Events (immutable records of streamed output, tool activity and
//     turn completion)
//   - Usage (generic token accounting for one round trip)
//   - ToolContext (scoped execution surface handed to tool implementations)
//
// The package intentionally keeps implementation concerns (wire encoding,
// HTTP transport, tool dispatch) out of scope; those live in the gemini,
// tool and chat packages which all build on these types.
package core
