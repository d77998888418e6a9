package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/geminikit/core"
	"github.com/hupe1980/geminikit/tool"
)

// Request describes one model call. Contents is the full conversation so
// far; system messages inside it never reach the wire contents array, their
// text is merged into the system instruction instead.
type Request struct {
	// Contents is the ordered conversation history.
	Contents []core.Content
	// Instructions is the configured system prompt. Joined with any system
	// message text surfaced from Contents.
	Instructions string
	// GenerationConfig overrides the client default. Nil falls back to the
	// client's configured default (which may itself be nil / omitted).
	GenerationConfig *GenerationConfig
	// Tools are declared to the model as callable functions.
	Tools []tool.Tool
	// Resolver looks up tools requested by the model. Usually a
	// *tool.Registry. Unresolved names are tolerated and omitted.
	Resolver ToolResolver
	// OnToolCall is invoked mid-stream when the model's function call
	// resolves; every event it yields is spliced into the output stream.
	// Only used by GenerateContentStream.
	OnToolCall ToolCallHandler
}

// GenerationConfig mirrors the vendor's generationConfig object. Pointer
// fields distinguish "unset" from zero values; a configured-but-empty config
// marshals as {} which the API accepts, while a nil config omits the key
// entirely. That distinction is wire contract.
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	CandidateCount  *int     `json:"candidateCount,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// Wire roles. Gemini knows only user and model; tool results travel under
// the responding user role.
const (
	roleUser  = "user"
	roleModel = "model"
)

// content is one entry of the wire contents array.
type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

// part is the tagged wire part variant shared by requests and responses.
type part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

// functionCall is the vendor's structured tool invocation request. Args is
// never nil on outgoing payloads: a call without inputs marshals as {}.
type functionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type functionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type toolDeclarations struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// generationRequest is the outbound JSON body for both endpoints.
type generationRequest struct {
	Contents          []content          `json:"contents"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig  `json:"generationConfig,omitempty"`
	Tools             []toolDeclarations `json:"tools,omitempty"`
}

// mapContents transforms the generic message sequence into the wire contents
// array and surfaces system message text. Each source message becomes its
// own wire entry; consecutive same-role entries are not merged.
func mapContents(contents []core.Content) ([]content, string, error) {
	mapped := make([]content, 0, len(contents))
	var system []string

	for _, c := range contents {
		switch c.Role {
		case core.RoleSystem:
			if text := c.Text(); strings.TrimSpace(text) != "" {
				system = append(system, text)
			}
		case core.RoleTool:
			responses := c.FunctionResponses()
			if len(responses) == 0 {
				continue
			}
			parts := make([]part, 0, len(responses))
			for _, fr := range responses {
				parts = append(parts, part{FunctionResponse: &functionResponse{
					Name:     fr.Name,
					Response: responseEnvelope(fr),
				}})
			}
			// Gemini expects function responses from the responding role,
			// not from "model".
			mapped = append(mapped, content{Role: roleUser, Parts: parts})
		case core.RoleAssistant:
			calls := c.FunctionCalls()
			if len(calls) == 0 {
				mapped = append(mapped, content{Role: roleModel, Parts: []part{{Text: c.Text()}}})
				continue
			}
			parts := make([]part, 0, len(calls)+1)
			if text := c.Text(); text != "" {
				parts = append(parts, part{Text: text})
			}
			for _, fc := range calls {
				args, err := decodeArgs(fc.Arguments)
				if err != nil {
					return nil, "", fmt.Errorf("function call %q carries undecodable arguments: %w", fc.Name, err)
				}
				parts = append(parts, part{FunctionCall: &functionCall{Name: fc.Name, Args: args}})
			}
			mapped = append(mapped, content{Role: roleModel, Parts: parts})
		default:
			mapped = append(mapped, content{Role: roleUser, Parts: []part{{Text: c.Text()}}})
		}
	}

	return mapped, strings.Join(system, "\n"), nil
}

// decodeArgs parses a serialized argument payload, defaulting to an empty
// object (never an array, never null) when the call takes no inputs.
func decodeArgs(arguments string) (map[string]any, error) {
	if strings.TrimSpace(arguments) == "" {
		return map[string]any{}, nil
	}
	args := map[string]any{}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// responseEnvelope wraps a tool outcome in the vendor's response object.
// String results travel verbatim under "result"; non-string results are
// serialized to a JSON string first; failures carry "error" instead.
func responseEnvelope(fr core.FunctionResponse) map[string]any {
	if fr.Error != "" {
		return map[string]any{"error": fr.Error}
	}
	switch v := fr.Response.(type) {
	case nil:
		return map[string]any{"result": ""}
	case string:
		return map[string]any{"result": v}
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return map[string]any{"result": fmt.Sprintf("%v", v)}
		}
		return map[string]any{"result": string(raw)}
	}
}

// buildPayload assembles the outbound request body, applying the vendor's
// null-omission and empty-object retention rules.
func (c *Client) buildPayload(req Request) (*generationRequest, error) {
	mapped, systemText, err := mapContents(req.Contents)
	if err != nil {
		return nil, err
	}

	gr := &generationRequest{Contents: mapped}

	instructions := joinNonBlank(req.Instructions, systemText)
	if strings.TrimSpace(instructions) != "" {
		gr.SystemInstruction = &systemInstruction{Parts: []part{{Text: instructions}}}
	}

	if req.GenerationConfig != nil {
		gr.GenerationConfig = req.GenerationConfig
	} else {
		gr.GenerationConfig = c.opts.GenerationConfig
	}

	if len(req.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, functionDeclaration{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  declarationSchema(t.Parameters()),
			})
		}
		gr.Tools = []toolDeclarations{{FunctionDeclarations: decls}}
	}

	return gr, nil
}

func joinNonBlank(parts ...string) string {
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

// declarationSchema rewrites a JSON-schema-like parameter map into the
// vendor's declaration format: primitive type names upper-cased recursively
// and a guaranteed empty properties object on parameterless tools.
func declarationSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema)+2)
	for k, v := range schema {
		switch k {
		case "type":
			if s, ok := v.(string); ok {
				out[k] = strings.ToUpper(s)
			} else {
				out[k] = v
			}
		case "properties":
			props := map[string]any{}
			if m, ok := v.(map[string]any); ok {
				for name, sub := range m {
					if subSchema, ok := sub.(map[string]any); ok {
						props[name] = declarationSchema(subSchema)
					} else {
						props[name] = sub
					}
				}
			}
			out[k] = props
		case "items":
			if m, ok := v.(map[string]any); ok {
				out[k] = declarationSchema(m)
			} else {
				out[k] = v
			}
		default:
			out[k] = v
		}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "OBJECT"
	}
	if out["type"] == "OBJECT" {
		if _, ok := out["properties"]; !ok {
			out["properties"] = map[string]any{}
		}
	}
	return out
}
