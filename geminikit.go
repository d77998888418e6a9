// Package geminikit provides a high-level façade over the gemini protocol
// adapter, the tool registry and chat sessions, enabling rapid construction
// of Gemini-backed conversational applications. Most applications interact
// with this package by:
//  1. Creating a GeminiKit via New() with an API key
//  2. Registering tools (function calling capabilities)
//  3. Opening sessions and sending messages, buffered (Send) or streaming
//     (SendStream)
//
// The façade delegates protocol work to the gemini package while keeping
// setup ergonomics concise. All defaults are safe for local development;
// production deployments typically supply a tuned HTTP client and a
// structured logger.
package geminikit

import (
	"github.com/hupe1980/geminikit/chat"
	"github.com/hupe1980/geminikit/gemini"
	"github.com/hupe1980/geminikit/logging"
	"github.com/hupe1980/geminikit/tool"
)

// Options configures the GeminiKit instance.
type Options struct {
	// Model is the Gemini model identifier. Defaults to gemini.DefaultModel.
	Model string

	// BaseURL overrides the API endpoint (testing, proxies).
	BaseURL string

	// HTTPClient overrides the transport used for all requests.
	HTTPClient gemini.HTTPClient

	// GenerationConfig is the default generation parameter set for every
	// request that does not override it.
	GenerationConfig *gemini.GenerationConfig

	// Tools are registered into the kit's registry at construction.
	Tools []tool.Tool

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// GeminiKit aggregates the API client and the shared tool registry.
type GeminiKit struct {
	opts     Options
	client   *gemini.Client
	registry *tool.Registry
}

// New creates a new GeminiKit instance for the given API key with optional
// overrides.
func New(apiKey string, optFns ...func(o *Options)) *GeminiKit {
	opts := Options{
		Model:   gemini.DefaultModel,
		BaseURL: gemini.DefaultBaseURL,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := gemini.NewClient(apiKey, func(o *gemini.ClientOptions) {
		o.Model = opts.Model
		o.BaseURL = opts.BaseURL
		if opts.HTTPClient != nil {
			o.HTTPClient = opts.HTTPClient
		}
		o.GenerationConfig = opts.GenerationConfig
		o.Logger = opts.Logger
	})

	return &GeminiKit{
		opts:     opts,
		client:   client,
		registry: tool.NewRegistry(opts.Tools...),
	}
}

// Client returns the underlying API client.
func (k *GeminiKit) Client() *gemini.Client { return k.client }

// Registry returns the shared tool registry.
func (k *GeminiKit) Registry() *tool.Registry { return k.registry }

// RegisterTool adds tools to the shared registry.
func (k *GeminiKit) RegisterTool(tools ...tool.Tool) { k.registry.Register(tools...) }

// NewSession opens a chat session backed by the kit's client and registry.
// Session options may still override the registry per session.
func (k *GeminiKit) NewSession(optFns ...func(o *chat.SessionOptions)) (*chat.Session, error) {
	return chat.NewSession(k.client, func(o *chat.SessionOptions) {
		o.Registry = k.registry
		o.Logger = k.opts.Logger
		for _, fn := range optFns {
			fn(o)
		}
	})
}
