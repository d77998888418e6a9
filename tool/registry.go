package tool

import (
	"sort"
	"sync"
)

// Registry is a mutex-guarded collection of tools keyed by name. It serves
// as the lookup collaborator for function call projection: the stream
// decoder resolves requested names against it, and chat sessions use it to
// declare the available functions on every request.
//
// Registration is safe for concurrent use; an empty Registry is ready to use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	r.Register(tools...)
	return r
}

// Register adds tools to the registry, replacing any existing tool with the
// same name.
func (r *Registry) Register(tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if t == nil {
			continue
		}
		r.tools[t.Name()] = t
	}
}

// Deregister removes the named tool. Removing an unknown name is a no-op.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// ResolveTool returns the tool registered under name. The boolean reports
// whether a tool was found; unknown names are not an error because models
// may still reference deprecated or unregistered functions.
func (r *Registry) ResolveTool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Tools returns the registered tools sorted by name for deterministic
// declaration order on the wire.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.tools[name])
	}
	return tools
}
