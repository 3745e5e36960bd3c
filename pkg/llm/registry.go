package llm

import "strings"

// Registry resolves a model identifier to a provider client by declared
// model-name prefixes. Resolution is total: identifiers that match no
// registered prefix fall back to the default client.
type Registry struct {
	prefixes []prefixEntry
	fallback Client
}

type prefixEntry struct {
	prefix string
	client Client
}

// NewRegistry creates a registry with the given default client.
func NewRegistry(fallback Client) *Registry {
	return &Registry{fallback: fallback}
}

// Register binds a model-name prefix (e.g. "gemini-") to a client.
func (r *Registry) Register(prefix string, client Client) {
	r.prefixes = append(r.prefixes, prefixEntry{prefix: prefix, client: client})
}

// Resolve returns the client whose prefix matches modelName, or the default.
func (r *Registry) Resolve(modelName string) Client {
	for _, e := range r.prefixes {
		if strings.HasPrefix(modelName, e.prefix) {
			return e.client
		}
	}
	return r.fallback
}
