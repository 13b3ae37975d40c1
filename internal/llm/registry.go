// ABOUTME: Registry of configured models keyed by provider name.
// ABOUTME: Requests select a model by name and fall back to the configured default.

package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/parley/internal/config"
)

var ErrUnknownModel = errors.New("unknown model")

// Registry holds the available models.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
	def    string
}

// NewRegistry creates an empty registry with the given default model name.
func NewRegistry(defaultName string) *Registry {
	return &Registry{models: make(map[string]Model), def: defaultName}
}

// NewRegistryFromConfig registers an OpenAIClient for every configured provider.
func NewRegistryFromConfig(cfg config.ModelsConfig, logger *slog.Logger) *Registry {
	r := NewRegistry(cfg.Default)
	for _, p := range cfg.Providers {
		r.Register(NewOpenAIClient(p, logger))
	}
	return r
}

// Register adds or replaces a model under its name.
func (r *Registry) Register(m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name()] = m
	if r.def == "" {
		r.def = m.Name()
	}
}

// Get returns the named model, or the default when name is empty.
func (r *Registry) Get(name string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.def
	}
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return m, nil
}

// Names lists registered model names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for n := range r.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
