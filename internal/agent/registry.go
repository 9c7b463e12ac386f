package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// ErrNotFound is returned for an unknown profile name.
var ErrNotFound = errors.New("agent not found")

// Registry manages agent profiles.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry creates a registry holding the built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{agents: make(map[string]*Agent)}
	for name, a := range BuiltInAgents() {
		r.agents[name] = a
	}
	return r
}

// Get retrieves a profile by name. An empty name selects DefaultName.
func (r *Registry) Get(name string) (*Agent, error) {
	if name == "" {
		name = DefaultName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return a, nil
}

// Register adds or replaces a profile.
func (r *Registry) Register(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name] = a
}

// Unregister removes a profile by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, name)
}

// List returns all profiles ordered by name.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents
}

// Names returns all profile names in order.
func (r *Registry) Names() []string {
	agents := r.List()
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	return names
}

// Exists checks if a profile exists.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

// LoadFromConfig applies configuration on top of the registered profiles.
// Global tool switches apply to every profile; a profile's own entries
// override them. Unknown names define new profiles based on build.
func (r *Registry) LoadFromConfig(cfg *types.Config) {
	if cfg == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(cfg.Tools) > 0 {
		for name, a := range r.agents {
			a = a.Clone()
			for tool, enabled := range cfg.Tools {
				if _, own := a.Tools[tool]; !own || tool == "*" {
					if a.Tools == nil {
						a.Tools = make(map[string]bool)
					}
					a.Tools[tool] = enabled
				}
			}
			r.agents[name] = a
		}
	}

	names := make([]string, 0, len(cfg.Agent))
	for name := range cfg.Agent {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ac := cfg.Agent[name]
		if ac.Disable {
			delete(r.agents, name)
			continue
		}

		var a *Agent
		if existing, ok := r.agents[name]; ok {
			a = existing.Clone()
			a.BuiltIn = false
		} else {
			base, ok := r.agents[DefaultName]
			if !ok {
				base = BuiltInAgents()[DefaultName]
			}
			a = base.Clone()
			a.Name = name
			a.Description = ""
			a.BuiltIn = false
		}

		if ac.Description != "" {
			a.Description = ac.Description
		}
		if ac.Model != "" {
			a.Model = ac.Model
		}
		if ac.Prompt != "" {
			a.Prompt = ac.Prompt
		}
		if ac.Temperature != nil {
			t := *ac.Temperature
			a.Temperature = &t
		}
		if ac.MaxSteps > 0 {
			a.MaxSteps = ac.MaxSteps
		}
		if len(ac.Tools) > 0 {
			if a.Tools == nil {
				a.Tools = make(map[string]bool)
			}
			for k, v := range ac.Tools {
				a.Tools[k] = v
			}
		}
		// Later rules win ties, so configured rules land after the profile's.
		a.Permission = append(a.Permission, ac.Permission...)

		r.agents[name] = a
	}
}
