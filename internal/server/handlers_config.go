package server

import (
	"net/http"

	"github.com/opencode-ai/agentcore/internal/agent"
	"github.com/opencode-ai/agentcore/internal/tool"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// redacted replaces secrets in served configuration.
const redacted = "********"

// getConfig handles GET /config
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.currentConfig()
	if cfg == nil {
		writeJSON(w, http.StatusOK, &types.Config{})
		return
	}
	writeJSON(w, http.StatusOK, redactConfig(cfg))
}

// redactConfig returns a copy of cfg with provider API keys masked.
func redactConfig(cfg *types.Config) *types.Config {
	out := *cfg
	out.Provider = make(map[string]types.ProviderConfig, len(cfg.Provider))
	for name, p := range cfg.Provider {
		if p.APIKey != "" {
			p.APIKey = redacted
		}
		if p.Options != nil {
			opts := *p.Options
			if opts.APIKey != "" {
				opts.APIKey = redacted
			}
			p.Options = &opts
		}
		out.Provider[name] = p
	}
	return &out
}

// listAgents handles GET /agent
func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.agents().List()
	if agents == nil {
		agents = []*agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// listTools handles GET /tool
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	defs := []tool.Definition{}
	if s.tools != nil {
		defs = append(defs, s.tools.Definitions()...)
	}
	writeJSON(w, http.StatusOK, defs)
}
