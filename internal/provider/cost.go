package provider

import "github.com/opencode-ai/agentcore/pkg/types"

// Cost prices usage against the model's per-million token rates. Reasoning
// tokens are billed as output.
func Cost(m *types.Model, usage types.TokenUsage) float64 {
	if m == nil {
		return 0
	}
	return (float64(usage.Input)*m.InputPrice +
		float64(usage.Output+usage.Reasoning)*m.OutputPrice +
		float64(usage.Cache.Read)*m.CacheReadPrice +
		float64(usage.Cache.Write)*m.CacheWritePrice) / 1_000_000
}
