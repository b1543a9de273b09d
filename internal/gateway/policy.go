package gateway

import (
	"strings"

	"github.com/nulzo/prism-router/internal/llm"
	"github.com/nulzo/prism-router/pkg/api"
)

// Rule maps request characteristics to an ordered provider chain. Empty
// criteria match anything; a rule without criteria is a catch-all.
type Rule struct {
	Name       string
	Topics     []string
	TaskTypes  []string
	Complexity []string
	Vision     bool
	Chain      []string
}

func (r Rule) matches(req *api.RoutingRequest) bool {
	var topic, taskType, complexity string
	var vision bool
	if req.Scope != nil {
		topic = req.Scope.Topic
	}
	if req.Analysis != nil {
		taskType = req.Analysis.TaskType
		complexity = req.Analysis.Complexity
		vision = req.Analysis.RequiresVision
	}

	if r.Vision && !vision {
		return false
	}
	return anyFold(r.Topics, topic) && anyFold(r.TaskTypes, taskType) && anyFold(r.Complexity, complexity)
}

func anyFold(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// Policy selects the ordered candidate providers for a request.
type Policy struct {
	Rules        []Rule
	DefaultChain []string
	// registry category used when nothing else applies
	Category string
}

// Candidates returns the providers to try, in order, and the rule that chose them.
func (p Policy) Candidates(req *api.RoutingRequest, registry *llm.Registry) ([]string, string) {
	if req.ForceLLM != "" {
		return []string{req.ForceLLM}, "forced"
	}

	for _, rule := range p.Rules {
		if !rule.matches(req) {
			continue
		}
		if chain := known(rule.Chain, registry); len(chain) > 0 {
			return chain, rule.Name
		}
	}

	if chain := known(p.DefaultChain, registry); len(chain) > 0 {
		return chain, "default"
	}

	ranked := registry.Ranked(p.Category, preferenceTags(req)...)
	names := make([]string, 0, len(ranked))
	for _, cfg := range ranked {
		names = append(names, cfg.Name)
	}
	return names, "ranked"
}

// known keeps registered names in order, without duplicates.
func known(chain []string, registry *llm.Registry) []string {
	seen := make(map[string]struct{}, len(chain))
	out := make([]string, 0, len(chain))
	for _, name := range chain {
		cfg, err := registry.Get(name)
		if err != nil {
			continue
		}
		key := strings.ToLower(cfg.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, cfg.Name)
	}
	return out
}

func preferenceTags(req *api.RoutingRequest) []string {
	var tags []string
	if req.Scope != nil {
		tags = append(tags, req.Scope.Topic, req.Scope.Personality)
	}
	if req.Analysis != nil {
		tags = append(tags, req.Analysis.TaskType)
		if req.Analysis.RequiresVision {
			tags = append(tags, "vision")
		}
	}
	return tags
}
