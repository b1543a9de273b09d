package llm

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Registry maps provider names to their static configuration. It is built
// once at startup and never mutated, so it needs no locking.
type Registry struct {
	byName map[string]ProviderConfig
	order  []string
}

// NewRegistry indexes providers by lower-cased name. Later duplicates are dropped.
func NewRegistry(providers []ProviderConfig) *Registry {
	r := &Registry{byName: make(map[string]ProviderConfig, len(providers))}
	for _, p := range providers {
		key := strings.ToLower(p.Name)
		if _, exists := r.byName[key]; exists {
			continue
		}
		r.byName[key] = p
		r.order = append(r.order, key)
	}
	return r
}

// LoadRegistry reads the category → providers JSON file and resolves API keys
// from the environment variables each entry names. Invalid entries are skipped.
func LoadRegistry(path string, logger *zap.Logger) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading providers file: %w", err)
	}

	validate := validator.New()
	categories := v.AllSettings()

	names := make([]string, 0, len(categories))
	for category := range categories {
		names = append(names, category)
	}
	sort.Strings(names)

	var providers []ProviderConfig
	for _, category := range names {
		var entries []ProviderConfig
		if err := v.UnmarshalKey(category, &entries); err != nil {
			return nil, fmt.Errorf("unable to decode category %q: %w", category, err)
		}

		for _, p := range entries {
			if err := validate.Struct(&p); err != nil {
				logger.Warn("Skipping invalid provider entry",
					zap.String("category", category),
					zap.String("provider", p.Name),
					zap.Error(err),
				)
				continue
			}

			p.Category = category
			if p.KeyEnvVariable != "" {
				p.APIKey = os.Getenv(p.KeyEnvVariable)
			}
			providers = append(providers, p)
		}
	}

	return NewRegistry(providers), nil
}

// Get returns the configuration of a provider or ErrProviderNotFound.
func (r *Registry) Get(name string) (ProviderConfig, error) {
	p, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns providers in load order.
func (r *Registry) List() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.order)
}

// Ranked returns the providers of category ordered by how many of tags they
// carry, then priority (descending), then name. An empty category means all.
func (r *Registry) Ranked(category string, tags ...string) []ProviderConfig {
	var out []ProviderConfig
	for _, p := range r.List() {
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		out = append(out, p)
	}

	score := func(p ProviderConfig) int {
		n := 0
		for _, t := range tags {
			if p.HasTag(t) {
				n++
			}
		}
		return n
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := score(out[i]), score(out[j])
		if si != sj {
			return si > sj
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})

	return out
}
