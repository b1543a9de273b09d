package gateway

import (
	"fmt"

	"github.com/nulzo/prism-router/internal/cli"
	"github.com/nulzo/prism-router/internal/llm"
	"go.uber.org/zap"
)

// BootstrapProviders loads the provider file and builds one adapter per entry.
// Entries whose key is missing stay registered so that calls fail with
// CONFIGURATION_MISSING instead of "not found".
func BootstrapProviders(path string, log *zap.Logger, opts ...llm.AdapterOption) (*llm.Providers, error) {
	registry, err := llm.LoadRegistry(path, log)
	if err != nil {
		return nil, err
	}

	ready := 0
	for _, cfg := range registry.List() {
		if cfg.RequiresKey() && cfg.APIKey == "" {
			log.Warn(fmt.Sprintf("%s %s %s",
				cli.WarningSign(),
				cli.Stylize(fmt.Sprintf("%s\t", cfg.Name), cli.Black),
				cli.Stylize(fmt.Sprintf("API key missing (set %s)", cfg.KeyEnvVariable), cli.Yellow),
			))
			continue
		}
		ready++
		log.Info(fmt.Sprintf("%s %s %s",
			cli.CheckMark(),
			cli.Stylize(fmt.Sprintf("%s\t", cfg.Name), cli.Black),
			cli.Stylize(cfg.Category+"/"+cfg.DialectName(), cli.Green),
		))
	}

	providers, err := llm.NewProviders(registry, opts...)
	if err != nil {
		return nil, err
	}

	if ready == 0 {
		log.Warn("No providers have credentials. API will not function correctly.")
	}

	return providers, nil
}
