package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/prism-router/internal/analytics"
	"github.com/nulzo/prism-router/internal/llm"
	"github.com/nulzo/prism-router/internal/store/model"
	"github.com/nulzo/prism-router/pkg/api"
	"go.uber.org/zap"
)

// Service is the business surface used by the HTTP handlers.
type Service interface {
	Route(ctx context.Context, req *api.RoutingRequest) (*api.RoutingResponse, error)
	// Proxy sends prompt to one named provider without retries or fallback.
	Proxy(ctx context.Context, provider, prompt string) (*api.ProxyResponse, error)
	Providers(ctx context.Context) []api.ProviderInfo
}

var _ Service = (*Router)(nil)

// Proxy returns *llm.ProviderError for provider failures and wraps
// llm.ErrProviderNotFound for unknown names. No call is made in either
// configuration case.
func (r *Router) Proxy(ctx context.Context, name, prompt string) (*api.ProxyResponse, error) {
	provider, err := r.providers.Get(name)
	if err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "gateway.Proxy")
	defer span.End()

	start := r.now()
	comp, err := provider.Complete(ctx, llm.Request{Prompt: prompt})
	elapsed := r.now().Sub(start)

	r.emitProxy(provider, comp, err, start, elapsed)

	if err != nil {
		r.logger.Warn("Proxy call failed",
			zap.String("provider", provider.Name()),
			zap.Duration("latency", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	return &api.ProxyResponse{
		Provider: provider.Name(),
		Model:    comp.Model,
		Text:     comp.Text,
		Usage:    api.NewTokenUsage(comp.Usage.Prompt, comp.Usage.Completion, comp.Usage.Estimated),
		Metadata: comp.Metadata,
	}, nil
}

// emitProxy accounts a proxy call like a single-attempt route.
func (r *Router) emitProxy(p llm.Provider, comp *llm.Completion, err error, start time.Time, elapsed time.Duration) {
	if r.ingestor == nil {
		return
	}

	rec := &model.RouteRecord{
		ID:            "proxy-" + uuid.NewString(),
		UserID:        AnonymousUser,
		ProviderID:    p.Name(),
		Priority:      string(api.PriorityNormal),
		Attempts:      1,
		FallbacksJSON: "[]",
		LatencyMS:     elapsed.Milliseconds(),
		CreatedAt:     start.UTC(),
	}
	stat := &model.UsageStat{
		ProviderID:     p.Name(),
		UserID:         AnonymousUser,
		Bucket:         model.HourBucket(start),
		Requests:       1,
		TotalLatencyMS: elapsed.Milliseconds(),
	}

	if err != nil {
		rec.Status = model.StatusFailed
		rec.ErrorCode = string(codeForKind(llm.KindOf(err)))
		rec.StatusCode = statusForCode(codeForKind(llm.KindOf(err)), 0)
		stat.Errors = 1
	} else {
		promptCost, completionCost := p.Config().Cost(comp.Usage.Prompt, comp.Usage.Completion)
		rec.Status = model.StatusSucceeded
		rec.StatusCode = 200
		rec.ModelID = comp.Model
		rec.PromptTokens = comp.Usage.Prompt
		rec.CompletionTokens = comp.Usage.Completion
		rec.TokensEstimated = comp.Usage.Estimated
		rec.PromptCost = promptCost
		rec.CompletionCost = completionCost
		rec.TotalCost = promptCost + completionCost
		stat.PromptTokens = int64(comp.Usage.Prompt)
		stat.CompletionTokens = int64(comp.Usage.Completion)
		stat.TotalCost = rec.TotalCost
	}

	r.ingestor.Log(&analytics.Event{Record: rec, Usage: []*model.UsageStat{stat}})
}

// Providers lists the registry without secrets.
func (r *Router) Providers(ctx context.Context) []api.ProviderInfo {
	list := r.providers.Registry().List()
	out := make([]api.ProviderInfo, 0, len(list))
	for _, cfg := range list {
		out = append(out, api.ProviderInfo{
			Name:                   cfg.Name,
			Category:               cfg.Category,
			Dialect:                cfg.DialectName(),
			Model:                  cfg.Model,
			Endpoint:               cfg.Endpoint,
			KeyConfigured:          !cfg.RequiresKey() || cfg.APIKey != "",
			Priority:               cfg.Priority,
			Tags:                   cfg.Tags,
			CostPerPromptToken:     cfg.CostPerPromptToken,
			CostPerCompletionToken: cfg.CostPerCompletionToken,
		})
	}
	return out
}

func (r *Router) String() string {
	return fmt.Sprintf("Router(%d providers, maxRetries=%d)", r.providers.Registry().Len(), r.cfg.MaxRetries)
}
