package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/nulzo/prism-router/internal/analytics"
	"github.com/nulzo/prism-router/internal/llm"
	"github.com/nulzo/prism-router/internal/store/cache"
	"github.com/nulzo/prism-router/internal/store/model"
	"github.com/nulzo/prism-router/pkg/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Routing states recorded in metadata.states.
const (
	StatePending   = "PENDING"
	StateInFlight  = "IN_FLIGHT"
	StateRetrying  = "RETRYING"
	StateSucceeded = "SUCCEEDED"
	StateFailed    = "FAILED"
)

const (
	DefaultMaxRetries = 2
	DefaultResultTTL  = 24 * time.Hour
	AnonymousUser     = "anonymous"

	resultKeyPrefix = "route:"
)

type Config struct {
	MaxRetries int
	Backoff    BackoffConfig
	ResultTTL  time.Duration
	// Deadline bounds a whole routing execution, retries and fallbacks included.
	// Zero leaves it to the per-attempt timeouts.
	Deadline time.Duration
	Policy   Policy
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultBackoff(),
		ResultTTL:  DefaultResultTTL,
		Policy:     Policy{Category: "text"},
	}
}

// History looks up the stored response of a request routed earlier.
type History interface {
	Route(ctx context.Context, id string) (*api.RoutingResponse, error)
}

type RouterOption func(*Router)

func WithResultStore(c cache.CacheService) RouterOption {
	return func(r *Router) {
		r.results = c
	}
}

func WithIngestor(i analytics.Ingestor) RouterOption {
	return func(r *Router) {
		r.ingestor = i
	}
}

func WithHistory(h History) RouterOption {
	return func(r *Router) {
		r.history = h
	}
}

// Router selects providers for a request and drives retries and fallbacks.
type Router struct {
	logger    *zap.Logger
	providers *llm.Providers
	cfg       Config
	results   cache.CacheService
	ingestor  analytics.Ingestor
	history   History
	group     singleflight.Group
	flights   flights
	tracer    trace.Tracer
	now       func() time.Time
}

func NewRouter(logger *zap.Logger, providers *llm.Providers, cfg Config, opts ...RouterOption) *Router {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}

	r := &Router{
		logger:    logger,
		providers: providers,
		cfg:       cfg,
		results:   cache.NewMemoryCache(),
		tracer:    otel.Tracer("prism-router/gateway"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, rule := range cfg.Policy.Rules {
		for _, name := range rule.Chain {
			if _, err := providers.Registry().Get(name); err != nil {
				logger.Warn("Route rule references unknown provider",
					zap.String("rule", rule.Name),
					zap.String("provider", name),
				)
			}
		}
	}

	return r
}

// Route executes req against the selected providers. Failures are always *RouterError.
// Re-invoking with the id of a succeeded request returns the stored response.
func (r *Router) Route(ctx context.Context, req *api.RoutingRequest) (*api.RoutingResponse, error) {
	started := r.now()

	if req == nil {
		return nil, r.invalid("", started, "request body is required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := validateRequest(req); err != nil {
		return nil, r.invalid(req.ID, started, err.Error())
	}

	if resp, ok := r.lookup(ctx, req.ID); ok {
		return resp, nil
	}

	f := r.join(ctx, req.ID)
	defer r.leave(req.ID, f)

	ch := r.group.DoChan(req.ID, func() (interface{}, error) {
		// a concurrent leader may have finished between lookup and here
		if resp, ok := r.lookup(f.ctx, req.ID); ok {
			return resp, nil
		}
		return r.execute(f.ctx, req, started)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*api.RoutingResponse), nil
	case <-ctx.Done():
		// the caller went away; its own deadline is not the route deadline
		rerr := newRouterError(req.ID, CodeCancelled, "request cancelled", ctx.Err())
		rerr.Timing = r.timing(started, nil)
		return nil, rerr
	}
}

func validateRequest(req *api.RoutingRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return errors.New("prompt is required")
	}
	if req.MaxRetries != nil && *req.MaxRetries < 0 {
		return errors.New("maxRetries must not be negative")
	}
	if req.Timeout != nil && *req.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	switch req.Priority {
	case "", api.PriorityLow, api.PriorityNormal, api.PriorityHigh:
	default:
		return fmt.Errorf("unknown priority %q", req.Priority)
	}
	return nil
}

func (r *Router) invalid(id string, started time.Time, msg string) *RouterError {
	rerr := newRouterError(id, CodeInvalidInput, msg, nil)
	rerr.Timing = r.timing(started, nil)
	return rerr
}

func (r *Router) lookup(ctx context.Context, id string) (*api.RoutingResponse, bool) {
	var resp api.RoutingResponse
	err := r.results.Get(ctx, resultKeyPrefix+id, &resp)
	if err == nil {
		return &resp, true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		r.logger.Warn("Result store lookup failed", zap.String("request_id", id), zap.Error(err))
	}

	if r.history != nil {
		if stored, err := r.history.Route(ctx, id); err == nil {
			return stored, true
		}
	}
	return nil, false
}

// run is the mutable state of one routing execution.
type run struct {
	req       *api.RoutingRequest
	started   time.Time
	states    []api.Transition
	attempts  []api.Attempt
	fallbacks []string
	usage     map[string]*model.UsageStat
	order     []string
}

func (r *Router) transition(st *run, state, provider string) {
	st.states = append(st.states, api.Transition{State: state, Provider: provider, At: r.now()})
}

func (r *Router) execute(ctx context.Context, req *api.RoutingRequest, started time.Time) (*api.RoutingResponse, error) {
	ctx, span := r.tracer.Start(ctx, "gateway.Route", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.priority", string(priorityOf(req))),
	))
	defer span.End()

	st := &run{req: req, started: started, usage: make(map[string]*model.UsageStat)}
	r.transition(st, StatePending, "")

	candidates, rule := r.cfg.Policy.Candidates(req, r.providers.Registry())
	span.SetAttributes(attribute.String("route.rule", rule), attribute.StringSlice("route.candidates", candidates))

	if len(candidates) == 0 {
		return nil, r.fail(span, st, newRouterError(req.ID, CodeConfigurationMissing, "no providers configured", nil))
	}

	maxRetries := r.cfg.MaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	var timeout time.Duration
	if req.Timeout != nil {
		timeout = time.Duration(*req.Timeout) * time.Millisecond
	}

	var lastErr error
	for idx, name := range candidates {
		provider, err := r.providers.Get(name)
		if err != nil {
			lastErr = &llm.ProviderError{Kind: llm.KindConfigurationMissing, Provider: name, Message: "provider not configured", Err: err}
			if req.ForceLLM != "" {
				break
			}
			if idx < len(candidates)-1 {
				st.fallbacks = append(st.fallbacks, name)
				r.transition(st, StateRetrying, candidates[idx+1])
			}
			continue
		}

		comp, err := r.tryProvider(ctx, st, provider, maxRetries, timeout)
		if err == nil {
			resp := r.succeed(st, provider, comp)
			return r.commit(ctx, span, st, provider, resp)
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, r.fail(span, st, contextError(req.ID, ctx.Err()))
		}

		kind := llm.KindOf(err)
		if !fallsBack(kind) || req.ForceLLM != "" || idx == len(candidates)-1 {
			break
		}

		st.fallbacks = append(st.fallbacks, provider.Name())
		r.transition(st, StateRetrying, candidates[idx+1])
		r.logger.Warn("Falling back to next provider",
			zap.String("request_id", req.ID),
			zap.String("from", provider.Name()),
			zap.String("to", candidates[idx+1]),
			zap.String("reason", string(kind)),
		)
	}

	kind := llm.KindOf(lastErr)
	msg := "all providers failed"
	var pe *llm.ProviderError
	if errors.As(lastErr, &pe) {
		msg = pe.Message
	}
	if req.ForceLLM != "" && errors.Is(lastErr, llm.ErrProviderNotFound) {
		msg = fmt.Sprintf("provider %q is not configured", req.ForceLLM)
	}
	return nil, r.fail(span, st, newRouterError(req.ID, codeForKind(kind), msg, lastErr))
}

// tryProvider calls one provider, retrying retryable failures up to maxRetries times.
func (r *Router) tryProvider(ctx context.Context, st *run, p llm.Provider, maxRetries int, timeout time.Duration) (*llm.Completion, error) {
	bo := r.cfg.Backoff.newBackOff()

	for attempt := 1; ; attempt++ {
		r.transition(st, StateInFlight, p.Name())

		comp, err := r.attempt(ctx, st, p, attempt, timeout)
		if err == nil {
			return comp, nil
		}

		if ctx.Err() != nil || !llm.IsRetryable(err) || attempt > maxRetries {
			return nil, err
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil, err
		}
		if ra := llm.RetryAfterOf(err); ra > wait {
			wait = min(ra, r.cfg.Backoff.ceiling())
		}

		r.transition(st, StateRetrying, p.Name())
		r.logger.Debug("Retrying provider",
			zap.String("request_id", st.req.ID),
			zap.String("provider", p.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		if serr := sleep(ctx, wait); serr != nil {
			return nil, err
		}
	}
}

func (r *Router) attempt(ctx context.Context, st *run, p llm.Provider, n int, timeout time.Duration) (*llm.Completion, error) {
	ctx, span := r.tracer.Start(ctx, "gateway.Attempt", trace.WithAttributes(
		attribute.String("provider", p.Name()),
		attribute.Int("attempt", n),
	))
	defer span.End()

	start := r.now()
	comp, err := p.Complete(ctx, llm.Request{Prompt: st.req.Prompt, Timeout: timeout})
	elapsed := r.now().Sub(start)

	a := api.Attempt{Provider: p.Name(), Attempt: n, DurationMS: elapsed.Milliseconds()}
	stat := st.stat(p.Name(), r.now())
	stat.Requests++
	stat.TotalLatencyMS += elapsed.Milliseconds()

	if err != nil {
		a.Error = err.Error()
		a.ErrorCode = string(codeForKind(llm.KindOf(err)))
		stat.Errors++
		span.RecordError(err)
		span.SetStatus(codes.Error, a.ErrorCode)
	}
	st.attempts = append(st.attempts, a)

	return comp, err
}

func (st *run) stat(provider string, at time.Time) *model.UsageStat {
	s, ok := st.usage[provider]
	if !ok {
		s = &model.UsageStat{ProviderID: provider, UserID: userOf(st.req), Bucket: model.HourBucket(at)}
		st.usage[provider] = s
		st.order = append(st.order, provider)
	}
	return s
}

func (r *Router) succeed(st *run, p llm.Provider, comp *llm.Completion) *api.RoutingResponse {
	r.transition(st, StateSucceeded, p.Name())

	promptCost, completionCost := p.Config().Cost(comp.Usage.Prompt, comp.Usage.Completion)
	usage := api.NewTokenUsage(comp.Usage.Prompt, comp.Usage.Completion, comp.Usage.Estimated)
	costs := api.NewCosts(promptCost, completionCost)

	stat := st.stat(p.Name(), r.now())
	stat.PromptTokens += int64(usage.Prompt)
	stat.CompletionTokens += int64(usage.Completion)
	stat.TotalCost += costs.TotalCost

	return &api.RoutingResponse{
		RequestID:     st.req.ID,
		Result:        comp.Text,
		LLMUsed:       p.Name(),
		FallbacksUsed: st.fallbacks,
		Timing:        r.timing(st.started, st.attempts),
		TokenUsage:    usage,
		Costs:         costs,
		Metadata: api.RoutingMetadata{
			Model:            comp.Model,
			Priority:         priorityOf(st.req),
			States:           st.states,
			ProviderMetadata: comp.Metadata,
		},
	}
}

// commit stores the response once per id. When another writer won, its
// response is returned instead.
func (r *Router) commit(ctx context.Context, span trace.Span, st *run, p llm.Provider, resp *api.RoutingResponse) (*api.RoutingResponse, error) {
	stored, err := r.results.SetNX(context.WithoutCancel(ctx), resultKeyPrefix+resp.RequestID, resp, r.cfg.ResultTTL)
	if err != nil {
		r.logger.Warn("Failed to store routing result", zap.String("request_id", resp.RequestID), zap.Error(err))
	} else if !stored {
		if existing, ok := r.lookup(ctx, resp.RequestID); ok {
			return existing, nil
		}
	}

	span.SetAttributes(
		attribute.String("route.provider", p.Name()),
		attribute.Int("route.tokens", resp.TokenUsage.Total),
		attribute.Float64("route.cost", resp.Costs.TotalCost),
	)

	r.logger.Info("Request routed",
		zap.String("request_id", resp.RequestID),
		zap.String("provider", resp.LLMUsed),
		zap.Strings("fallbacks", resp.FallbacksUsed),
		zap.Int("attempts", len(resp.Timing.Attempts)),
		zap.Int64("duration_ms", resp.Timing.DurationMS),
		zap.String("priority", string(resp.Metadata.Priority)),
	)

	rec := r.record(st, p.Name(), resp.Timing)
	rec.Status = model.StatusSucceeded
	rec.StatusCode = 200
	rec.ModelID = resp.Metadata.Model
	rec.PromptTokens = resp.TokenUsage.Prompt
	rec.CompletionTokens = resp.TokenUsage.Completion
	rec.TokensEstimated = resp.TokenUsage.Estimated
	rec.PromptCost = resp.Costs.PromptCost
	rec.CompletionCost = resp.Costs.CompletionCost
	rec.TotalCost = resp.Costs.TotalCost
	if raw, err := json.Marshal(resp); err == nil {
		rec.ResponseJSON = string(raw)
	}
	r.emit(st, rec)

	return resp, nil
}

// fail finalizes a terminal failure. Every candidate tried is reported as abandoned.
func (r *Router) fail(span trace.Span, st *run, rerr *RouterError) *RouterError {
	r.transition(st, StateFailed, "")

	last := ""
	if n := len(st.attempts); n > 0 {
		last = st.attempts[n-1].Provider
	}
	fallbacks := append([]string(nil), st.fallbacks...)
	if last != "" && (len(fallbacks) == 0 || fallbacks[len(fallbacks)-1] != last) {
		fallbacks = append(fallbacks, last)
	}

	rerr.FallbacksUsed = fallbacks
	rerr.Timing = r.timing(st.started, st.attempts)
	rerr.TokenUsage = api.NewTokenUsage(0, 0, false)
	rerr.Costs = api.NewCosts(0, 0)

	span.RecordError(rerr)
	span.SetStatus(codes.Error, string(rerr.Code))

	r.logger.Warn("Request routing failed",
		zap.String("request_id", rerr.RequestID),
		zap.String("code", string(rerr.Code)),
		zap.Strings("fallbacks", rerr.FallbacksUsed),
		zap.Int("attempts", len(st.attempts)),
		zap.Error(rerr.Err),
	)

	rec := r.record(st, last, rerr.Timing)
	rec.Status = model.StatusFailed
	rec.ErrorCode = string(rerr.Code)
	rec.StatusCode = rerr.HTTPStatus()
	r.emit(st, rec)

	return rerr
}

func (r *Router) record(st *run, provider string, timing api.Timing) *model.RouteRecord {
	fallbacks, _ := json.Marshal(st.fallbacks)
	if st.fallbacks == nil {
		fallbacks = []byte("[]")
	}
	return &model.RouteRecord{
		ID:            st.req.ID,
		UserID:        userOf(st.req),
		ProviderID:    provider,
		Priority:      string(priorityOf(st.req)),
		Attempts:      len(st.attempts),
		FallbacksJSON: string(fallbacks),
		LatencyMS:     timing.DurationMS,
		CreatedAt:     timing.CompletedAt.UTC(),
	}
}

func (r *Router) emit(st *run, rec *model.RouteRecord) {
	if r.ingestor == nil {
		return
	}
	usage := make([]*model.UsageStat, 0, len(st.order))
	for _, name := range st.order {
		usage = append(usage, st.usage[name])
	}
	r.ingestor.Log(&analytics.Event{Record: rec, Usage: usage, Fallbacks: st.fallbacks})
}

func (r *Router) timing(started time.Time, attempts []api.Attempt) api.Timing {
	completed := r.now()
	if attempts == nil {
		attempts = []api.Attempt{}
	}
	return api.Timing{
		StartedAt:   started,
		CompletedAt: completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
		Attempts:    attempts,
	}
}

func priorityOf(req *api.RoutingRequest) api.Priority {
	if req.Priority == "" {
		return api.PriorityNormal
	}
	return req.Priority
}

func userOf(req *api.RoutingRequest) string {
	if req.UserID == "" {
		return AnonymousUser
	}
	return req.UserID
}
