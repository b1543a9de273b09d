package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulzo/prism-router/internal/analytics"
	"github.com/nulzo/prism-router/internal/gateway"
	"github.com/nulzo/prism-router/internal/llm"
	"github.com/nulzo/prism-router/internal/store/model"
	"github.com/nulzo/prism-router/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type step struct {
	text  string
	usage llm.Usage
	err   *llm.ProviderError
	delay time.Duration
}

// fakeProvider replays steps in order, repeating the last one.
type fakeProvider struct {
	cfg   llm.ProviderConfig
	steps []step
	calls atomic.Int32
}

func newFake(name string, steps ...step) *fakeProvider {
	return &fakeProvider{
		cfg: llm.ProviderConfig{
			Name:                   name,
			Endpoint:               "http://" + name + ".invalid",
			Category:               "text",
			Model:                  name + "-model",
			CostPerPromptToken:     0.001,
			CostPerCompletionToken: 0.002,
		},
		steps: steps,
	}
}

func (f *fakeProvider) Name() string               { return f.cfg.Name }
func (f *fakeProvider) Config() llm.ProviderConfig { return f.cfg }

func (f *fakeProvider) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	n := int(f.calls.Add(1))
	s := f.steps[min(n, len(f.steps))-1]

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, &llm.ProviderError{Kind: llm.KindNetworkFailure, Provider: f.cfg.Name, Message: "cancelled", Err: ctx.Err()}
		}
	}

	if s.err != nil {
		e := *s.err
		e.Provider = f.cfg.Name
		return nil, &e
	}
	return &llm.Completion{Text: s.text, Model: f.cfg.Model, Usage: s.usage}, nil
}

func ok(text string, prompt, completion int) step {
	return step{text: text, usage: llm.Usage{Prompt: prompt, Completion: completion}}
}

func failing(kind llm.ErrorKind, status int) step {
	return step{err: &llm.ProviderError{Kind: kind, Status: status, Message: string(kind)}}
}

type captureIngestor struct {
	mu     sync.Mutex
	events []*analytics.Event
}

func (c *captureIngestor) Log(ev *analytics.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}
func (c *captureIngestor) Start(ctx context.Context) {}
func (c *captureIngestor) Stop()                     {}

func (c *captureIngestor) all() []*analytics.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*analytics.Event(nil), c.events...)
}

func testConfig(chain ...string) gateway.Config {
	cfg := gateway.DefaultConfig()
	cfg.Backoff = gateway.BackoffConfig{Initial: 20 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 2, Jitter: 0}
	cfg.Policy.DefaultChain = chain
	return cfg
}

func newRouter(cfg gateway.Config, providers ...llm.Provider) (*gateway.Router, *captureIngestor) {
	ing := &captureIngestor{}
	r := gateway.NewRouter(zap.NewNop(), llm.NewProvidersFrom(providers...), cfg, gateway.WithIngestor(ing))
	return r, ing
}

func intPtr(v int) *int { return &v }

func states(resp []api.Transition) []string {
	out := make([]string, 0, len(resp))
	for _, t := range resp {
		out = append(out, t.State+":"+t.Provider)
	}
	return out
}

func TestRouteRetriesTimeoutThenSucceeds(t *testing.T) {
	primary := newFake("primary", failing(llm.KindTimeout, 0), ok("hello", 10, 5))
	r, _ := newRouter(testConfig("primary"), primary)

	start := time.Now()
	resp, err := r.Route(context.Background(), &api.RoutingRequest{ID: "req-1", Prompt: "hi", MaxRetries: intPtr(2)})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Result)
	assert.Equal(t, "primary", resp.LLMUsed)
	assert.Empty(t, resp.FallbacksUsed)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.Equal(t, int32(2), primary.calls.Load())

	require.Len(t, resp.Timing.Attempts, 2)
	assert.Equal(t, "TIMEOUT", resp.Timing.Attempts[0].ErrorCode)
	assert.Empty(t, resp.Timing.Attempts[1].Error)
	assert.Equal(t, 2, resp.Timing.Attempts[1].Attempt)

	assert.Equal(t, []string{
		"PENDING:", "IN_FLIGHT:primary", "RETRYING:primary", "IN_FLIGHT:primary", "SUCCEEDED:primary",
	}, states(resp.Metadata.States))
	assert.Equal(t, api.PriorityNormal, resp.Metadata.Priority)
	assert.Equal(t, "primary-model", resp.Metadata.Model)
}

func TestRouteFallsBackOnProviderError(t *testing.T) {
	primary := newFake("primary", failing(llm.KindProviderError, http.StatusInternalServerError))
	secondary := newFake("secondary", ok("from secondary", 4, 6))
	r, ing := newRouter(testConfig("primary", "secondary"), primary, secondary)

	resp, err := r.Route(context.Background(), &api.RoutingRequest{ID: "req-2", Prompt: "hi", UserID: "u1"})

	require.NoError(t, err)
	assert.Equal(t, "secondary", resp.LLMUsed)
	assert.Equal(t, []string{"primary"}, resp.FallbacksUsed)
	// provider errors are not retried on the same provider
	assert.Equal(t, int32(1), primary.calls.Load())

	events := ing.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.StatusSucceeded, events[0].Record.Status)
	assert.Equal(t, "secondary", events[0].Record.ProviderID)
	assert.Equal(t, "u1", events[0].Record.UserID)
	assert.JSONEq(t, `["primary"]`, events[0].Record.FallbacksJSON)
	require.Len(t, events[0].Usage, 2)
	assert.Equal(t, int64(1), events[0].Usage[0].Errors)
	assert.Equal(t, int64(10), events[0].Usage[1].PromptTokens+events[0].Usage[1].CompletionTokens)
}

func TestRouteCostsAndTokensAddUp(t *testing.T) {
	p := newFake("priced", ok("x", 100, 50))
	r, _ := newRouter(testConfig("priced"), p)

	resp, err := r.Route(context.Background(), &api.RoutingRequest{Prompt: "hi"})

	require.NoError(t, err)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, 150, resp.TokenUsage.Total)
	assert.Equal(t, resp.TokenUsage.Prompt+resp.TokenUsage.Completion, resp.TokenUsage.Total)
	assert.InDelta(t, 0.1, resp.Costs.PromptCost, 1e-9)
	assert.InDelta(t, 0.1, resp.Costs.CompletionCost, 1e-9)
	assert.Equal(t, resp.Costs.PromptCost+resp.Costs.CompletionCost, resp.Costs.TotalCost)
	assert.Equal(t, "USD", resp.Costs.Currency)
	assert.False(t, resp.Timing.CompletedAt.Before(resp.Timing.StartedAt))
}

func TestRouteIsIdempotent(t *testing.T) {
	p := newFake("only", ok("first answer", 1, 1), ok("second answer", 1, 1))
	r, ing := newRouter(testConfig("only"), p)

	first, err := r.Route(context.Background(), &api.RoutingRequest{ID: "same", Prompt: "hi"})
	require.NoError(t, err)

	second, err := r.Route(context.Background(), &api.RoutingRequest{ID: "same", Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, "first answer", second.Result)
	assert.Equal(t, first.RequestID, second.RequestID)
	assert.Equal(t, first.Timing.DurationMS, second.Timing.DurationMS)
	assert.Len(t, ing.all(), 1)
}

func TestRouteCollapsesConcurrentDuplicates(t *testing.T) {
	p := newFake("slow", step{text: "once", usage: llm.Usage{Prompt: 1, Completion: 1}, delay: 50 * time.Millisecond})
	r, _ := newRouter(testConfig("slow"), p)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := r.Route(context.Background(), &api.RoutingRequest{ID: "dup", Prompt: "hi"})
			if assert.NoError(t, err) {
				results[i] = resp.Result
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load())
	for _, res := range results {
		assert.Equal(t, "once", res)
	}
}

func TestRouteDoesNotStoreFailures(t *testing.T) {
	p := newFake("flaky", failing(llm.KindProviderError, http.StatusBadGateway), ok("recovered", 1, 1))
	r, _ := newRouter(testConfig("flaky"), p)

	_, err := r.Route(context.Background(), &api.RoutingRequest{ID: "retry-me", Prompt: "hi"})
	require.Error(t, err)

	resp, err := r.Route(context.Background(), &api.RoutingRequest{ID: "retry-me", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Result)
}

func TestRouteForceLLMPinsProvider(t *testing.T) {
	primary := newFake("primary", ok("primary", 1, 1))
	forced := newFake("forced", failing(llm.KindAuthFailed, http.StatusUnauthorized))
	r, _ := newRouter(testConfig("primary"), primary, forced)

	_, err := r.Route(context.Background(), &api.RoutingRequest{Prompt: "hi", ForceLLM: "forced"})

	var rerr *gateway.RouterError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, gateway.CodeAuthFailed, rerr.Code)
	assert.Equal(t, int32(0), primary.calls.Load())
	assert.Equal(t, []string{"forced"}, rerr.FallbacksUsed)
}

func TestRouteForceLLMUnknown(t *testing.T) {
	primary := newFake("primary", ok("primary", 1, 1))
	r, _ := newRouter(testConfig("primary"), primary)

	_, err := r.Route(context.Background(), &api.RoutingRequest{Prompt: "hi", ForceLLM: "nope"})

	var rerr *gateway.RouterError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, gateway.CodeConfigurationMissing, rerr.Code)
	assert.Equal(t, http.StatusInternalServerError, rerr.HTTPStatus())
	assert.Contains(t, rerr.Message, "nope")
	assert.True(t, errors.Is(err, llm.ErrProviderNotFound))
	assert.Equal(t, int32(0), primary.calls.Load())
}

func TestRouteInvalidInput(t *testing.T) {
	p := newFake("p", ok("x", 1, 1))
	r, _ := newRouter(testConfig("p"), p)

	cases := map[string]*api.RoutingRequest{
		"empty prompt":     {Prompt: ""},
		"blank prompt":     {Prompt: "   "},
		"negative retries": {Prompt: "hi", MaxRetries: intPtr(-1)},
		"zero timeout":     {Prompt: "hi", Timeout: intPtr(0)},
		"bad priority":     {Prompt: "hi", Priority: "urgent"},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Route(context.Background(), req)

			var rerr *gateway.RouterError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, gateway.CodeInvalidInput, rerr.Code)
			assert.Equal(t, http.StatusBadRequest, rerr.HTTPStatus())
		})
	}

	_, err := r.Route(context.Background(), nil)
	assert.Error(t, err)
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestRouteInvalidRequestIsTerminal(t *testing.T) {
	primary := newFake("primary", failing(llm.KindInvalidRequest, http.StatusBadRequest))
	secondary := newFake("secondary", ok("x", 1, 1))
	r, _ := newRouter(testConfig("primary", "secondary"), primary, secondary)

	_, err := r.Route(context.Background(), &api.RoutingRequest{Prompt: "hi"})

	var rerr *gateway.RouterError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, gateway.CodeInvalidRequest, rerr.Code)
	assert.Equal(t, http.StatusBadRequest, rerr.HTTPStatus())
	assert.Equal(t, int32(0), secondary.calls.Load())
}

func TestRouteExhaustsRetriesThenFallsBack(t *testing.T) {
	primary := newFake("primary", failing(llm.KindRateLimited, http.StatusTooManyRequests))
	secondary := newFake("secondary", ok("x", 1, 1))
	r, _ := newRouter(testConfig("primary", "secondary"), primary, secondary)

	resp, err := r.Route(context.Background(), &api.RoutingRequest{Prompt: "hi", MaxRetries: intPtr(1)})

	require.NoError(t, err)
	assert.Equal(t, int32(2), primary.calls.Load())
	assert.Equal(t, "secondary", resp.LLMUsed)
	assert.Equal(t, []string{"primary"}, resp.FallbacksUsed)
	assert.Len(t, resp.Timing.Attempts, 3)
	assert.Contains(t, states(resp.Metadata.States), "RETRYING:secondary")
}

func TestRouteAllProvidersFail(t *testing.T) {
	a := newFake("a", failing(llm.KindProviderError, http.StatusServiceUnavailable))
	b := newFake("b", failing(llm.KindNetworkFailure, 0))
	r, ing := newRouter(testConfig("a", "b"), a, b)

	_, err := r.Route(context.Background(), &api.RoutingRequest{ID: "doomed", Prompt: "hi", MaxRetries: intPtr(0)})

	var rerr *gateway.RouterError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "doomed", rerr.RequestID)
	assert.Equal(t, gateway.CodeNetworkFailure, rerr.Code)
	assert.Equal(t, http.StatusInternalServerError, rerr.HTTPStatus())
	assert.Equal(t, []string{"a", "b"}, rerr.FallbacksUsed)
	assert.Len(t, rerr.Timing.Attempts, 2)
	assert.Zero(t, rerr.Costs.TotalCost)
	assert.Zero(t, rerr.TokenUsage.Total)

	events := ing.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.StatusFailed, events[0].Record.Status)
	assert.Equal(t, "NETWORK_FAILURE", events[0].Record.ErrorCode)
}

func TestRouteCancellation(t *testing.T) {
	p := newFake("slow", step{text: "late", delay: 2 * time.Second})
	r, _ := newRouter(testConfig("slow"), p)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Route(ctx, &api.RoutingRequest{Prompt: "hi"})

	var rerr *gateway.RouterError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, gateway.CodeCancelled, rerr.Code)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRouteFollowerSurvivesCancelledLeader(t *testing.T) {
	p := newFake("slow", step{text: "shared", usage: llm.Usage{Prompt: 1, Completion: 1}, delay: 200 * time.Millisecond})
	r, _ := newRouter(testConfig("slow"), p)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()

	leaderErr := make(chan error, 1)
	go func() {
		_, err := r.Route(leaderCtx, &api.RoutingRequest{ID: "dup", Prompt: "hi"})
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		resp *api.RoutingResponse
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		resp, err := r.Route(context.Background(), &api.RoutingRequest{ID: "dup", Prompt: "hi"})
		follower <- result{resp, err}
	}()

	time.Sleep(50 * time.Millisecond)
	cancelLeader()

	var rerr *gateway.RouterError
	require.ErrorAs(t, <-leaderErr, &rerr)
	assert.Equal(t, gateway.CodeCancelled, rerr.Code)

	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, "shared", got.resp.Result)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestRouteCancellationReachesProvider(t *testing.T) {
	p := newFake("slow", step{text: "late", delay: 2 * time.Second})
	r, ing := newRouter(testConfig("slow"), p)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := r.Route(ctx, &api.RoutingRequest{ID: "gone", Prompt: "hi"})
	var rerr *gateway.RouterError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, gateway.CodeCancelled, rerr.Code)

	// the abandoned execution stops well before the provider would answer
	require.Eventually(t, func() bool { return len(ing.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, string(gateway.CodeCancelled), ing.all()[0].Record.ErrorCode)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestRouteDeadline(t *testing.T) {
	p := newFake("slow", step{text: "late", delay: 2 * time.Second})
	cfg := testConfig("slow")
	cfg.Deadline = 60 * time.Millisecond
	r, ing := newRouter(cfg, p)

	start := time.Now()
	_, err := r.Route(context.Background(), &api.RoutingRequest{Prompt: "hi"})

	var rerr *gateway.RouterError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, gateway.CodeTimeout, rerr.Code)
	assert.Equal(t, http.StatusInternalServerError, rerr.HTTPStatus())
	assert.Equal(t, []string{"slow"}, rerr.FallbacksUsed)
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, ing.all(), 1)
	assert.Equal(t, string(gateway.CodeTimeout), ing.all()[0].Record.ErrorCode)
}

func TestRouteRulesSelectChain(t *testing.T) {
	general := newFake("general", ok("general", 1, 1))
	coder := newFake("coder", ok("coder", 1, 1))

	cfg := testConfig("general")
	cfg.Policy.Rules = []gateway.Rule{
		{Name: "code", TaskTypes: []string{"code"}, Chain: []string{"ghost", "coder"}},
	}
	r, _ := newRouter(cfg, general, coder)

	resp, err := r.Route(context.Background(), &api.RoutingRequest{
		Prompt:   "write a func",
		Analysis: &api.Analysis{TaskType: "CODE"},
	})
	require.NoError(t, err)
	assert.Equal(t, "coder", resp.LLMUsed)

	resp, err = r.Route(context.Background(), &api.RoutingRequest{Prompt: "chat"})
	require.NoError(t, err)
	assert.Equal(t, "general", resp.LLMUsed)
}

func TestRouteRankedByTags(t *testing.T) {
	general := newFake("general", ok("general", 1, 1))
	general.cfg.Priority = 10
	poet := newFake("poet", ok("poet", 1, 1))
	poet.cfg.Tags = []string{"poetry"}

	r, _ := newRouter(testConfig(), general, poet)

	resp, err := r.Route(context.Background(), &api.RoutingRequest{Prompt: "a verse", Scope: &api.Scope{Topic: "poetry"}})
	require.NoError(t, err)
	assert.Equal(t, "poet", resp.LLMUsed)

	resp, err = r.Route(context.Background(), &api.RoutingRequest{Prompt: "anything"})
	require.NoError(t, err)
	assert.Equal(t, "general", resp.LLMUsed)
}

func TestRouteNoProviders(t *testing.T) {
	r, _ := newRouter(testConfig())

	_, err := r.Route(context.Background(), &api.RoutingRequest{Prompt: "hi"})

	var rerr *gateway.RouterError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, gateway.CodeConfigurationMissing, rerr.Code)
}

func TestProxy(t *testing.T) {
	p := newFake("openai", ok("proxied", 3, 4))
	r, ing := newRouter(testConfig(), p)

	resp, err := r.Proxy(context.Background(), "OpenAI", "hi")
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "proxied", resp.Text)
	assert.Equal(t, 7, resp.Usage.Total)
	require.Len(t, ing.all(), 1)

	_, err = r.Proxy(context.Background(), "missing", "hi")
	assert.ErrorIs(t, err, llm.ErrProviderNotFound)
}

func TestProvidersHidesKeys(t *testing.T) {
	p := newFake("openai", ok("x", 1, 1))
	p.cfg.APIKey = "sk-secret"
	p.cfg.KeyEnvVariable = "OPENAI_API_KEY"
	r, _ := newRouter(testConfig(), p)

	list := r.Providers(context.Background())

	require.Len(t, list, 1)
	assert.True(t, list[0].KeyConfigured)
	assert.Equal(t, "openai", list[0].Dialect)
}

func TestRouteHonoursRetryAfter(t *testing.T) {
	limited := failing(llm.KindRateLimited, http.StatusTooManyRequests)
	limited.err.RetryAfter = 60 * time.Millisecond
	p := newFake("limited", limited, ok("done", 1, 1))

	cfg := testConfig("limited")
	cfg.Backoff.Initial = time.Millisecond
	r, _ := newRouter(cfg, p)

	start := time.Now()
	resp, err := r.Route(context.Background(), &api.RoutingRequest{Prompt: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "done", resp.Result)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}
