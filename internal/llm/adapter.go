package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nulzo/prism-router/internal/httpclient"
	"golang.org/x/time/rate"
)

// Adapter is the generic Provider, parameterized entirely by ProviderConfig.
type Adapter struct {
	config  ProviderConfig
	dialect dialect
	client  httpclient.HTTPClient
	limiter *rate.Limiter
	tokens  *TokenCounter
}

type AdapterOption func(*Adapter)

// WithHTTPClient overrides the client used for outbound calls.
func WithHTTPClient(c httpclient.HTTPClient) AdapterOption {
	return func(a *Adapter) {
		a.client = c
	}
}

func WithTokenCounter(tc *TokenCounter) AdapterOption {
	return func(a *Adapter) {
		a.tokens = tc
	}
}

func NewAdapter(cfg ProviderConfig, opts ...AdapterOption) (*Adapter, error) {
	d, err := lookupDialect(cfg.DialectName())
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
	}

	a := &Adapter{
		config:  cfg,
		dialect: d,
		// per-call deadlines come from the request context
		client: &http.Client{},
	}

	if cfg.RateLimit.RequestsPerSecond > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RateLimit.RequestsPerSecond))
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), burst)
	}

	for _, opt := range opts {
		opt(a)
	}

	// loading an encoding is a startup concern; share one via WithTokenCounter
	if a.tokens == nil {
		a.tokens = NewHeuristicTokenCounter()
	}

	return a, nil
}

func (a *Adapter) Name() string {
	return a.config.Name
}

func (a *Adapter) Config() ProviderConfig {
	return a.config
}

// Complete performs one outbound call. Every failure is returned as *ProviderError.
func (a *Adapter) Complete(ctx context.Context, req Request) (*Completion, error) {
	if a.config.RequiresKey() && a.config.APIKey == "" {
		return nil, a.fail(KindConfigurationMissing, 0,
			fmt.Sprintf("API key not configured (set %s)", a.config.KeyEnvVariable), nil)
	}

	if a.limiter != nil && !a.limiter.Allow() {
		return nil, a.fail(KindRateLimited, 0, "client-side rate limit exceeded", nil)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = a.config.Timeout()
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url, headers, err := a.dialect.target(a.config)
	if err != nil {
		return nil, a.fail(KindConfigurationMissing, 0, err.Error(), err)
	}

	body, err := httpclient.SendRequest(callCtx, a.client, http.MethodPost, url, headers, a.dialect.build(a.config, req.Prompt))
	if err != nil {
		return nil, a.classify(err)
	}

	completion, usageReported, err := a.dialect.parse(body)
	if err != nil {
		return nil, a.fail(KindProviderError, http.StatusBadGateway, "malformed provider response: "+err.Error(), err)
	}

	if completion.Model == "" {
		completion.Model = a.config.Model
	}

	if !usageReported {
		completion.Usage = Usage{
			Prompt:     a.tokens.Count(req.Prompt),
			Completion: a.tokens.Count(completion.Text),
			Estimated:  true,
		}
	}

	return completion, nil
}

func (a *Adapter) classify(err error) error {
	var upstream *httpclient.UpstreamError
	if errors.As(err, &upstream) {
		pe := a.fail(kindForStatus(upstream.StatusCode), upstream.StatusCode, a.dialect.errorMessage(upstream.Body), err)
		pe.RetryAfter = parseRetryAfter(upstream.RetryAfter, time.Now())
		return pe
	}

	kind := kindForTransport(err)
	msg := "provider unreachable"
	if kind == KindTimeout {
		msg = "provider call timed out"
	}
	return a.fail(kind, 0, msg, err)
}

func (a *Adapter) fail(kind ErrorKind, status int, msg string, err error) *ProviderError {
	return &ProviderError{
		Kind:     kind,
		Provider: a.config.Name,
		Status:   status,
		Message:  msg,
		Err:      err,
	}
}
