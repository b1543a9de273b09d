package analytics_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nulzo/prism-router/internal/analytics"
	"github.com/nulzo/prism-router/internal/store"
	"github.com/nulzo/prism-router/internal/store/model"
	"github.com/nulzo/prism-router/internal/store/sqlite"
	"github.com/nulzo/prism-router/pkg/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := sqlite.NewSQLiteStorage(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func succeededEvent(t *testing.T, id string, now time.Time) *analytics.Event {
	t.Helper()
	resp := api.RoutingResponse{RequestID: id, Result: "hi", LLMUsed: "anthropic", FallbacksUsed: []string{"openai"}}
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	return &analytics.Event{
		Record: &model.RouteRecord{
			ID: id, UserID: "u1", ProviderID: "anthropic", Status: model.StatusSucceeded, StatusCode: 200,
			Attempts: 2, FallbacksJSON: `["openai"]`, PromptTokens: 3, CompletionTokens: 4,
			TotalCost: 0.7, LatencyMS: 120, ResponseJSON: string(raw), CreatedAt: now,
		},
		Usage: []*model.UsageStat{
			{ProviderID: "openai", UserID: "u1", Bucket: now, Requests: 1, Errors: 1, TotalLatencyMS: 20},
			{ProviderID: "anthropic", UserID: "u1", Bucket: now, Requests: 1, PromptTokens: 3, CompletionTokens: 4, TotalCost: 0.7, TotalLatencyMS: 100},
		},
		Fallbacks: []string{"openai"},
	}
}

func TestIngestorPersistsOnStop(t *testing.T) {
	repo := newRepo(t)
	reg := prometheus.NewRegistry()
	metrics := analytics.NewMetrics("test", reg)

	ing := analytics.NewIngestor(zap.NewNop(), repo, analytics.WithMetrics(metrics), analytics.WithFlushInterval(time.Hour))
	ing.Start(context.Background())

	now := time.Now().UTC()
	ing.Log(succeededEvent(t, "req-1", now))
	ing.Log(nil)
	ing.Stop()

	rec, err := repo.Routes().GetByID(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", rec.ProviderID)

	stats, err := repo.Usage().Query(context.Background(), store.UsageQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, stats, 2)

	assert.Equal(t, 1.0, counterSum(t, reg, "test_route_requests_total"))
	assert.Equal(t, 1.0, counterSum(t, reg, "test_provider_fallbacks_total"))
	assert.Equal(t, 7.0, counterSum(t, reg, "test_provider_tokens_total"))
}

func counterSum(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestIngestorFlushesOnBatchSize(t *testing.T) {
	repo := newRepo(t)
	ing := analytics.NewIngestor(zap.NewNop(), repo, analytics.WithBatchSize(1), analytics.WithFlushInterval(time.Hour))
	ing.Start(context.Background())
	defer ing.Stop()

	ing.Log(succeededEvent(t, "req-batch", time.Now().UTC()))

	require.Eventually(t, func() bool {
		_, err := repo.Routes().GetByID(context.Background(), "req-batch")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIngestorDropsWhenFull(t *testing.T) {
	repo := newRepo(t)
	reg := prometheus.NewRegistry()
	metrics := analytics.NewMetrics("test", reg)

	// not started, so nothing drains the buffer
	ing := analytics.NewIngestor(zap.NewNop(), repo, analytics.WithBufferSize(1), analytics.WithMetrics(metrics))

	now := time.Now().UTC()
	ing.Log(succeededEvent(t, "a", now))
	ing.Log(succeededEvent(t, "b", now))

	assert.Equal(t, 1.0, counterSum(t, reg, "test_usage_records_dropped_total"))
}

func TestIngestorLogAfterStopDrops(t *testing.T) {
	repo := newRepo(t)
	reg := prometheus.NewRegistry()
	metrics := analytics.NewMetrics("test", reg)

	ing := analytics.NewIngestor(zap.NewNop(), repo, analytics.WithMetrics(metrics))
	ing.Start(context.Background())
	ing.Stop()

	assert.NotPanics(t, func() {
		ing.Log(succeededEvent(t, "late", time.Now().UTC()))
	})
	assert.NotPanics(t, ing.Stop)
	assert.Equal(t, 1.0, counterSum(t, reg, "test_usage_records_dropped_total"))

	_, err := repo.Routes().GetByID(context.Background(), "late")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngestorPersistsBatchTogether(t *testing.T) {
	repo := newRepo(t)
	reg := prometheus.NewRegistry()
	metrics := analytics.NewMetrics("test", reg)

	ing := analytics.NewIngestor(zap.NewNop(), repo,
		analytics.WithMetrics(metrics),
		analytics.WithBatchSize(3),
		analytics.WithFlushInterval(time.Hour),
	)
	ing.Start(context.Background())

	now := time.Now().UTC()
	for _, id := range []string{"b-1", "b-2", "b-3"} {
		ing.Log(succeededEvent(t, id, now))
	}
	ing.Stop()

	for _, id := range []string{"b-1", "b-2", "b-3"} {
		_, err := repo.Routes().GetByID(context.Background(), id)
		assert.NoError(t, err, id)
	}
	assert.Equal(t, 3.0, counterSum(t, reg, "test_route_requests_total"))
}

func TestServiceUsageAggregates(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, offset := range []time.Duration{0, -time.Hour, -3 * time.Hour} {
		require.NoError(t, repo.Usage().Add(ctx, &model.UsageStat{
			ProviderID: "openai", UserID: "u1", Bucket: now.Add(offset),
			Requests: 2, Errors: 1, PromptTokens: 10, CompletionTokens: 5, TotalCost: 0.25, TotalLatencyMS: 300,
		}))
	}
	require.NoError(t, repo.Usage().Add(ctx, &model.UsageStat{ProviderID: "groq", UserID: "u2", Bucket: now, Requests: 1}))

	svc := analytics.NewService(repo)

	stats, err := svc.Usage(ctx, api.UsageFilter{Provider: "openai", Since: now.Add(-2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(4), stats[0].Requests)
	assert.Equal(t, int64(2), stats[0].Errors)
	assert.Equal(t, int64(30), stats[0].TotalTokens)
	assert.InDelta(t, 0.5, stats[0].TotalCost, 1e-9)
	assert.InDelta(t, 150.0, stats[0].AvgLatencyMS, 1e-9)

	all, err := svc.Usage(ctx, api.UsageFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "groq", all[0].Provider)
	assert.Equal(t, "openai", all[1].Provider)
}

func TestServiceRoute(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ev := succeededEvent(t, "req-ok", now)
	require.NoError(t, repo.Routes().Log(ctx, ev.Record))
	require.NoError(t, repo.Routes().Log(ctx, &model.RouteRecord{
		ID: "req-failed", UserID: "u1", Status: model.StatusFailed, ErrorCode: "TIMEOUT", FallbacksJSON: "[]", CreatedAt: now,
	}))

	svc := analytics.NewService(repo)

	resp, err := svc.Route(ctx, "req-ok")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.LLMUsed)
	assert.Equal(t, []string{"openai"}, resp.FallbacksUsed)

	_, err = svc.Route(ctx, "req-failed")
	assert.ErrorIs(t, err, analytics.ErrRouteNotFound)

	_, err = svc.Route(ctx, "missing")
	assert.ErrorIs(t, err, analytics.ErrRouteNotFound)
}

func TestServiceHistory(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"h-1", "h-2", "h-3"} {
		ev := succeededEvent(t, id, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Routes().Log(ctx, ev.Record))
	}
	require.NoError(t, repo.Routes().Log(ctx, &model.RouteRecord{
		ID: "h-4", UserID: "u1", ProviderID: "groq", Status: model.StatusFailed, ErrorCode: "TIMEOUT",
		StatusCode: 500, FallbacksJSON: `["openai","groq"]`, CreatedAt: now.Add(time.Hour),
	}))
	require.NoError(t, repo.Routes().Log(ctx, &model.RouteRecord{
		ID: "other", UserID: "u2", Status: model.StatusFailed, FallbacksJSON: "[]", CreatedAt: now,
	}))

	svc := analytics.NewService(repo)

	recent, err := svc.History(ctx, api.HistoryFilter{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "h-4", recent[0].RequestID)
	assert.Equal(t, "TIMEOUT", recent[0].ErrorCode)
	assert.Equal(t, []string{"openai", "groq"}, recent[0].FallbacksUsed)
	assert.Equal(t, "h-3", recent[1].RequestID)
	assert.Equal(t, 7, recent[1].TotalTokens)

	all, err := svc.History(ctx, api.HistoryFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = svc.History(ctx, api.HistoryFilter{})
	assert.Error(t, err)
}
