package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nulzo/prism-router/internal/store"
	"github.com/nulzo/prism-router/internal/store/model"
	"github.com/nulzo/prism-router/pkg/api"
)

// ErrRouteNotFound is returned by Route when the id has no recorded outcome.
var ErrRouteNotFound = errors.New("route not found")

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

type Service interface {
	// Usage aggregates hourly stats per provider and user.
	Usage(ctx context.Context, filter api.UsageFilter) ([]api.ProviderUsageStats, error)
	// Route returns the stored response of a succeeded request.
	Route(ctx context.Context, id string) (*api.RoutingResponse, error)
	// History lists a user's latest outcomes, newest first.
	History(ctx context.Context, filter api.HistoryFilter) ([]api.RouteSummary, error)
}

type service struct {
	repo store.Repository
	now  func() time.Time
}

func NewService(repo store.Repository) Service {
	return &service{
		repo: repo,
		now:  time.Now,
	}
}

func (s *service) Usage(ctx context.Context, filter api.UsageFilter) ([]api.ProviderUsageStats, error) {
	since := filter.Since
	if since.IsZero() {
		// default to the last day
		since = s.now().Add(-24 * time.Hour)
	}

	rows, err := s.repo.Usage().Query(ctx, store.UsageQuery{
		ProviderID: filter.Provider,
		UserID:     filter.UserID,
		Since:      since,
	})
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}

	return aggregate(rows), nil
}

func (s *service) Route(ctx context.Context, id string) (*api.RoutingResponse, error) {
	rec, err := s.repo.Routes().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRouteNotFound
		}
		return nil, err
	}
	if rec.Status != model.StatusSucceeded || rec.ResponseJSON == "" {
		return nil, ErrRouteNotFound
	}

	var resp api.RoutingResponse
	if err := json.Unmarshal([]byte(rec.ResponseJSON), &resp); err != nil {
		return nil, fmt.Errorf("decode stored response %s: %w", id, err)
	}
	return &resp, nil
}

func (s *service) History(ctx context.Context, filter api.HistoryFilter) ([]api.RouteSummary, error) {
	if filter.UserID == "" {
		return nil, errors.New("history needs a user")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	recs, err := s.repo.Routes().GetRecent(ctx, filter.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	out := make([]api.RouteSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summarize(rec))
	}
	return out, nil
}

func summarize(rec model.RouteRecord) api.RouteSummary {
	fallbacks := []string{}
	if rec.FallbacksJSON != "" {
		// a corrupt column only loses the fallback list
		_ = json.Unmarshal([]byte(rec.FallbacksJSON), &fallbacks)
	}
	return api.RouteSummary{
		RequestID:     rec.ID,
		UserID:        rec.UserID,
		Status:        rec.Status,
		Provider:      rec.ProviderID,
		Model:         rec.ModelID,
		ErrorCode:     rec.ErrorCode,
		StatusCode:    rec.StatusCode,
		Priority:      rec.Priority,
		Attempts:      rec.Attempts,
		FallbacksUsed: fallbacks,
		TotalTokens:   rec.PromptTokens + rec.CompletionTokens,
		TotalCost:     rec.TotalCost,
		LatencyMS:     rec.LatencyMS,
		CreatedAt:     rec.CreatedAt,
	}
}

// aggregate folds hourly buckets into one row per provider and user.
func aggregate(rows []model.UsageStat) []api.ProviderUsageStats {
	type key struct{ provider, user string }
	index := make(map[key]*api.ProviderUsageStats)
	var keys []key

	for _, r := range rows {
		k := key{r.ProviderID, r.UserID}
		agg, ok := index[k]
		if !ok {
			agg = &api.ProviderUsageStats{Provider: r.ProviderID, UserID: r.UserID}
			index[k] = agg
			keys = append(keys, k)
		}
		agg.Requests += r.Requests
		agg.Errors += r.Errors
		agg.PromptTokens += r.PromptTokens
		agg.CompletionTokens += r.CompletionTokens
		agg.TotalCost += r.TotalCost
		agg.TotalLatencyMS += r.TotalLatencyMS
		if r.Bucket.After(agg.LastBucket) {
			agg.LastBucket = r.Bucket
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].provider != keys[j].provider {
			return keys[i].provider < keys[j].provider
		}
		return keys[i].user < keys[j].user
	})

	out := make([]api.ProviderUsageStats, 0, len(keys))
	for _, k := range keys {
		agg := index[k]
		agg.TotalTokens = agg.PromptTokens + agg.CompletionTokens
		if agg.Requests > 0 {
			agg.AvgLatencyMS = float64(agg.TotalLatencyMS) / float64(agg.Requests)
		}
		out = append(out, *agg)
	}
	return out
}
