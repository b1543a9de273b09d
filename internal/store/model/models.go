package model

import (
	"time"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RouteRecord captures the terminal outcome of one routed request.
type RouteRecord struct {
	ID               string    `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	ProviderID       string    `db:"provider_id" json:"provider_id"`
	ModelID          string    `db:"model_id" json:"model_id"`
	Status           string    `db:"status" json:"status"`
	ErrorCode        string    `db:"error_code" json:"error_code,omitempty"`
	StatusCode       int       `db:"status_code" json:"status_code"`
	Priority         string    `db:"priority" json:"priority"`
	Attempts         int       `db:"attempts" json:"attempts"`
	FallbacksJSON    string    `db:"fallbacks_json" json:"fallbacks_json"`
	PromptTokens     int       `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens" json:"completion_tokens"`
	TokensEstimated  bool      `db:"tokens_estimated" json:"tokens_estimated"`
	PromptCost       float64   `db:"prompt_cost" json:"prompt_cost"`
	CompletionCost   float64   `db:"completion_cost" json:"completion_cost"`
	TotalCost        float64   `db:"total_cost" json:"total_cost"`
	LatencyMS        int64     `db:"latency_ms" json:"latency_ms"`
	ResponseJSON     string    `db:"response_json" json:"-"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// UsageStat is one ProviderUsageStats row: counters per provider, user and hour.
type UsageStat struct {
	ProviderID       string    `db:"provider_id" json:"provider_id"`
	UserID           string    `db:"user_id" json:"user_id"`
	Bucket           time.Time `db:"bucket" json:"bucket"`
	Requests         int64     `db:"requests" json:"requests"`
	Errors           int64     `db:"errors" json:"errors"`
	PromptTokens     int64     `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int64     `db:"completion_tokens" json:"completion_tokens"`
	TotalCost        float64   `db:"total_cost" json:"total_cost"`
	TotalLatencyMS   int64     `db:"total_latency_ms" json:"total_latency_ms"`
}

// HourBucket truncates t to the usage bucket it belongs to.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
