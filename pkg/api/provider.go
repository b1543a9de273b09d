package api

import "time"

// ProviderInfo is the public view of a registry entry. Keys are never exposed.
type ProviderInfo struct {
	Name                   string   `json:"name"`
	Category               string   `json:"category"`
	Dialect                string   `json:"dialect"`
	Model                  string   `json:"model,omitempty"`
	Endpoint               string   `json:"apiEndpoint"`
	KeyConfigured          bool     `json:"keyConfigured"`
	Priority               int      `json:"priority"`
	Tags                   []string `json:"tags,omitempty"`
	CostPerPromptToken     float64  `json:"costPerPromptToken"`
	CostPerCompletionToken float64  `json:"costPerCompletionToken"`
}

type UsageFilter struct {
	Provider string    `form:"provider"`
	UserID   string    `form:"user"`
	Since    time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
}

// HistoryFilter selects a user's most recent routed requests.
type HistoryFilter struct {
	UserID string `form:"user"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

// RouteSummary is one terminal outcome in a user's routing history.
// Provider is the one that answered, or the last one tried on failure.
type RouteSummary struct {
	RequestID     string    `json:"requestId"`
	UserID        string    `json:"userId"`
	Status        string    `json:"status"`
	Provider      string    `json:"provider,omitempty"`
	Model         string    `json:"model,omitempty"`
	ErrorCode     string    `json:"errorCode,omitempty"`
	StatusCode    int       `json:"statusCode"`
	Priority      string    `json:"priority"`
	Attempts      int       `json:"attempts"`
	FallbacksUsed []string  `json:"fallbacksUsed"`
	TotalTokens   int       `json:"totalTokens"`
	TotalCost     float64   `json:"totalCost"`
	LatencyMS     int64     `json:"latencyMs"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ProviderUsageStats aggregates usage per provider and user over the queried window.
type ProviderUsageStats struct {
	Provider         string    `json:"provider"`
	UserID           string    `json:"userId"`
	LastBucket       time.Time `json:"lastBucket"`
	Requests         int64     `json:"requests"`
	Errors           int64     `json:"errors"`
	PromptTokens     int64     `json:"promptTokens"`
	CompletionTokens int64     `json:"completionTokens"`
	TotalTokens      int64     `json:"totalTokens"`
	TotalCost        float64   `json:"totalCost"`
	TotalLatencyMS   int64     `json:"totalLatencyMs"`
	AvgLatencyMS     float64   `json:"avgLatencyMs"`
}
