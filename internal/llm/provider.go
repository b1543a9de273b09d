package llm

import (
	"context"
	"time"
)

type Usage struct {
	Prompt     int
	Completion int
	// true when the vendor omitted usage and it was counted locally
	Estimated bool
}

func (u Usage) Total() int {
	return u.Prompt + u.Completion
}

// Completion is the normalized result of one provider call.
type Completion struct {
	Text     string
	Model    string
	Usage    Usage
	Metadata map[string]interface{}
}

type Request struct {
	Prompt string
	// zero means the provider default
	Timeout time.Duration
}

// Provider performs exactly one completion call per Complete invocation.
type Provider interface {
	Name() string
	Config() ProviderConfig
	Complete(ctx context.Context, req Request) (*Completion, error)
}
