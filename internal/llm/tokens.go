package llm

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

const defaultEncoding = "cl100k_base"

// TokenCounter estimates token counts for providers that omit usage.
// It never loads anything while counting.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
}

// NewTokenCounter loads the cl100k_base encoding, which may download the BPE
// ranks once. On failure the returned counter falls back to a word heuristic.
func NewTokenCounter() (*TokenCounter, error) {
	return newTokenCounter(func() (*tiktoken.Tiktoken, error) {
		return tiktoken.GetEncoding(defaultEncoding)
	})
}

func newTokenCounter(load func() (*tiktoken.Tiktoken, error)) (*TokenCounter, error) {
	enc, err := load()
	if err != nil {
		return &TokenCounter{}, err
	}
	return &TokenCounter{encoder: enc}, nil
}

// LoadTokenCounter is NewTokenCounter for startup code: a failed load is
// logged and the heuristic counter is used instead.
func LoadTokenCounter(log *zap.Logger) *TokenCounter {
	tc, err := NewTokenCounter()
	if err != nil {
		log.Warn("Token encoding unavailable, estimating usage by word count",
			zap.String("encoding", defaultEncoding),
			zap.Error(err),
		)
	}
	return tc
}

// NewHeuristicTokenCounter never loads an encoding.
func NewHeuristicTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Exact reports whether counts come from a real encoding.
func (tc *TokenCounter) Exact() bool {
	return tc.encoder != nil
}

func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}

	if tc.encoder == nil {
		// rough approximation
		n := len(strings.Fields(text)) * 4 / 3
		if n == 0 {
			n = 1
		}
		return n
	}

	return len(tc.encoder.Encode(text, nil, nil))
}
