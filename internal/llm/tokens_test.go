package llm

import (
	"errors"
	"testing"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCounterLoadsOnceAtConstruction(t *testing.T) {
	loads := 0
	tc, err := newTokenCounter(func() (*tiktoken.Tiktoken, error) {
		loads++
		return nil, errors.New("offline")
	})

	require.Error(t, err)
	require.NotNil(t, tc)
	assert.False(t, tc.Exact())

	assert.Equal(t, 0, tc.Count(""))
	assert.Equal(t, 1, tc.Count("hi"))
	assert.Equal(t, 4, tc.Count("one two three"))
	assert.Equal(t, 1, loads)
}

func TestAdapterDefaultsToHeuristicCounter(t *testing.T) {
	a, err := NewAdapter(ProviderConfig{
		Name: "local", Endpoint: "http://localhost:11434/api/generate", Category: "text", Model: "llama3", Dialect: "ollama",
	})
	require.NoError(t, err)
	assert.False(t, a.tokens.Exact())

	shared := NewHeuristicTokenCounter()
	a, err = NewAdapter(ProviderConfig{
		Name: "local", Endpoint: "http://localhost:11434/api/generate", Category: "text", Model: "llama3", Dialect: "ollama",
	}, WithTokenCounter(shared))
	require.NoError(t, err)
	assert.Same(t, shared, a.tokens)
}
