package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewer(t *testing.T) {
	newer, err := Newer("v0.1.0", "v0.2.0")
	require.NoError(t, err)
	assert.True(t, newer)

	newer, err = Newer("1.2.3", "v1.2.3")
	require.NoError(t, err)
	assert.False(t, newer)

	_, err = Newer("v1", "not-a-version")
	assert.Error(t, err)
}

func TestCheckForUpdates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name": "v9.0.0"}`))
	}))
	defer server.Close()

	latest, outdated, err := CheckForUpdates(context.Background(), server.Client(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, "v9.0.0", latest)
	assert.True(t, outdated)
}

func TestCheckForUpdatesUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, _, err := CheckForUpdates(context.Background(), server.Client(), server.URL)
	assert.Error(t, err)
}
