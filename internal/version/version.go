package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/nulzo/prism-router/internal/httpclient"
)

// Current is overridden at build time with -ldflags "-X .../internal/version.Current=v1.2.3".
var Current = "v0.1.0"

const ReleasesURL = "https://api.github.com/repos/nulzo/prism-router/releases/latest"

type release struct {
	TagName string `json:"tag_name"`
}

// Newer reports whether latest is a higher semantic version than current.
func Newer(current, latest string) (bool, error) {
	cur, err := version.NewVersion(current)
	if err != nil {
		return false, fmt.Errorf("parse current version %q: %w", current, err)
	}
	lat, err := version.NewVersion(latest)
	if err != nil {
		return false, fmt.Errorf("parse latest version %q: %w", latest, err)
	}
	return cur.LessThan(lat), nil
}

// CheckForUpdates fetches the latest release tag from url and reports it
// when it is newer than Current.
func CheckForUpdates(ctx context.Context, client httpclient.HTTPClient, url string) (string, bool, error) {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	body, err := httpclient.SendRequest(ctx, client, http.MethodGet, url, nil, nil)
	if err != nil {
		return "", false, err
	}

	var rel release
	if err := json.Unmarshal(body, &rel); err != nil {
		return "", false, fmt.Errorf("decode release: %w", err)
	}

	newer, err := Newer(Current, rel.TagName)
	if err != nil {
		return "", false, err
	}
	return rel.TagName, newer, nil
}
