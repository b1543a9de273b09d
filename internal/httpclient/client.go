package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// UpstreamError is a non-2xx answer from a vendor. URL never carries the query.
type UpstreamError struct {
	StatusCode int
	Body       []byte
	URL        string
	// raw Retry-After header, empty when absent
	RetryAfter string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s answered %d", e.URL, e.StatusCode)
}

// maxBodySize caps how much of an upstream body is buffered.
const maxBodySize = 8 << 20

// SendRequest marshals body as JSON, performs exactly one request and returns
// the raw response body. Non-2xx responses are returned as *UpstreamError.
func SendRequest(ctx context.Context, client HTTPClient, method, url string, headers map[string]string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// query strings may carry credentials (gemini), keep them out of errors
		safeURL := *req.URL
		safeURL.RawQuery = ""
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       respBody,
			URL:        safeURL.String(),
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	return respBody, nil
}
