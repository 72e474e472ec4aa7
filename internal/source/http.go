package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mrsadri/xRate/internal/market"
)

const defaultUserAgent = "xrate/1.0"

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// httpGet performs a GET and returns the body, classifying transport and
// status failures into the fetch error taxonomy.
func httpGet(ctx context.Context, client *http.Client, sourceID, rawURL, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, market.NewFetchError(sourceID, market.ErrUnavailable, err)
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	return doRequest(client, sourceID, req)
}

// httpPostForm performs a form POST, used by the bonbast JSON endpoint.
func httpPostForm(ctx context.Context, client *http.Client, sourceID, rawURL string, form url.Values, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, market.NewFetchError(sourceID, market.ErrUnavailable, err)
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	return doRequest(client, sourceID, req)
}

func doRequest(client *http.Client, sourceID string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		kind := market.ErrUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = market.ErrTimeout
		}
		return nil, market.NewFetchError(sourceID, kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, market.NewFetchError(sourceID, market.ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, market.NewFetchError(sourceID, market.ErrUnavailable,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return body, nil
}
