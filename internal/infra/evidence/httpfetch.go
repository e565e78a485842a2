package evidence

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxFetchBytes = 8 * 1024 * 1024

// HTTPFetcher resolves http(s) locators, delegating everything else to a
// fallback gateway. Store always goes to the fallback.
type HTTPFetcher struct {
	fallback Gateway
	httpDo   func(*http.Request) (*http.Response, error)
}

func NewHTTPFetcher(fallback Gateway, httpClient *http.Client) *HTTPFetcher {
	doer := http.DefaultClient.Do
	if httpClient != nil {
		doer = httpClient.Do
	}
	return &HTTPFetcher{fallback: fallback, httpDo: doer}
}

func (f *HTTPFetcher) Store(ctx context.Context, payload []byte) (string, string, error) {
	return f.fallback.Store(ctx, payload)
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return f.fallback.Fetch(ctx, uri)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.httpDo(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", uri, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
}
