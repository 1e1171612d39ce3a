package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const userAgent = "chanpost/1.0 (+https://github.com/bilgisen/chanpost)"

// Fetcher performs HTTP GETs with retries for the collectors.
type Fetcher struct {
	client *resty.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", userAgent).
			SetRetryCount(3).
			SetRetryWaitTime(2 * time.Second).
			SetRetryMaxWaitTime(10 * time.Second),
	}
}

// WithoutRetries disables retries, mostly for tests.
func (f *Fetcher) WithoutRetries() *Fetcher {
	f.client.SetRetryCount(0)
	return f
}

// Get fetches url and returns the body of a 200 response.
func (f *Fetcher) Get(ctx context.Context, url string, query map[string]string, accept string) ([]byte, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Accept", accept).
		SetQueryParams(query).
		Get(url)

	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode(), url)
	}

	return resp.Body(), nil
}
