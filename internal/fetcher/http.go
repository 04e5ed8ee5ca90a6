package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher retries transport errors and 5xx responses up to retries times.
func NewHTTPFetcher(timeout time.Duration, retries int) *HTTPFetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(30 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected response: %s", resp.Status())
	}
	return resp.Body(), nil
}

// SetRetryWait overrides the backoff bounds between attempts.
func (f *HTTPFetcher) SetRetryWait(wait, maxWait time.Duration) *HTTPFetcher {
	f.client.SetRetryWaitTime(wait).SetRetryMaxWaitTime(maxWait)
	return f
}
