package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThiagoRGoveia/address-sync/internal/models"
)

// Fetcher downloads the register archive named by a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Router dispatches on the URL scheme: http(s), gs and file (or a bare path).
// Every failure is returned as *models.FetchError.
type Router struct {
	http Fetcher
	gcs  Fetcher
	file Fetcher
}

func NewRouter(http, gcs, file Fetcher) *Router {
	return &Router{http: http, gcs: gcs, file: file}
}

func (r *Router) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := r.route(rawURL)
	if err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: err}
	}

	data, err := target.Fetch(ctx, rawURL)
	if err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: err}
	}
	if len(data) == 0 {
		return nil, &models.FetchError{URL: rawURL, Err: fmt.Errorf("empty archive")}
	}
	return data, nil
}

func (r *Router) route(rawURL string) (Fetcher, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("download link is empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid download link: %w", err)
	}

	var target Fetcher
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		target = r.http
	case "gs":
		target = r.gcs
	case "file", "":
		target = r.file
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if target == nil {
		return nil, fmt.Errorf("no fetcher configured for scheme %q", u.Scheme)
	}
	return target, nil
}
