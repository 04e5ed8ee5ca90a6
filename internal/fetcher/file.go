package fetcher

import (
	"context"
	"net/url"
	"os"
	"strings"
)

type FileFetcher struct{}

func (FileFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	path := rawURL
	if strings.HasPrefix(rawURL, "file://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		path = u.Path
	}
	return os.ReadFile(path)
}
