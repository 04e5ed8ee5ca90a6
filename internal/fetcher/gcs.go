package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
)

// ObjectOpener opens one Cloud Storage object for reading.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

type GCSFetcher struct {
	opener ObjectOpener
}

func NewGCSFetcher(opener ObjectOpener) *GCSFetcher {
	return &GCSFetcher{opener: opener}
}

func (f *GCSFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	bucket, object, err := parseGCSURL(rawURL)
	if err != nil {
		return nil, err
	}

	r, err := f.opener.Open(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	}
	return data, nil
}

func parseGCSURL(rawURL string) (bucket, object string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	bucket = u.Host
	object = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid GCS URL %q: expected gs://bucket/object", rawURL)
	}
	return bucket, object, nil
}

// StorageOpener creates its client on first use, so deployments that never
// read from Cloud Storage need no credentials.
type StorageOpener struct {
	once   sync.Once
	client *storage.Client
	err    error
}

func (o *StorageOpener) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	o.once.Do(func() {
		o.client, o.err = storage.NewClient(context.Background())
	})
	if o.err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", o.err)
	}
	return o.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func (o *StorageOpener) Close() error {
	if o.client == nil {
		return nil
	}
	return o.client.Close()
}
