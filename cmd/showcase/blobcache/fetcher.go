package blobcache

import (
	"context"

	"github.com/portfolio/showcase/common/clients"
)

// HTTPFetcher fetches full asset bodies with a plain GET
type HTTPFetcher struct {
	client *clients.HTTPClient
}

// NewHTTPFetcher creates a fetcher on top of the shared HTTP client
func NewHTTPFetcher(client *clients.HTTPClient) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

// Fetch implements Fetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL string) (*Blob, error) {
	data, contentType, err := f.client.GetBytes(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return &Blob{Data: data, ContentType: contentType}, nil
}
