package mirror

import "context"

// ListPage is one page of a prefix listing.
type ListPage struct {
	Keys      []string
	NextToken string
	Truncated bool
}

// Store is the object-store capability the mirror needs. Each call either
// succeeds or fails; retries and transport are the implementation's concern.
type Store interface {
	// List returns one page of keys under prefix. An empty token requests
	// the first page.
	List(ctx context.Context, prefix, token string) (ListPage, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Put(ctx context.Context, key string, body []byte) error
}
