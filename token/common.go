package token

import (
	"context"
	"time"
)

// Token is a bearer credential as issued by the backend, with the absolute
// time the backend declares it expires.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

type Fetcher interface {
	Fetch(ctx context.Context, identity string) (Token, error)
}

type FetcherFunc func(ctx context.Context, identity string) (Token, error)

var _ Fetcher = FetcherFunc(nil)

func (f FetcherFunc) Fetch(ctx context.Context, identity string) (Token, error) {
	return f(ctx, identity)
}
