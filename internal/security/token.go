package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Token lifetimes.
const (
	// TokenRefreshMargin is how long before expiry a cached token is
	// considered stale and replaced.
	TokenRefreshMargin = 5 * time.Minute
	// DefaultTokenLifetime applies when the grant omits expires_in.
	DefaultTokenLifetime = 2 * time.Hour
)

// AccessToken is a bearer credential for outbound API calls.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// usableAt reports whether the token can still be handed out at t.
func (t AccessToken) usableAt(at time.Time) bool {
	return t.Value != "" && at.Before(t.ExpiresAt.Add(-TokenRefreshMargin))
}

// TokenGrant is the raw result of a client-credentials exchange.
type TokenGrant struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// TokenFetcher performs the token acquisition exchange.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (TokenGrant, error)
}

// TokenFetcherFunc adapts a function to TokenFetcher.
type TokenFetcherFunc func(ctx context.Context) (TokenGrant, error)

// FetchToken calls f.
func (f TokenFetcherFunc) FetchToken(ctx context.Context) (TokenGrant, error) { return f(ctx) }

// TokenCache shares one access token across concurrent callers.
//
// The mutex only guards reads and writes of the cached value; it is never
// held while fetching. Concurrent misses collapse into one acquisition.
type TokenCache struct {
	fetcher TokenFetcher
	now     func() time.Time
	onFetch func(err error)

	mu    sync.Mutex
	token AccessToken
	group singleflight.Group
}

// TokenCacheOption configures a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithTokenClock overrides the time source used for expiry decisions.
func WithTokenClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) { c.now = now }
}

// WithFetchHook registers a callback invoked after every acquisition.
func WithFetchHook(fn func(err error)) TokenCacheOption {
	return func(c *TokenCache) { c.onFetch = fn }
}

// NewTokenCache creates an empty cache in front of fetcher.
func NewTokenCache(fetcher TokenFetcher, opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{fetcher: fetcher, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a cached token, acquiring a fresh one when the cache is
// empty or within TokenRefreshMargin of expiry.
func (c *TokenCache) Token(ctx context.Context) (AccessToken, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		// A caller that lost the race may arrive after the winner stored.
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return AccessToken{}, fmt.Errorf("%w: %w", ErrTokenAcquisition, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}
		return res.Val.(AccessToken), nil
	}
}

// Invalidate drops the cached token, e.g. after the API rejected it.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = AccessToken{}
	c.mu.Unlock()
}

func (c *TokenCache) cached() (AccessToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.usableAt(c.now()) {
		return c.token, true
	}
	return AccessToken{}, false
}

func (c *TokenCache) refresh(ctx context.Context) (AccessToken, error) {
	grant, err := c.fetcher.FetchToken(ctx)
	if err == nil && grant.AccessToken == "" {
		err = errors.New("empty access_token in grant")
	}
	if c.onFetch != nil {
		c.onFetch(err)
	}
	if err != nil {
		return AccessToken{}, fmt.Errorf("%w: %w", ErrTokenAcquisition, err)
	}

	lifetime := grant.ExpiresIn
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	tok := AccessToken{Value: grant.AccessToken, ExpiresAt: c.now().Add(lifetime)}

	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
	return tok, nil
}
