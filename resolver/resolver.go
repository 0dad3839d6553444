package resolver

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/spatialops/stac-fetcher/service/log"
	"github.com/spatialops/stac-fetcher/stac"
)

// ResignPolicy decides what happens when a locator that already carries a token is signed again
type ResignPolicy int

const (
	// ResignOverwrite replaces the existing token (the default: tokens are short-lived
	// and a caller re-signing an item usually holds an expired one)
	ResignOverwrite ResignPolicy = iota
	// ResignError refuses to sign an already-signed locator
	ResignError
)

// Resolver rewrites asset locators to embed a short-lived access token.
// A locator must never be dereferenced before signing: the storage endpoint
// rejects unsigned requests.
type Resolver struct {
	signer Signer
	cache  *Cache
	policy ResignPolicy
}

type Option func(*Resolver)

func WithCache(cache *Cache) Option {
	return func(r *Resolver) { r.cache = cache }
}

func WithResignPolicy(policy ResignPolicy) Option {
	return func(r *Resolver) { r.policy = policy }
}

func New(signer Signer, opts ...Option) *Resolver {
	r := &Resolver{signer: signer, cache: NewCache()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SignURL returns the locator with the token of its scope appended to the query string
func (r *Resolver) SignURL(ctx context.Context, href string) (string, error) {
	scope, err := ParseScope(href)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("SignURL[%s]: %w", href, err)
	}
	if u.RawQuery != "" {
		if r.policy == ResignError {
			return "", fmt.Errorf("SignURL[%s]: locator is already signed", href)
		}
		u.RawQuery = ""
	}
	token, err := r.cache.Token(ctx, scope, r.signer)
	if err != nil {
		return "", fmt.Errorf("SignURL[%s].%w", href, err)
	}
	return u.String() + "?" + token.Value, nil
}

// SignItem returns a copy of the item with every signable asset href rewritten.
// Assets whose locator has no parseable scope are left unsigned with a warning.
// Assets on other schemes (gs://, s3://, ftp://...) are not token-protected and
// are returned as-is.
func (r *Resolver) SignItem(ctx context.Context, item *stac.Item) (*stac.Item, error) {
	signed := item.Clone()
	for key, asset := range signed.Assets {
		if !Signable(asset.Href) {
			continue
		}
		// a locator without a parseable scope is a data-quality problem of the
		// item; any other failure comes from the signing endpoint and must
		// surface, or the caller would dereference an unsigned locator
		if _, err := ParseScope(asset.Href); err != nil {
			log.Logger(ctx).Sugar().Warnf("item %s: leaving asset %s unsigned: %v", item.ID, key, err)
			continue
		}
		href, err := r.SignURL(ctx, asset.Href)
		if err != nil {
			return nil, fmt.Errorf("SignItem[%s].%w", item.ID, err)
		}
		asset.Href = href
		signed.Assets[key] = asset
	}
	return signed, nil
}

// SignItems signs a batch. The scopes of the batch are signed first, concurrently
// (one signing request per distinct scope, no ordering between scopes), then the
// items are rewritten from the warm cache.
func (r *Resolver) SignItems(ctx context.Context, items []*stac.Item) ([]*stac.Item, error) {
	scopes := map[Scope]struct{}{}
	for _, item := range items {
		for _, asset := range item.Assets {
			if !Signable(asset.Href) {
				continue
			}
			if scope, err := ParseScope(asset.Href); err == nil {
				scopes[scope] = struct{}{}
			}
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for scope := range scopes {
		scope := scope
		g.Go(func() error {
			_, err := r.cache.Token(gctx, scope, r.signer)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("SignItems.%w", err)
	}

	signed := make([]*stac.Item, len(items))
	for i, item := range items {
		var err error
		if signed[i], err = r.SignItem(ctx, item); err != nil {
			return nil, err
		}
	}
	return signed, nil
}
