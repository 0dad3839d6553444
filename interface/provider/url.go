package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cavaliercoder/grab"

	"github.com/spatialops/stac-fetcher/common"
)

// URLProvider implements AssetProvider for direct http(s) download links.
// Hrefs are expected to be already signed when the target requires it.
type URLProvider struct {
	user, pword        *string
	headerKey          string
	headerValue        *string
	copyAuthOnRedirect bool
}

type URLOption func(*URLProvider)

// WithBasicAuth authenticates the download requests with user/password
func WithBasicAuth(user, pword string) URLOption {
	return func(p *URLProvider) { p.user, p.pword = &user, &pword }
}

// WithHeader adds a key/value authentication header to the download requests
func WithHeader(key, value string) URLOption {
	return func(p *URLProvider) { p.headerKey, p.headerValue = key, &value }
}

// WithAuthOnRedirect copies the Authorization header when the server redirects
func WithAuthOnRedirect() URLOption {
	return func(p *URLProvider) { p.copyAuthOnRedirect = true }
}

// NewURLProvider creates a new AssetProvider for direct download links
func NewURLProvider(opts ...URLOption) *URLProvider {
	p := &URLProvider{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements AssetProvider
func (p *URLProvider) Name() string {
	return "URL"
}

// Supports implements AssetProvider
func (p *URLProvider) Supports(href string) bool {
	return strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://")
}

// Download implements AssetProvider
func (p *URLProvider) Download(ctx context.Context, asset common.AssetAttrs, localDir string) error {
	localFile := assetFilePath(localDir, asset.Key, asset.Href)
	req, err := grab.NewRequest(localFile, asset.Href)
	if err != nil {
		return fmt.Errorf("URLProvider.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)

	if p.user != nil && p.pword != nil {
		req.HTTPRequest.SetBasicAuth(*p.user, *p.pword)
	}
	if p.headerValue != nil {
		req.HTTPRequest.Header.Add(p.headerKey, *p.headerValue)
	}

	if err := download(ctx, req, "URL:"+asset.Key, p.copyAuthOnRedirect); err != nil {
		return fmt.Errorf("URLProvider.%w", err)
	}

	if isArchive(asset.Href) {
		defer os.Remove(localFile)
		if err := unarchive(localFile, localDir); err != nil {
			return fmt.Errorf("URLProvider.Unarchive: %w", err)
		}
	}
	return nil
}
