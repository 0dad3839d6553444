package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/spatialops/stac-fetcher/common"
	"github.com/spatialops/stac-fetcher/service"
)

// GSProvider implements AssetProvider for gs:// hrefs
type GSProvider struct {
}

// NewGSProvider creates a new AssetProvider reading from Google Storage buckets
func NewGSProvider() *GSProvider {
	return &GSProvider{}
}

// Name implements AssetProvider
func (p *GSProvider) Name() string {
	return "GoogleStorage"
}

// Supports implements AssetProvider
func (p *GSProvider) Supports(href string) bool {
	return strings.HasPrefix(href, "gs://")
}

func parseGsURI(uri string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	splits := strings.SplitN(trimmed, "/", 2)
	if len(splits) != 2 || splits[0] == "" || splits[1] == "" {
		return "", "", fmt.Errorf("invalid gs uri: %s", uri)
	}
	return splits[0], splits[1], nil
}

// Download implements AssetProvider
func (p *GSProvider) Download(ctx context.Context, asset common.AssetAttrs, localDir string) error {
	bucket, object, err := parseGsURI(asset.Href)
	if err != nil {
		return fmt.Errorf("GSProvider: %w", err)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("GSProvider.NewClient: %w", err))
	}
	defer client.Close()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return ErrAssetNotFound{asset.Href}
		}
		return service.MakeTemporary(fmt.Errorf("GSProvider.NewReader[%s]: %w", asset.Href, err))
	}
	defer r.Close()

	localFile := assetFilePath(localDir, asset.Key, asset.Href)
	f, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("GSProvider.Create: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(localFile)
		return service.MakeTemporary(fmt.Errorf("GSProvider.Copy[%s]: %w", asset.Href, err))
	}

	if isArchive(asset.Href) {
		defer os.Remove(localFile)
		if err := unarchive(localFile, localDir); err != nil {
			return fmt.Errorf("GSProvider.Unarchive: %w", err)
		}
	}
	return nil
}
