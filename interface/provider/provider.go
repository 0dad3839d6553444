package provider

import (
	"context"
	"fmt"

	"github.com/spatialops/stac-fetcher/common"
)

// AssetProvider is the interface of an asset download service
type AssetProvider interface {
	// Download an asset to the given localDir
	Download(ctx context.Context, asset common.AssetAttrs, localDir string) error

	// Supports returns true if the provider can handle the asset href
	Supports(href string) bool

	// Name of the provider
	Name() string
}

// ErrAssetNotFound is an error returned when an asset is not found or available
type ErrAssetNotFound struct {
	Asset string
}

func (e ErrAssetNotFound) Error() string {
	return fmt.Sprintf("Asset not found or unavailable: %s", e.Asset)
}
