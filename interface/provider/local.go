package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spatialops/stac-fetcher/common"
)

// LocalProvider implements AssetProvider for file:// hrefs and plain paths
type LocalProvider struct {
	root string
}

// NewLocalProvider creates a new AssetProvider reading from the local
// filesystem. Relative hrefs are resolved against root.
func NewLocalProvider(root string) *LocalProvider {
	return &LocalProvider{root: root}
}

// Name implements AssetProvider
func (p *LocalProvider) Name() string {
	return "FileSystem (" + p.root + ")"
}

// Supports implements AssetProvider
func (p *LocalProvider) Supports(href string) bool {
	return strings.HasPrefix(href, "file://") || !strings.Contains(href, "://")
}

// Download implements AssetProvider
func (p *LocalProvider) Download(ctx context.Context, asset common.AssetAttrs, localDir string) error {
	srcFile := strings.TrimPrefix(asset.Href, "file://")
	if !strings.HasPrefix(srcFile, "/") {
		srcFile = p.root + "/" + srcFile
	}
	if _, err := os.Stat(srcFile); err != nil {
		if os.IsNotExist(err) {
			return ErrAssetNotFound{srcFile}
		}
		return fmt.Errorf("LocalProvider: %w", err)
	}

	if isArchive(asset.Href) {
		if err := unarchive(srcFile, localDir); err != nil {
			return fmt.Errorf("LocalProvider.Unarchive: %w", err)
		}
		return nil
	}

	if err := fileCopy(srcFile, assetFilePath(localDir, asset.Key, asset.Href)); err != nil {
		return fmt.Errorf("LocalProvider: %w", err)
	}
	return nil
}

// fileCopy copies a single file from src to dst
func fileCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("fileCopy.Open: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("fileCopy.Create: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("fileCopy.Copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("fileCopy.Close: %w", err)
	}
	return nil
}
