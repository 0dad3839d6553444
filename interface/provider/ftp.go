package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/spatialops/stac-fetcher/common"
	"github.com/spatialops/stac-fetcher/service"
)

// FTPProvider implements AssetProvider for ftp:// hrefs
type FTPProvider struct {
	user  string
	pword string
}

// NewFTPProvider creates a new AssetProvider for ftp download links
func NewFTPProvider(user, pword string) *FTPProvider {
	return &FTPProvider{user: user, pword: pword}
}

// Name implements AssetProvider
func (p *FTPProvider) Name() string {
	return "FTP"
}

// Supports implements AssetProvider
func (p *FTPProvider) Supports(href string) bool {
	return strings.HasPrefix(href, "ftp://") || strings.HasPrefix(href, "ftps://")
}

// Download implements AssetProvider
func (p *FTPProvider) Download(ctx context.Context, asset common.AssetAttrs, localDir string) error {
	u, err := url.Parse(asset.Href)
	if err != nil {
		return fmt.Errorf("FTPProvider: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}

	ftpOption := []ftp.DialOption{ftp.DialWithTimeout(5 * time.Second)}
	if u.Scheme == "ftps" || u.Port() == "990" {
		ftpOption = append(ftpOption, ftp.DialWithTLS(&tls.Config{InsecureSkipVerify: true}))
	}
	c, err := ftp.Dial(host, ftpOption...)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("FTPProvider.Dial: %w", err))
	}

	user, pword := p.user, p.pword
	if u.User != nil {
		user = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			pword = pw
		}
	}
	if user == "" {
		user = "anonymous"
	}
	if err = c.Login(user, pword); err != nil {
		return fmt.Errorf("FTPProvider.Login: %w", err)
	}
	defer c.Quit()

	r, err := c.Retr(strings.TrimPrefix(u.Path, "/"))
	if err != nil {
		return ErrAssetNotFound{asset.Href}
	}
	defer r.Close()

	localFile := assetFilePath(localDir, asset.Key, asset.Href)
	destFile, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("FTPProvider.Create: %w", err)
	}
	defer destFile.Close()

	if _, err = io.Copy(destFile, r); err != nil {
		os.Remove(localFile)
		return service.MakeTemporary(fmt.Errorf("FTPProvider.Copy: %w", err))
	}

	if isArchive(asset.Href) {
		defer os.Remove(localFile)
		if err := unarchive(localFile, localDir); err != nil {
			return fmt.Errorf("FTPProvider.Unarchive: %w", err)
		}
	}
	return nil
}
