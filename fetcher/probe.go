package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/airbusgeo/osio"

	"github.com/spatialops/stac-fetcher/common"
	"github.com/spatialops/stac-fetcher/service"
)

var tiffMagics = [][]byte{
	{'I', 'I', 42, 0},  // little-endian tiff
	{'M', 'M', 0, 42},  // big-endian tiff
	{'I', 'I', 43, 0},  // little-endian bigtiff
	{'M', 'M', 0, 43},  // big-endian bigtiff
}

func isRaster(asset common.AssetAttrs) bool {
	if strings.Contains(asset.Type, "tiff") {
		return true
	}
	switch strings.ToLower(filepath.Ext(strings.SplitN(asset.Href, "?", 2)[0])) {
	case ".tif", ".tiff":
		return true
	}
	return false
}

// httpStreamer implements osio.KeyStreamerAt with http range requests
type httpStreamer struct {
	client *http.Client
}

func (s httpStreamer) StreamAt(key string, off int64, n int64) (io.ReadCloser, int64, error) {
	req, err := http.NewRequest("GET", key, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("StreamAt.NewRequest: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+n-1))
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, service.MakeTemporary(fmt.Errorf("StreamAt[%s]: %w", key, err))
	}
	switch resp.StatusCode {
	case 200, 206:
	case 404:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("StreamAt[%s]: %w", key, io.EOF)
	default:
		resp.Body.Close()
		return nil, 0, service.FromStatusCode(resp.StatusCode, fmt.Errorf("StreamAt[%s]: %s", key, resp.Status))
	}

	// total size from Content-Range ("bytes 0-99/12345"), or Content-Length on a full response
	size := resp.ContentLength
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if i := strings.LastIndex(cr, "/"); i != -1 {
			if total, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
				size = total
			}
		}
	}
	return resp.Body, size, nil
}

// Probe checks that the file behind the (signed) locator is reachable and
// starts with a tiff header, without downloading it
func Probe(ctx context.Context, href string) error {
	adapter, err := osio.NewAdapter(httpStreamer{client: http.DefaultClient})
	if err != nil {
		return fmt.Errorf("Probe.NewAdapter: %w", err)
	}
	r, err := adapter.Reader(href)
	if err != nil {
		return fmt.Errorf("Probe.%w", err)
	}
	if r.Size() < 8 {
		return fmt.Errorf("Probe[%s]: file too small (%d bytes)", href, r.Size())
	}
	header := make([]byte, 4)
	if _, err := r.ReadAt(header, 0); err != nil {
		return fmt.Errorf("Probe.ReadAt: %w", err)
	}
	for _, magic := range tiffMagics {
		if bytes.Equal(header, magic) {
			return nil
		}
	}
	return fmt.Errorf("Probe[%s]: not a tiff (header % x)", href, header)
}
