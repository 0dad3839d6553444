package fetcher

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spatialops/stac-fetcher/common"
	"github.com/spatialops/stac-fetcher/interface/provider"
	"github.com/spatialops/stac-fetcher/interface/storage"
	"github.com/spatialops/stac-fetcher/resolver"
	"github.com/spatialops/stac-fetcher/service"
	"github.com/spatialops/stac-fetcher/service/log"
)

// Fetcher downloads the assets of a job and saves them to the storage
type Fetcher struct {
	resolver    *resolver.Resolver
	providers   []provider.AssetProvider
	store       storage.Storage
	workdir     string
	concurrency int
	probe       bool
}

type Option func(*Fetcher)

// WithResolver signs the asset locators that need it just before download
func WithResolver(r *resolver.Resolver) Option {
	return func(f *Fetcher) { f.resolver = r }
}

// WithConcurrency sets the number of assets downloaded in parallel
func WithConcurrency(n int) Option {
	return func(f *Fetcher) { f.concurrency = n }
}

// WithProbe checks that raster assets are reachable and well-formed before downloading
func WithProbe() Option {
	return func(f *Fetcher) { f.probe = true }
}

func New(providers []provider.AssetProvider, store storage.Storage, workdir string, opts ...Option) *Fetcher {
	f := &Fetcher{providers: providers, store: store, workdir: workdir, concurrency: 4}
	for _, o := range opts {
		o(f)
	}
	return f
}

// ProcessJob downloads the assets of the job and saves them to the storage.
// It returns one result per asset, plus a final result for the job itself.
func (f *Fetcher) ProcessJob(ctx context.Context, job common.JobToFetch) []common.Result {
	// Working dir
	workdir := filepath.Join(f.workdir, uuid.New().String())
	if err := os.MkdirAll(workdir, 0766); err != nil {
		err = service.MakeTemporary(fmt.Errorf("make directory %s: %w", workdir, err))
		return []common.Result{jobResult(job.ID, err)}
	}
	defer os.RemoveAll(workdir)

	log.Logger(ctx).Sugar().Infof("fetching %s (%d assets)", job.ItemID, len(job.Assets))

	results := make([]common.Result, len(job.Assets))
	mu := sync.Mutex{}
	wg := errgroup.Group{}
	wg.SetLimit(f.concurrency)
	for i, asset := range job.Assets {
		i, asset := i, asset
		wg.Go(func() error {
			uri, err := f.processAsset(ctx, job, asset, filepath.Join(workdir, asset.Data.Key))
			res := common.Result{Type: common.ResultTypeAsset, ID: asset.ID, Status: common.StatusDONE, URI: uri}
			if err != nil {
				log.Logger(ctx).Sugar().Warnf("fetch %s/%s: %v", job.ItemID, asset.Data.Key, err)
				res.Message = err.Error()
				if service.Temporary(err) {
					res.Status = common.StatusRETRY
				} else {
					res.Status = common.StatusFAILED
				}
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	wg.Wait()

	// The job is done if all its assets are, retriable if any asset is
	jobRes := common.Result{Type: common.ResultTypeJob, ID: job.ID, Status: common.StatusDONE}
	for _, res := range results {
		switch res.Status {
		case common.StatusRETRY:
			if jobRes.Status != common.StatusFAILED {
				jobRes.Status = common.StatusRETRY
			}
			jobRes.Message = res.Message
		case common.StatusFAILED:
			jobRes.Status = common.StatusFAILED
			jobRes.Message = res.Message
		}
	}
	return append(results, jobRes)
}

// processAsset downloads one asset to assetDir and saves the files to the storage,
// returning the uri of the stored asset
func (f *Fetcher) processAsset(ctx context.Context, job common.JobToFetch, asset common.AssetFetch, assetDir string) (string, error) {
	if err := os.MkdirAll(assetDir, 0766); err != nil {
		return "", service.MakeTemporary(fmt.Errorf("make directory %s: %w", assetDir, err))
	}

	// Sign the locator if the target requires it
	attrs := asset.Data
	if f.resolver != nil && resolver.Signable(attrs.Href) {
		signed, err := f.resolver.SignURL(ctx, attrs.Href)
		if err != nil {
			return "", fmt.Errorf("processAsset.%w", err)
		}
		attrs.Href = signed
	}

	if f.probe && isRaster(asset.Data) {
		if err := Probe(ctx, attrs.Href); err != nil {
			return "", fmt.Errorf("processAsset.%w", err)
		}
	}

	// Download with the first successful provider
	var err error
	supported := false
	for _, p := range f.providers {
		if !p.Supports(attrs.Href) {
			continue
		}
		supported = true
		e := p.Download(ctx, attrs, assetDir)
		if err = service.MergeErrors(false, err, e); err == nil {
			break
		}
		log.Logger(ctx).Sugar().Warnf("%s: %v", p.Name(), e)
	}
	if !supported {
		return "", service.MakeFatal(fmt.Errorf("processAsset[%s]: no provider supports the locator", asset.Data.Key))
	}
	if err != nil {
		return "", fmt.Errorf("processAsset.%w", err)
	}

	return f.saveAsset(ctx, job, assetDir)
}

// saveAsset uploads the content of assetDir, returning the uri of the first stored file
func (f *Fetcher) saveAsset(ctx context.Context, job common.JobToFetch, assetDir string) (string, error) {
	var localFiles []string
	if err := filepath.Walk(assetDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			localFiles = append(localFiles, p)
		}
		return nil
	}); err != nil {
		return "", service.MakeTemporary(fmt.Errorf("saveAsset.Walk: %w", err))
	}
	if len(localFiles) == 0 {
		return "", fmt.Errorf("saveAsset: nothing was downloaded")
	}
	sort.Strings(localFiles)

	uri := ""
	for _, localFile := range localFiles {
		rel, err := filepath.Rel(filepath.Dir(assetDir), localFile)
		if err != nil {
			return "", fmt.Errorf("saveAsset.Rel: %w", err)
		}
		u, err := f.store.Save(ctx, localFile, path.Join(job.Workspace, job.ItemID, filepath.ToSlash(rel)))
		if err != nil {
			return "", fmt.Errorf("saveAsset.%w", err)
		}
		if uri == "" {
			uri = u
		}
	}
	return uri, nil
}

func jobResult(id int, err error) common.Result {
	res := common.Result{Type: common.ResultTypeJob, ID: id, Status: common.StatusDONE}
	if err != nil {
		res.Message = err.Error()
		if service.Temporary(err) {
			res.Status = common.StatusRETRY
		} else {
			res.Status = common.StatusFAILED
		}
	}
	return res
}
