package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/spatialops/stac-fetcher/common"
	db "github.com/spatialops/stac-fetcher/interface/database"
	"github.com/spatialops/stac-fetcher/service/log"
	"github.com/spatialops/stac-fetcher/stac"
)

// FetchRequest describes a catalog search and the assets to fetch from each matching item.
// Extra tags are recorded on every job created by the request.
type FetchRequest struct {
	Search     stac.SearchRequest `json:"search"`
	AssetKeys  []string           `json:"asset_keys,omitempty"`
	RetryCount int                `json:"retry_count,omitempty"`
	Extra      map[string]string  `json:"extra,omitempty"`
}

func (wf *Workflow) CatalogHandler(r *mux.Router) {
	r.HandleFunc("/catalog/items", wf.CatalogItemsHandler).Methods("POST")
	r.HandleFunc("/catalog/workspace/{workspace}", wf.CatalogPostWorkspaceHandler).Methods("POST")
}

func (wf *Workflow) loadFetchRequest(w http.ResponseWriter, req *http.Request) (FetchRequest, error) {
	fr := FetchRequest{}
	if wf.catalog == nil {
		w.WriteHeader(501)
		err := fmt.Errorf("no catalog configured")
		fmt.Fprintf(w, "%v", err)
		return fr, err
	}
	if err := json.NewDecoder(req.Body).Decode(&fr); err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return fr, err
	}
	return fr, nil
}

// itemToJob prepares the fetch job of a catalog item, keeping only the requested assets
func itemToJob(item *stac.Item, endpoint string, fr FetchRequest) (common.JobToCreate, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return common.JobToCreate{}, fmt.Errorf("itemToJob.Marshal: %w", err)
	}
	date, err := item.Date()
	if err != nil {
		return common.JobToCreate{}, fmt.Errorf("itemToJob.%w", err)
	}
	job := common.JobToCreate{
		Job: common.Job{
			ItemID: item.ID,
			Data: common.JobAttrs{
				UUID:      uuid.New().String(),
				Date:      date,
				Endpoint:  endpoint,
				AssetKeys: fr.AssetKeys,
				Item:      raw,
				Extra:     fr.Extra,
			},
		},
		RetryCount: fr.RetryCount,
	}
	if len(fr.AssetKeys) == 0 {
		for key := range item.Assets {
			job.Data.AssetKeys = append(job.Data.AssetKeys, key)
		}
	}
	for _, key := range job.Data.AssetKeys {
		asset, ok := item.Assets[key]
		if !ok {
			return job, fmt.Errorf("itemToJob[%s]: no asset %s", item.ID, key)
		}
		job.Assets = append(job.Assets, common.AssetAttrs{Key: key, Href: asset.Href, Type: asset.Type})
	}
	return job, nil
}

func (wf *Workflow) postItems(ctx context.Context, workspace string, fr FetchRequest, items []*stac.Item) (map[string]int, error) {
	ids := map[string]int{}

	// First, create the workspace
	if err := wf.CreateWorkspace(ctx, workspace); err != nil && !errors.As(err, &db.ErrAlreadyExists{}) {
		return ids, err
	}

	// Then, create the jobs
	for _, item := range items {
		job, err := itemToJob(item, wf.catalog.Endpoint, fr)
		if err != nil {
			return ids, err
		}
		nid, err := wf.CreateJob(ctx, workspace, job)
		if err != nil {
			if !errors.As(err, &db.ErrAlreadyExists{}) {
				return ids, err
			}
		} else {
			ids[item.ID] = nid
		}
	}
	return ids, nil
}

// CatalogItemsHandler searches the catalog and returns the matching items
func (wf *Workflow) CatalogItemsHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	fr, err := wf.loadFetchRequest(w, req)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.CatalogItemsHandler: %v", err)
		return
	}

	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	limit, err := strconv.Atoi(req.URL.Query().Get("limit"))
	if err != nil {
		limit = wf.catalog.Limit
	}
	items, err := wf.catalog.Search(ctx, fr.Search, page, limit)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.CatalogItemsHandler.%v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}

	json.NewEncoder(w).Encode(items)
}

// CatalogPostWorkspaceHandler searches the catalog and queues a fetch job per matching item
func (wf *Workflow) CatalogPostWorkspaceHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	fr, err := wf.loadFetchRequest(w, req)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.CatalogPostWorkspaceHandler: %v", err)
		return
	}

	items, err := wf.catalog.SearchAll(ctx, fr.Search)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.CatalogPostWorkspaceHandler.%v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}

	ids, err := wf.postItems(ctx, mux.Vars(req)["workspace"], fr, items)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.CatalogPostWorkspaceHandler.%v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}

	w.WriteHeader(200)
	assets := 0
	for _, item := range items {
		if _, ok := ids[item.ID]; ok {
			if len(fr.AssetKeys) > 0 {
				assets += len(fr.AssetKeys)
			} else {
				assets += len(item.Assets)
			}
		}
	}
	fmt.Fprintf(w, "Fetch of %d jobs and %d assets in progress\n", len(ids), assets)
}
