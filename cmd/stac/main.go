package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/paulsmith/gogeos/geos"
	"go.uber.org/zap"

	"github.com/spatialops/stac-fetcher/interface/signer"
	"github.com/spatialops/stac-fetcher/resolver"
	"github.com/spatialops/stac-fetcher/service"
	"github.com/spatialops/stac-fetcher/service/geometry"
	"github.com/spatialops/stac-fetcher/service/log"
	"github.com/spatialops/stac-fetcher/stac"
	"github.com/spatialops/stac-fetcher/workflow"
)

type config struct {
	StacEndpoint string
	StacToken    string

	Collections   string
	Ids           string
	Since         string
	Until         string
	MaxCloudCover int
	AOI           string
	AOIWkt        string
	Page          int
	Limit         int

	AssetKeys  string
	RetryCount int
	Extra      string

	WorkflowServer string
	WorkflowToken  string
	Workspace      string

	SigningEndpoint string
	SubscriptionKey string

	Output string
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.StacEndpoint, "stac-endpoint", "", "endpoint of the stac catalog (ex: https://planetarycomputer.microsoft.com/api/stac/v1)")
	flag.StringVar(&config.StacToken, "stac-token", "", "bearer token of the stac catalog (optional)")

	// Search filters
	flag.StringVar(&config.Collections, "collections", "", "collections to search. List comma-separated (ex: sentinel-2-l2a)")
	flag.StringVar(&config.Ids, "ids", "", "item ids to search. List comma-separated (optional)")
	flag.StringVar(&config.Since, "since", "", "start of the search interval (ex: 2021-01-01)")
	flag.StringVar(&config.Until, "until", "", "end of the search interval (ex: 2021-12-31)")
	flag.IntVar(&config.MaxCloudCover, "max-cloud-cover", -1, "max eo:cloud_cover of the items (optional)")
	flag.StringVar(&config.AOI, "aoi", "", "geojson file of the area of interest (optional)")
	flag.StringVar(&config.AOIWkt, "aoi-wkt", "", "file with one WKT geometry per line, unioned into the area of interest (optional)")
	flag.IntVar(&config.Page, "page", 0, "page of the results")
	flag.IntVar(&config.Limit, "limit", -1, "max number of results (-1: all)")

	// Fetch request
	flag.StringVar(&config.AssetKeys, "asset-keys", "", "assets to fetch from each item. List comma-separated (default: all)")
	flag.IntVar(&config.RetryCount, "retry-count", 0, "number of automatic retries of a failed fetch job")
	flag.StringVar(&config.Extra, "extra", "", "tags recorded on each fetch job. List comma-separated (ex: campaign=s2-2021,owner=ops)")

	// Workflow Server
	flag.StringVar(&config.WorkflowServer, "workflow-server", "", "address of the workflow server (optional). To queue a fetch job per matching item.")
	flag.StringVar(&config.WorkflowToken, "workflow-token", "", "bearer token of the workflow server (optional)")
	flag.StringVar(&config.Workspace, "workspace", "", "workspace receiving the fetch jobs")

	// Signing endpoint
	flag.StringVar(&config.SigningEndpoint, "signing-endpoint", "", "signing endpoint handing out storage access tokens (optional). To sign the asset locators of the results.")
	flag.StringVar(&config.SubscriptionKey, "signing-subscription-key", "", "api key of the signing endpoint (optional)")

	flag.StringVar(&config.Output, "output", "", "directory where the results are written (default: stdout)")
	flag.Parse()

	if config.StacEndpoint == "" && config.WorkflowServer == "" {
		return nil, fmt.Errorf("missing stac-endpoint or workflow-server config flag")
	}
	if config.WorkflowServer != "" && config.Workspace == "" {
		return nil, fmt.Errorf("missing workspace config flag")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	searchReq, err := searchRequest(config)
	if err != nil {
		return err
	}

	fr := workflow.FetchRequest{Search: searchReq, RetryCount: config.RetryCount}
	if config.AssetKeys != "" {
		fr.AssetKeys = strings.Split(config.AssetKeys, ",")
	}
	if config.Extra != "" {
		fr.Extra = map[string]string{}
		for _, tag := range strings.Split(config.Extra, ",") {
			key, value, _ := strings.Cut(tag, "=")
			fr.Extra[key] = value
		}
	}

	// Delegate the search and the jobs to the workflow server
	if config.WorkflowServer != "" {
		return postFetchRequest(ctx, config, fr)
	}

	// Local search
	catalog := stac.NewClient(config.StacEndpoint)
	catalog.AuthToken = config.StacToken

	var items []*stac.Item
	if config.Limit < 0 {
		items, err = catalog.SearchAll(ctx, fr.Search)
	} else {
		items, err = catalog.Search(ctx, fr.Search, config.Page, config.Limit)
	}
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	log.Logger(ctx).Sugar().Infof("%d items found", len(items))

	if config.SigningEndpoint != "" {
		var signerOpts []signer.Option
		if config.SubscriptionKey != "" {
			signerOpts = append(signerOpts, signer.WithSubscriptionKey(config.SubscriptionKey))
		}
		res := resolver.New(signer.NewClient(config.SigningEndpoint, signerOpts...))
		if items, err = res.SignItems(ctx, items); err != nil {
			return fmt.Errorf("sign: %w", err)
		}
	}

	if config.Output != "" {
		return service.ToJSON(items, config.Output, "items.json")
	}
	return json.NewEncoder(os.Stdout).Encode(items)
}

// searchRequest builds the search from the config flags
func searchRequest(config *config) (stac.SearchRequest, error) {
	searchReq := stac.SearchRequest{}
	if config.Collections != "" {
		searchReq.Collections = strings.Split(config.Collections, ",")
	}
	if config.Ids != "" {
		searchReq.Ids = strings.Split(config.Ids, ",")
	}
	if config.Since != "" || config.Until != "" {
		datetime, err := stac.ParseDatetimeRange(config.Since, config.Until)
		if err != nil {
			return searchReq, err
		}
		searchReq.Datetime = datetime
	}
	if config.MaxCloudCover >= 0 {
		searchReq.Query = map[string]interface{}{"eo:cloud_cover": stac.CloudCover(0, config.MaxCloudCover)}
	}

	if config.AOI != "" {
		data, err := os.ReadFile(config.AOI)
		if err != nil {
			return searchReq, fmt.Errorf("aoi: %w", err)
		}
		g, err := service.UnmarshalGeometry(data)
		if err != nil {
			return searchReq, fmt.Errorf("aoi: %w", err)
		}
		searchReq.Intersects = &geojson.Geometry{Geometry: g}
	} else if config.AOIWkt != "" {
		g, err := aoiFromWKTFile(config.AOIWkt)
		if err != nil {
			return searchReq, err
		}
		searchReq.Intersects = g
	}
	return searchReq, nil
}

// aoiFromWKTFile unions the geometries of the file (one WKT per line) into a single aoi
func aoiFromWKTFile(path string) (*geojson.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("aoi-wkt: %w", err)
	}
	var wkts []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			wkts = append(wkts, line)
		}
	}
	if len(wkts) == 0 {
		return nil, fmt.Errorf("aoi-wkt: no geometry in %s", path)
	}
	wkt, err := geometry.WKTUnion(wkts, geometry.TOLERANCE_GEOG)
	if err != nil {
		return nil, fmt.Errorf("aoi-wkt.%w", err)
	}
	geosGeom, err := geos.FromWKT(wkt)
	if err != nil {
		return nil, fmt.Errorf("aoi-wkt.FromWKT: %w", err)
	}
	g, err := geometry.GeosToGeom(geosGeom)
	if err != nil {
		return nil, fmt.Errorf("aoi-wkt.%w", err)
	}
	return &geojson.Geometry{Geometry: g}, nil
}

// postFetchRequest queues a fetch job per matching item through the workflow server
func postFetchRequest(ctx context.Context, config *config, fr workflow.FetchRequest) error {
	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(fr); err != nil {
		return fmt.Errorf("postFetchRequest.Encode: %w", err)
	}
	url := fmt.Sprintf("%s/catalog/workspace/%s", strings.TrimSuffix(config.WorkflowServer, "/"), config.Workspace)
	resp, err := service.HTTPPostWithAuth(ctx, url, body, "", "", config.WorkflowToken)
	if err != nil {
		return fmt.Errorf("postFetchRequest: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 {
		return fmt.Errorf("postFetchRequest: %s (%s)", resp.Status, strings.TrimSpace(string(respBody)))
	}
	fmt.Print(string(respBody))
	return nil
}
