package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-spatial/geom/encoding/geojson"

	"github.com/spatialops/stac-fetcher/service"
)

const defaultCatalogLimit = 250

// SearchRequest is the body of a POST {endpoint}/search
type SearchRequest struct {
	Bbox        []float64              `json:"bbox,omitempty"`
	Intersects  *geojson.Geometry      `json:"intersects,omitempty"`
	Query       map[string]interface{} `json:"query,omitempty"`
	Datetime    string                 `json:"datetime,omitempty"`
	Collections []string               `json:"collections,omitempty"`
	Ids         []string               `json:"ids,omitempty"`
	Limit       int                    `json:"limit,omitempty"`
	Page        int                    `json:"page,omitempty"`
}

type searchResponse struct {
	Features       []*Item `json:"features"`
	Links          []Link  `json:"links"`
	NumberMatched  int     `json:"numberMatched"`
	NumberReturned int     `json:"numberReturned"`
}

// Client queries a STAC API (external collaborator, reached over HTTP)
type Client struct {
	Endpoint  string // e.g. https://planetarycomputer.microsoft.com/api/stac/v1
	AuthToken string // optional bearer token
	Limit     int    // max features per page served by the catalog
	Retries   int
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint, Limit: defaultCatalogLimit, Retries: 4}
}

// Datetime formats the search interval the way STAC expects it
func Datetime(start, end time.Time) string {
	return start.Format("2006-01-02") + "T00:00:00.000Z/" + end.Format("2006-01-02") + "T23:59:59.999Z"
}

// ParseDatetimeRange builds a search interval from loosely formatted dates ("2021-01-01", "Jan 2 2021"...)
func ParseDatetimeRange(since, until string) (string, error) {
	start, err := dateparse.ParseAny(since)
	if err != nil {
		return "", fmt.Errorf("ParseDatetimeRange[%s]: %w", since, err)
	}
	end, err := dateparse.ParseAny(until)
	if err != nil {
		return "", fmt.Errorf("ParseDatetimeRange[%s]: %w", until, err)
	}
	if end.Before(start) {
		return "", fmt.Errorf("ParseDatetimeRange: %s is before %s", until, since)
	}
	return Datetime(start, end), nil
}

// CloudCover returns the query filter restricting eo:cloud_cover to [min, max]
func CloudCover(min, max int) map[string]interface{} {
	return map[string]interface{}{"gte": min, "lte": max}
}

// Search queries the catalog, remapping the client page (0-based) and limit onto the
// catalog pages, and following "next" links as long as rows are needed.
func (c *Client) Search(ctx context.Context, searchReq SearchRequest, clientPage, clientLimit int) ([]*Item, error) {
	catalogLimit := c.Limit
	if catalogLimit <= 0 {
		catalogLimit = defaultCatalogLimit
	}
	pagesToQuery := service.ComputePagesToQuery(clientPage, clientLimit, catalogLimit)

	url := c.Endpoint + "/search"
	httpMethod := "POST"
	items := []*Item{}
	for _, pageToQuery := range pagesToQuery {
		searchReq.Limit = pageToQuery.Limit
		searchReq.Page = pageToQuery.Page + 1

		reqBody := &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(searchReq); err != nil {
			return nil, fmt.Errorf("search.json.encode: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, httpMethod, url, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Add("Content-Type", "application/json")
		if c.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.AuthToken)
		}

		respBody, err := service.GetBodyRetryReq(req, c.Retries)
		if err != nil {
			return nil, fmt.Errorf("search.GetBodyRetryReq: %w", err)
		}

		search := &searchResponse{}
		if err := json.Unmarshal(respBody, search); err != nil {
			return nil, fmt.Errorf("search: parse body (%s): %w", url, err)
		}

		items = append(items, service.QueryGetResult(&pageToQuery, search.Features)...)

		nextFound := false
		for _, link := range search.Links {
			if link.Rel == "next" {
				url = link.Href
				if link.Method != "" {
					httpMethod = link.Method
				}
				nextFound = true
			}
		}
		if !nextFound {
			break
		}
	}

	return items, nil
}

// SearchAll pages through the whole result set
func (c *Client) SearchAll(ctx context.Context, searchReq SearchRequest) ([]*Item, error) {
	limit := c.Limit
	if limit <= 0 {
		limit = defaultCatalogLimit
	}
	var items []*Item
	for page := 0; ; page++ {
		batch, err := c.Search(ctx, searchReq, page, limit)
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
		if len(batch) < limit {
			return items, nil
		}
	}
}
