package stac

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeCatalog serves nbItems items in pages of pageLimit, with "next" links
func fakeCatalog(t *testing.T, nbItems int) *httptest.Server {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			w.WriteHeader(404)
			return
		}
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(400)
			return
		}
		page := req.Page // 1-based
		if page == 0 {
			page = 1
		}
		first := (page - 1) * req.Limit
		resp := searchResponse{NumberMatched: nbItems}
		for i := first; i < first+req.Limit && i < nbItems; i++ {
			resp.Features = append(resp.Features, &Item{
				ID: fmt.Sprintf("item-%03d", i),
				Properties: Properties{Datetime: "2021-05-01T10:10:31Z"},
				Assets: map[string]Asset{
					"data": {Href: fmt.Sprintf("https://acct.blob.core.windows.net/container/%03d.tif", i)},
				},
			})
		}
		resp.NumberReturned = len(resp.Features)
		if first+req.Limit < nbItems {
			resp.Links = append(resp.Links, Link{Rel: "next", Href: srv.URL + "/search", Method: "POST"})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	return srv
}

func search(t *testing.T, c *Client, page, limit, expected int) []*Item {
	items, err := c.Search(context.Background(), SearchRequest{Collections: []string{"sentinel-2-l2a"}}, page, limit)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if len(items) != expected {
		t.Errorf("Search(page=%d, limit=%d): expecting %d hits got %d", page, limit, expected, len(items))
	}
	return items
}

func TestSearchPagination(t *testing.T) {
	srv := fakeCatalog(t, 7)
	defer srv.Close()

	c := &Client{Endpoint: srv.URL, Limit: 5}

	items := search(t, c, 0, 8, 7)
	if items[0].ID != "item-000" || items[6].ID != "item-006" {
		t.Errorf("unexpected ordering: %s .. %s", items[0].ID, items[6].ID)
	}
	search(t, c, 0, 3, 3)
	search(t, c, 1, 7, 0)
	items = search(t, c, 1, 4, 3)
	if items[0].ID != "item-004" {
		t.Errorf("expecting item-004, got %s", items[0].ID)
	}
	items = search(t, c, 1, 2, 2)
	if items[0].ID != "item-002" || items[1].ID != "item-003" {
		t.Errorf("unexpected page: %s, %s", items[0].ID, items[1].ID)
	}
}

func TestSearchAll(t *testing.T) {
	srv := fakeCatalog(t, 12)
	defer srv.Close()

	c := &Client{Endpoint: srv.URL, Limit: 5}
	items, err := c.SearchAll(context.Background(), SearchRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 12 {
		t.Errorf("expecting 12 items, got %d", len(items))
	}
}

func TestSearchDoesNotMutateClient(t *testing.T) {
	srv := fakeCatalog(t, 7)
	defer srv.Close()

	// no catalog page limit configured: the default applies per query,
	// the shared client is left untouched
	c := &Client{Endpoint: srv.URL}
	search(t, c, 0, 7, 7)
	if c.Limit != 0 {
		t.Errorf("Search changed the client: Limit=%d", c.Limit)
	}
	items, err := c.SearchAll(context.Background(), SearchRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 7 {
		t.Errorf("expecting 7 items, got %d", len(items))
	}
	if c.Limit != 0 {
		t.Errorf("SearchAll changed the client: Limit=%d", c.Limit)
	}
}

func TestParseDatetimeRange(t *testing.T) {
	dt, err := ParseDatetimeRange("2021-05-01", "2021-06-01")
	if err != nil {
		t.Fatal(err)
	}
	expected := "2021-05-01T00:00:00.000Z/2021-06-01T23:59:59.999Z"
	if dt != expected {
		t.Errorf("expecting %s got %s", expected, dt)
	}
	if _, err := ParseDatetimeRange("2021-06-01", "2021-05-01"); err == nil {
		t.Errorf("inverted range must fail")
	}
}
