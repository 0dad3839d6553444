package stac

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-spatial/geom/encoding/geojson"
)

// Asset is one downloadable file of an Item (a band, a thumbnail, metadata...)
type Asset struct {
	Href  string   `json:"href"`
	Type  string   `json:"type,omitempty"`
	Title string   `json:"title,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

type Link struct {
	Body   map[string]interface{} `json:"body,omitempty"`
	Href   string                 `json:"href"`
	Method string                 `json:"method,omitempty"`
	Rel    string                 `json:"rel"`
	Type   string                 `json:"type,omitempty"`
}

// Properties of an Item: the fields the fetcher relies on are typed,
// everything else the catalog returns is kept as-is in Extra.
type Properties struct {
	Datetime      string                 `json:"datetime"`
	Platform      string                 `json:"platform,omitempty"`
	Constellation string                 `json:"constellation,omitempty"`
	CloudCover    *float64               `json:"eo:cloud_cover,omitempty"`
	EPSG          *int                   `json:"proj:epsg,omitempty"`
	GSD           *float64               `json:"gsd,omitempty"`
	Extra         map[string]interface{} `json:"-"`
}

var knownPropertyKeys = []string{"datetime", "platform", "constellation", "eo:cloud_cover", "proj:epsg", "gsd"}

type propertiesAlias Properties

// UnmarshalJSON keeps the unknown properties in Extra
func (p *Properties) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*propertiesAlias)(p)); err != nil {
		return err
	}
	extra := map[string]interface{}{}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	for _, k := range knownPropertyKeys {
		delete(extra, k)
	}
	if len(extra) > 0 {
		p.Extra = extra
	}
	return nil
}

// MarshalJSON merges the typed fields and Extra back into a single object
func (p Properties) MarshalJSON() ([]byte, error) {
	kb, err := json.Marshal(propertiesAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return kb, nil
	}
	merged := map[string]interface{}{}
	for k, v := range p.Extra {
		merged[k] = v
	}
	known := map[string]interface{}{}
	if err := json.Unmarshal(kb, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Item is one record of the catalog. It is immutable once retrieved:
// operations that rewrite asset hrefs work on a Clone.
type Item struct {
	ID          string            `json:"id"`
	Collection  string            `json:"collection,omitempty"`
	BoundingBox []float64         `json:"bbox,omitempty"`
	Geometry    *geojson.Geometry `json:"geometry"`
	Properties  Properties        `json:"properties"`
	Assets      map[string]Asset  `json:"assets"`
	Links       []Link            `json:"links,omitempty"`
}

// Date parses the datetime property
func (i *Item) Date() (time.Time, error) {
	date, err := time.Parse(time.RFC3339Nano, i.Properties.Datetime)
	if err != nil {
		return time.Time{}, fmt.Errorf("item %s: parse datetime property: %w", i.ID, err)
	}
	return date, nil
}

// Clone returns a copy of the item whose assets can be rewritten without touching the original
func (i *Item) Clone() *Item {
	c := *i
	c.Assets = make(map[string]Asset, len(i.Assets))
	for k, a := range i.Assets {
		if a.Roles != nil {
			a.Roles = append([]string(nil), a.Roles...)
		}
		c.Assets[k] = a
	}
	if i.Links != nil {
		c.Links = append([]Link(nil), i.Links...)
	}
	if i.BoundingBox != nil {
		c.BoundingBox = append([]float64(nil), i.BoundingBox...)
	}
	if i.Properties.Extra != nil {
		c.Properties.Extra = make(map[string]interface{}, len(i.Properties.Extra))
		for k, v := range i.Properties.Extra {
			c.Properties.Extra[k] = v
		}
	}
	return &c
}
