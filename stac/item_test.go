package stac

import (
	"encoding/json"
	"testing"
)

const itemJSON = `{
	"id": "S2A_MSIL2A_20210501T101031_R022_T32TMR_20210501T190140",
	"collection": "sentinel-2-l2a",
	"bbox": [8.999, 45.0, 10.0, 46.0],
	"geometry": {"type": "Polygon", "coordinates": [[[9,45],[10,45],[10,46],[9,46],[9,45]]]},
	"properties": {
		"datetime": "2021-05-01T10:10:31.024Z",
		"platform": "Sentinel-2A",
		"eo:cloud_cover": 3.14,
		"proj:epsg": 32632,
		"s2:mgrs_tile": "32TMR",
		"view:sun_azimuth": 153.9
	},
	"assets": {
		"B04": {"href": "https://acct.blob.core.windows.net/container/B04.tif", "type": "image/tiff; application=geotiff; profile=cloud-optimized", "roles": ["data"]},
		"B08": {"href": "https://acct.blob.core.windows.net/container/B08.tif", "roles": ["data"]}
	}
}`

func TestItemProperties(t *testing.T) {
	var item Item
	if err := json.Unmarshal([]byte(itemJSON), &item); err != nil {
		t.Fatal(err)
	}
	if item.Properties.Platform != "Sentinel-2A" {
		t.Errorf("platform: got %s", item.Properties.Platform)
	}
	if item.Properties.CloudCover == nil || *item.Properties.CloudCover != 3.14 {
		t.Errorf("eo:cloud_cover: got %v", item.Properties.CloudCover)
	}
	if item.Properties.EPSG == nil || *item.Properties.EPSG != 32632 {
		t.Errorf("proj:epsg: got %v", item.Properties.EPSG)
	}
	if _, ok := item.Properties.Extra["s2:mgrs_tile"]; !ok {
		t.Errorf("extension property s2:mgrs_tile lost")
	}
	if _, ok := item.Properties.Extra["datetime"]; ok {
		t.Errorf("datetime must not be duplicated in Extra")
	}
	if date, err := item.Date(); err != nil || date.Year() != 2021 {
		t.Errorf("date: got %v (%v)", date, err)
	}

	// round trip keeps both the typed fields and the extension properties
	b, err := json.Marshal(item.Properties)
	if err != nil {
		t.Fatal(err)
	}
	var props map[string]interface{}
	if err := json.Unmarshal(b, &props); err != nil {
		t.Fatal(err)
	}
	if props["eo:cloud_cover"] != 3.14 {
		t.Errorf("eo:cloud_cover lost in round trip: %v", props["eo:cloud_cover"])
	}
	if props["s2:mgrs_tile"] != "32TMR" {
		t.Errorf("s2:mgrs_tile lost in round trip: %v", props["s2:mgrs_tile"])
	}
}

func TestItemClone(t *testing.T) {
	var item Item
	if err := json.Unmarshal([]byte(itemJSON), &item); err != nil {
		t.Fatal(err)
	}
	clone := item.Clone()
	a := clone.Assets["B04"]
	a.Href = a.Href + "?tok=1"
	clone.Assets["B04"] = a
	if item.Assets["B04"].Href == clone.Assets["B04"].Href {
		t.Errorf("clone shares the assets map with the original")
	}
	clone.Properties.Extra["s2:mgrs_tile"] = "changed"
	if item.Properties.Extra["s2:mgrs_tile"] == "changed" {
		t.Errorf("clone shares the extra properties with the original")
	}
}
