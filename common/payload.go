package common

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

const (
	ResultTypeJob   = "job"
	ResultTypeAsset = "asset"
)

// JobAttrs are the attributes of a fetch job that travel with it through the queue.
// Endpoint is the catalog the item was found on, Extra carries caller-supplied tags.
type JobAttrs struct {
	UUID      string            `json:"uuid"`
	Date      time.Time         `json:"date"`
	Endpoint  string            `json:"endpoint,omitempty"`
	AssetKeys []string          `json:"asset_keys"`
	Item      json.RawMessage   `json:"item"`
	Extra     map[string]string `json:"extra,omitempty"`
}

type AssetAttrs struct {
	Key  string `json:"key"`
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// Job is one catalog item to fetch (its asset locators are signed just before download)
type Job struct {
	ID        int      `json:"id"`
	ItemID    string   `json:"item_id"`
	Workspace string   `json:"workspace"`
	Data      JobAttrs `json:"data,omitempty"`
}

// AssetFetch is one asset of a job
type AssetFetch struct {
	ID    int        `json:"id"`
	JobID int        `json:"job_id"`
	Data  AssetAttrs `json:"data,omitempty"`
}

// JobToCreate is the payload to register a new fetch job
type JobToCreate struct {
	Job
	Assets     []AssetAttrs `json:"assets"`
	RetryCount int          `json:"retry_count,omitempty"`
}

// JobToFetch is the payload published to the fetcher queue
type JobToFetch struct {
	Job
	Assets []AssetFetch `json:"assets"`
}

// Result is the payload published back by the fetcher
type Result struct {
	Type    string `json:"type"` // job (ResultTypeJob) or asset (ResultTypeAsset)
	ID      int    `json:"id"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	// URI of the stored file (asset results only)
	URI string `json:"uri,omitempty"`
}

// Value implements the driver.Value interface
func (a JobAttrs) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface.
func (a *JobAttrs) Scan(value interface{}) error {
	if value == nil {
		*a = JobAttrs{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, &a)
}

// Value implements the driver.Value interface
func (a AssetAttrs) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface.
func (a *AssetAttrs) Scan(value interface{}) error {
	if value == nil {
		*a = AssetAttrs{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, &a)
}
