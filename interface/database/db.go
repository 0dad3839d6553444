package db

import (
	"context"
	"fmt"

	"github.com/spatialops/stac-fetcher/common"
)

type Job struct {
	common.Job
	Status         common.Status `json:"status"`
	Message        string        `json:"message"`
	RetryCountDown int           `json:"retry_countdown"`
}

type AssetFetch struct {
	common.AssetFetch
	Status  common.Status `json:"status"`
	Message string        `json:"message"`
	// URI of the stored file once the fetch is done
	URI string `json:"uri"`
}

type ErrAlreadyExists struct {
	Type, ID string
}

func (e ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Type, e.ID)
}

type ErrNotFound struct {
	Type, ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Type, e.ID)
}

type FetchTxBackend interface {
	FetchBackend
	// Must be call to apply transaction
	Commit() error
	// Might be called to cancel the transaction (no effect if commit has already be done)
	Rollback() error
}

type FetchDBBackend interface {
	FetchBackend
	StartTransaction(ctx context.Context) (FetchTxBackend, error)
}

type Status struct {
	New, Pending, Done, Retry, Failed int64
}

// Set the number of occurences for a given status
func (s *Status) Set(status common.Status, nb int64) {
	switch status {
	case common.StatusNEW:
		s.New = nb
	case common.StatusPENDING:
		s.Pending = nb
	case common.StatusDONE:
		s.Done = nb
	case common.StatusRETRY:
		s.Retry = nb
	case common.StatusFAILED:
		s.Failed = nb
	}
}

type FetchBackend interface {
	// Create a workspace in database, may return ErrAlreadyExists
	CreateWorkspace(ctx context.Context, workspace string) error
	// Workspaces returns the list of the workspaces fitting the pattern
	// pattern [optional=""] workspace_pattern
	Workspaces(ctx context.Context, pattern string) ([]string, error)
	// Delete a workspace and its jobs from the database
	DeleteWorkspace(ctx context.Context, workspace string) error

	// Returns the status of the jobs of the workspace
	JobsStatus(ctx context.Context, workspace string) (Status, error)
	// Create a new job, returning its id
	CreateJob(ctx context.Context, itemID, workspace string, status common.Status, data common.JobAttrs, retryCount int) (int, error)
	// Get job with the given id, may return ErrNotFound
	Job(ctx context.Context, id int) (Job, error)
	// Jobs returns the list of jobs fitting the given parameters
	// workspace [optional=""] workspace
	// status [optional=""] status of the job
	Jobs(ctx context.Context, workspace, status string, page, limit int) ([]Job, error)
	// Update job status & message (if != nil)
	UpdateJob(ctx context.Context, id int, status common.Status, message *string) error
	// Update job data
	UpdateJobAttrs(ctx context.Context, id int, data common.JobAttrs) error
	// Returns the id of a job. May return ErrNotFound
	JobId(ctx context.Context, workspace, itemID string) (int, error)

	// Returns the status of the asset fetches of the job
	AssetsStatus(ctx context.Context, jobID int) (Status, error)
	// Create a new asset fetch, returning its id
	CreateAsset(ctx context.Context, jobID int, status common.Status, data common.AssetAttrs) (int, error)
	// Get asset fetch with the given id, may return ErrNotFound
	Asset(ctx context.Context, id int) (AssetFetch, error)
	// Assets returns the asset fetches of the given job
	// status [optional=""] status of the asset fetch
	Assets(ctx context.Context, jobID int, status string, page, limit int) ([]AssetFetch, error)
	// Update asset fetch status, message and stored uri (if != nil)
	UpdateAsset(ctx context.Context, id int, status common.Status, message, uri *string) error
	// Set status of given asset fetches
	SetAssetsStatus(ctx context.Context, ids []int, status common.Status) error
}

// UnitOfWork runs a function and commit the database at the end or rollback if the function returns an error
func UnitOfWork(ctx context.Context, db FetchDBBackend, f func(tx FetchTxBackend) error) (err error) {
	// Start transaction
	txn, err := db.StartTransaction(ctx)
	if err != nil {
		return fmt.Errorf("uow.starttransaction: %w", err)
	}

	// Rollback if not successful
	defer func() {
		if e := txn.Rollback(); err == nil {
			err = e
		}
	}()

	// Execute function
	if err = f(txn); err != nil {
		return fmt.Errorf("uow.%w", err)
	}

	return txn.Commit()
}
