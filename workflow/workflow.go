package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/spatialops/stac-fetcher/common"
	db "github.com/spatialops/stac-fetcher/interface/database"
	"github.com/spatialops/stac-fetcher/interface/messaging"
	"github.com/spatialops/stac-fetcher/resolver"
	"github.com/spatialops/stac-fetcher/service/log"
	"github.com/spatialops/stac-fetcher/stac"
)

type Workflow struct {
	db.FetchDBBackend
	dbmu     sync.Mutex
	jobQueue messaging.Publisher
	resolver *resolver.Resolver

	catalog *stac.Client
}

// NewWorkflow creates the job orchestrator.
// resolver and catalog may be nil if the deployment has no signing endpoint
// or no catalog to search.
func NewWorkflow(db db.FetchDBBackend, jobQueue messaging.Publisher, resolver *resolver.Resolver, catalog *stac.Client) *Workflow {
	return &Workflow{
		FetchDBBackend: db,
		jobQueue:       jobQueue,
		resolver:       resolver,
		catalog:        catalog,
	}
}

// CreateJob adds a new job to the workflow and queues it for fetching.
// Return id of the job
func (wf *Workflow) CreateJob(ctx context.Context, workspace string, job common.JobToCreate) (int, error) {
	wf.dbmu.Lock()
	defer wf.dbmu.Unlock()

	if job.ID != 0 {
		return 0, fmt.Errorf("createJob: job must not have id set")
	}
	if job.ItemID == "" {
		return 0, fmt.Errorf("createJob: job has no item id")
	}
	if len(job.Assets) == 0 {
		return 0, fmt.Errorf("createJob: job has no assets")
	}
	if job.Workspace != "" && job.Workspace != workspace {
		return 0, fmt.Errorf("createJob: job.Workspace and workspace are different")
	}

	// Check that the job does not already exists
	if _, err := wf.JobId(ctx, workspace, job.ItemID); err != nil && !errors.As(err, &db.ErrNotFound{}) {
		return 0, fmt.Errorf("query job: %w", err)
	} else if err == nil {
		return 0, db.ErrAlreadyExists{Type: "job", ID: job.ItemID}
	}

	toFetch := common.JobToFetch{}
	err := db.UnitOfWork(ctx, wf.FetchDBBackend, func(tx db.FetchTxBackend) error {
		var err error
		if job.ID, err = tx.CreateJob(ctx, job.ItemID, workspace, common.StatusPENDING, job.Data, job.RetryCount); err != nil {
			return err
		}
		toFetch.Job = job.Job
		toFetch.Job.ID = job.ID
		toFetch.Job.Workspace = workspace
		for _, asset := range job.Assets {
			id, err := tx.CreateAsset(ctx, job.ID, common.StatusPENDING, asset)
			if err != nil {
				return err
			}
			toFetch.Assets = append(toFetch.Assets, common.AssetFetch{ID: id, JobID: job.ID, Data: asset})
		}

		log.Logger(ctx).Sugar().Infof("queueing job %s", job.ItemID)
		return wf.publishJob(ctx, toFetch)
	})
	if err != nil {
		return 0, fmt.Errorf("CreateJob.%w", err)
	}

	return job.ID, nil
}

func (wf *Workflow) FinishJob(ctx context.Context, job db.Job) error {
	if err := wf.UpdateJob(ctx, job.ID, common.StatusDONE, &job.Message); err != nil {
		return fmt.Errorf("FinishJob.%w", err)
	}
	return nil
}

func (wf *Workflow) RetryJob(ctx context.Context, job db.Job) error {
	lg := log.Logger(ctx).Sugar()
	err := db.UnitOfWork(ctx, wf.FetchDBBackend, func(tx db.FetchTxBackend) error {
		if err := tx.UpdateJob(ctx, job.ID, common.StatusPENDING, nil); err != nil {
			return err
		}
		// Requeue the assets that are not done yet
		assets, err := tx.Assets(ctx, job.ID, "", 0, -1)
		if err != nil {
			return err
		}
		toFetch := common.JobToFetch{Job: job.Job}
		var ids []int
		for _, asset := range assets {
			if asset.Status == common.StatusDONE {
				continue
			}
			ids = append(ids, asset.ID)
			toFetch.Assets = append(toFetch.Assets, asset.AssetFetch)
		}
		if len(toFetch.Assets) == 0 {
			return fmt.Errorf("retryJob: all the assets are already fetched")
		}
		if err := tx.SetAssetsStatus(ctx, ids, common.StatusPENDING); err != nil {
			return err
		}
		lg.Infof("retrying job %s (%d assets)", job.ItemID, len(toFetch.Assets))
		return wf.publishJob(ctx, toFetch)
	})
	if err != nil {
		return fmt.Errorf("RetryJob.%w", err)
	}
	return nil
}

func (wf *Workflow) FailJob(ctx context.Context, job db.Job) error {
	err := db.UnitOfWork(ctx, wf.FetchDBBackend, func(tx db.FetchTxBackend) error {
		if err := tx.UpdateJob(ctx, job.ID, common.StatusFAILED, &job.Message); err != nil {
			return err
		}
		// The assets that are not fetched yet will never be
		assets, err := tx.Assets(ctx, job.ID, "", 0, -1)
		if err != nil {
			return err
		}
		var ids []int
		for _, asset := range assets {
			switch asset.Status {
			case common.StatusDONE, common.StatusFAILED:
			default:
				ids = append(ids, asset.ID)
			}
		}
		return tx.SetAssetsStatus(ctx, ids, common.StatusFAILED)
	})
	if err != nil {
		return fmt.Errorf("FailJob.%w", err)
	}
	return nil
}

func (wf *Workflow) UpdateJobStatus(ctx context.Context, id int, status common.Status, message *string, force bool) (bool, error) {
	lg := log.Logger(ctx).Sugar()
	wf.dbmu.Lock()
	defer wf.dbmu.Unlock()

	job, err := wf.Job(ctx, id)
	if err != nil {
		if errors.As(err, &db.ErrNotFound{}) {
			lg.Errorf("update: %v", err)
			return false, nil
		}
		return false, fmt.Errorf("UpdateJobStatus: %w", err)
	}
	if message != nil {
		job.Message = *message
	}

	lg.Infof("update job status %s: %s->%s (%s)", job.ItemID, job.Status, status, job.Message)

	if force {
		switch status {
		case common.StatusDONE:
			err = wf.FinishJob(ctx, job)
		case common.StatusRETRY, common.StatusNEW:
			err = wf.UpdateJob(ctx, id, status, &job.Message)
		case common.StatusPENDING:
			err = wf.RetryJob(ctx, job)
		case common.StatusFAILED:
			err = wf.FailJob(ctx, job)
		}
		return true, err
	}

	if job.Status == status {
		lg.Warnf("update job %d: status already %s", id, status)
		return false, nil
	}

	switch job.Status {
	case common.StatusPENDING:
		switch status {
		case common.StatusDONE:
			err = wf.FinishJob(ctx, job)
		case common.StatusRETRY:
			if job.RetryCountDown > 0 {
				err = wf.RetryJob(ctx, job)
			} else if err := wf.UpdateJob(ctx, id, common.StatusRETRY, &job.Message); err != nil {
				return false, fmt.Errorf("update retry status: %w", err)
			}
		case common.StatusFAILED:
			err = wf.FailJob(ctx, job)
		default:
			lg.Errorf("cannot update job %d status %s->%s", id, job.Status, status)
			return false, nil
		}
	case common.StatusRETRY:
		switch status {
		case common.StatusDONE:
			err = wf.FinishJob(ctx, job)
		case common.StatusPENDING:
			err = wf.RetryJob(ctx, job)
		case common.StatusFAILED:
			err = wf.FailJob(ctx, job)
		default:
			lg.Errorf("cannot update job %d status %s->%s", id, job.Status, status)
			return false, nil
		}
	default:
		lg.Errorf("cannot update job %d status %s->%s", id, job.Status, status)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateAssetStatus records the result of one asset fetch
func (wf *Workflow) UpdateAssetStatus(ctx context.Context, id int, status common.Status, message, uri *string) (bool, error) {
	wf.dbmu.Lock()
	defer wf.dbmu.Unlock()

	if err := wf.UpdateAsset(ctx, id, status, message, uri); err != nil {
		if errors.As(err, &db.ErrNotFound{}) {
			log.Logger(ctx).Sugar().Errorf("update: %v", err)
			return false, nil
		}
		return false, fmt.Errorf("UpdateAssetStatus: %w", err)
	}
	return true, nil
}

// UpdateJobData replaces the attributes of a job (asset keys, tags...)
func (wf *Workflow) UpdateJobData(ctx context.Context, jobID int, data common.JobAttrs) error {
	wf.dbmu.Lock()
	defer wf.dbmu.Unlock()

	if err := db.UnitOfWork(ctx, wf.FetchDBBackend, func(tx db.FetchTxBackend) error {
		return tx.UpdateJobAttrs(ctx, jobID, data)
	}); err != nil {
		return fmt.Errorf("UpdateJobData.%w", err)
	}
	return nil
}

// SignItem signs the asset locators of a catalog item without registering a job
func (wf *Workflow) SignItem(ctx context.Context, item *stac.Item) (*stac.Item, error) {
	if wf.resolver == nil {
		return nil, fmt.Errorf("SignItem: no signing endpoint configured")
	}
	signed, err := wf.resolver.SignItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("SignItem.%w", err)
	}
	return signed, nil
}

func (wf *Workflow) publishJob(ctx context.Context, job common.JobToFetch) error {
	plb, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	if err = wf.jobQueue.Publish(ctx, plb); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	return nil
}
