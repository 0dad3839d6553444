package workflow_test

import (
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/spatialops/stac-fetcher/common"
	db "github.com/spatialops/stac-fetcher/interface/database"
)

var _ = Describe("Workflow", func() {
	var err error
	workspace := "test"
	jobToCreate := common.JobToCreate{
		Job: common.Job{
			ItemID: "S2B_MSIL2A_20200707T105619_R094_T30TWT_20200929T061414",
			Data: common.JobAttrs{
				UUID:      "05a23a04-82fa-46e0-b9a9-2c25912a305c",
				Date:      time.Date(2020, 7, 7, 10, 56, 19, 0, time.UTC),
				Endpoint:  "https://planetarycomputer.microsoft.com/api/stac/v1",
				AssetKeys: []string{"B02", "B03"},
				Extra:     map[string]string{"campaign": "s2-2020"},
			},
		},
		Assets: []common.AssetAttrs{
			{Key: "B02", Href: "https://sentinel2l2a01.blob.core.windows.net/sentinel2-l2/30/T/WT/B02.tif", Type: "image/tiff; application=geotiff"},
			{Key: "B03", Href: "https://sentinel2l2a01.blob.core.windows.net/sentinel2-l2/30/T/WT/B03.tif", Type: "image/tiff; application=geotiff"},
		},
		RetryCount: 2,
	}

	resetDb := func() {
		memdb.DeleteWorkspace(ctx, workspace)
		err := wf.CreateWorkspace(ctx, workspace)
		Expect(err).NotTo(HaveOccurred())
	}

	lastPublished := func() common.JobToFetch {
		Expect(jobQueue.messages).NotTo(BeEmpty())
		toFetch := common.JobToFetch{}
		err := json.Unmarshal(jobQueue.messages[len(jobQueue.messages)-1], &toFetch)
		Expect(err).NotTo(HaveOccurred())
		return toFetch
	}

	BeforeEach(func() {
		jobQueue.messages = nil
	})

	Describe("Creating a workspace", func() {
		BeforeEach(func() {
			memdb.DeleteWorkspace(ctx, workspace)
		})

		Context("With no workspace", func() {
			JustBeforeEach(func() {
				err := wf.CreateWorkspace(ctx, workspace)
				Expect(err).NotTo(HaveOccurred())
			})
			It("should create the workspace", func() {
				workspaces, err := wf.Workspaces(ctx, "")
				Expect(err).NotTo(HaveOccurred())
				Expect(workspaces).To(ContainElement(workspace))
			})
		})

		Context("With a workspace that already exists", func() {
			JustBeforeEach(func() {
				err = wf.CreateWorkspace(ctx, workspace)
				Expect(err).NotTo(HaveOccurred())
				err = wf.CreateWorkspace(ctx, workspace)
			})
			It("should return an AlreadyExists error", func() {
				Expect(err).To(Equal(db.ErrAlreadyExists{Type: "workspace", ID: workspace}))
			})
		})
	})

	Describe("Creating a Job", func() {
		BeforeEach(resetDb)

		Context("With an empty job table", func() {
			id := 0
			JustBeforeEach(func() {
				id, err = wf.CreateJob(ctx, workspace, jobToCreate)
				Expect(err).NotTo(HaveOccurred())
			})
			It("should create a pending job with the returned id", func() {
				job, err := wf.Job(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(job.ItemID).To(Equal(jobToCreate.ItemID))
				Expect(job.Status).To(Equal(common.StatusPENDING))
				Expect(job.RetryCountDown).To(Equal(jobToCreate.RetryCount))
				Expect(job.Data).To(Equal(jobToCreate.Data))
			})
			It("should create the assets", func() {
				assets, err := wf.Assets(ctx, id, "", 0, -1)
				Expect(err).NotTo(HaveOccurred())
				Expect(len(assets)).To(Equal(len(jobToCreate.Assets)))
				for i, asset := range assets {
					Expect(asset.Status).To(Equal(common.StatusPENDING))
					Expect(asset.Data).To(Equal(jobToCreate.Assets[i]))
				}
			})
			It("should queue the job with the asset ids", func() {
				toFetch := lastPublished()
				Expect(toFetch.ID).To(Equal(id))
				Expect(toFetch.Workspace).To(Equal(workspace))
				Expect(len(toFetch.Assets)).To(Equal(len(jobToCreate.Assets)))
				for _, asset := range toFetch.Assets {
					Expect(asset.ID).NotTo(BeZero())
					Expect(asset.JobID).To(Equal(id))
				}
			})
		})

		Context("With a job that already exists", func() {
			JustBeforeEach(func() {
				_, err = wf.CreateJob(ctx, workspace, jobToCreate)
				Expect(err).NotTo(HaveOccurred())
				_, err = wf.CreateJob(ctx, workspace, jobToCreate)
			})
			It("should return an AlreadyExists error", func() {
				Expect(err).To(Equal(db.ErrAlreadyExists{Type: "job", ID: jobToCreate.ItemID}))
			})
		})

		Context("With no assets", func() {
			JustBeforeEach(func() {
				job := jobToCreate
				job.Assets = nil
				_, err = wf.CreateJob(ctx, workspace, job)
			})
			It("should refuse the job", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Updating the job data", func() {
		var jobID int

		BeforeEach(func() {
			resetDb()
			jobID, err = wf.CreateJob(ctx, workspace, jobToCreate)
			Expect(err).NotTo(HaveOccurred())
		})

		Context("With an existing job", func() {
			JustBeforeEach(func() {
				data := jobToCreate.Data
				data.AssetKeys = []string{"B02"}
				data.Extra = map[string]string{"campaign": "s2-2020-reprocessing"}
				err = wf.UpdateJobData(ctx, jobID, data)
				Expect(err).NotTo(HaveOccurred())
			})
			It("should record the new attributes", func() {
				job, err := wf.Job(ctx, jobID)
				Expect(err).NotTo(HaveOccurred())
				Expect(job.Data.AssetKeys).To(Equal([]string{"B02"}))
				Expect(job.Data.Extra).To(Equal(map[string]string{"campaign": "s2-2020-reprocessing"}))
				Expect(job.Data.UUID).To(Equal(jobToCreate.Data.UUID))
				Expect(job.Data.Endpoint).To(Equal(jobToCreate.Data.Endpoint))
			})
		})

		Context("With an unknown job", func() {
			JustBeforeEach(func() {
				err = wf.UpdateJobData(ctx, jobID+1000, jobToCreate.Data)
			})
			It("should return a NotFound error", func() {
				Expect(errors.As(err, &db.ErrNotFound{})).To(BeTrue())
			})
		})
	})

	Describe("Handling results", func() {
		var jobID int
		var assets []db.AssetFetch

		BeforeEach(func() {
			resetDb()
			jobID, err = wf.CreateJob(ctx, workspace, jobToCreate)
			Expect(err).NotTo(HaveOccurred())
			assets, err = wf.Assets(ctx, jobID, "", 0, -1)
			Expect(err).NotTo(HaveOccurred())
			jobQueue.messages = nil
		})

		Context("With a successful asset result", func() {
			JustBeforeEach(func() {
				err = wf.ResultHandler(ctx, common.Result{
					Type:   common.ResultTypeAsset,
					ID:     assets[0].ID,
					Status: common.StatusDONE,
					URI:    "gs://fetched/test/B02.tif",
				})
				Expect(err).NotTo(HaveOccurred())
			})
			It("should record the status and the uri", func() {
				asset, err := wf.Asset(ctx, assets[0].ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(asset.Status).To(Equal(common.StatusDONE))
				Expect(asset.URI).To(Equal("gs://fetched/test/B02.tif"))
			})
		})

		Context("With a successful job result", func() {
			JustBeforeEach(func() {
				err = wf.ResultHandler(ctx, common.Result{Type: common.ResultTypeJob, ID: jobID, Status: common.StatusDONE})
				Expect(err).NotTo(HaveOccurred())
			})
			It("should finish the job", func() {
				job, err := wf.Job(ctx, jobID)
				Expect(err).NotTo(HaveOccurred())
				Expect(job.Status).To(Equal(common.StatusDONE))
			})
		})

		Context("With a retriable job result and retries left", func() {
			JustBeforeEach(func() {
				err = wf.ResultHandler(ctx, common.Result{
					Type:    common.ResultTypeAsset,
					ID:      assets[0].ID,
					Status:  common.StatusDONE,
					URI:     "gs://fetched/test/B02.tif",
				})
				Expect(err).NotTo(HaveOccurred())
				err = wf.ResultHandler(ctx, common.Result{
					Type:    common.ResultTypeJob,
					ID:      jobID,
					Status:  common.StatusRETRY,
					Message: "catalog unavailable",
				})
				Expect(err).NotTo(HaveOccurred())
			})
			It("should requeue the job", func() {
				job, err := wf.Job(ctx, jobID)
				Expect(err).NotTo(HaveOccurred())
				Expect(job.Status).To(Equal(common.StatusPENDING))
				Expect(job.RetryCountDown).To(Equal(jobToCreate.RetryCount - 1))
			})
			It("should only requeue the assets that are not fetched", func() {
				toFetch := lastPublished()
				Expect(len(toFetch.Assets)).To(Equal(1))
				Expect(toFetch.Assets[0].ID).To(Equal(assets[1].ID))
			})
		})

		Context("With a retriable job result and no retry left", func() {
			JustBeforeEach(func() {
				for i := 0; i < jobToCreate.RetryCount; i++ {
					err = wf.ResultHandler(ctx, common.Result{Type: common.ResultTypeJob, ID: jobID, Status: common.StatusRETRY})
					Expect(err).NotTo(HaveOccurred())
				}
				err = wf.ResultHandler(ctx, common.Result{Type: common.ResultTypeJob, ID: jobID, Status: common.StatusRETRY})
				Expect(err).NotTo(HaveOccurred())
			})
			It("should leave the job in RETRY for a manual retry", func() {
				job, err := wf.Job(ctx, jobID)
				Expect(err).NotTo(HaveOccurred())
				Expect(job.Status).To(Equal(common.StatusRETRY))
			})
		})

		Context("With a failed job result", func() {
			JustBeforeEach(func() {
				err = wf.ResultHandler(ctx, common.Result{
					Type:    common.ResultTypeJob,
					ID:      jobID,
					Status:  common.StatusFAILED,
					Message: "not a tiff",
				})
				Expect(err).NotTo(HaveOccurred())
			})
			It("should fail the job and its pending assets", func() {
				job, err := wf.Job(ctx, jobID)
				Expect(err).NotTo(HaveOccurred())
				Expect(job.Status).To(Equal(common.StatusFAILED))
				Expect(job.Message).To(Equal("not a tiff"))
				assets, err := wf.Assets(ctx, jobID, "", 0, -1)
				Expect(err).NotTo(HaveOccurred())
				for _, asset := range assets {
					Expect(asset.Status).To(Equal(common.StatusFAILED))
				}
			})
		})
	})

	Describe("Retrying a job manually", func() {
		var jobID int

		BeforeEach(func() {
			resetDb()
			jobID, err = wf.CreateJob(ctx, workspace, jobToCreate)
			Expect(err).NotTo(HaveOccurred())
			jobQueue.messages = nil
		})

		Context("When the job is in RETRY", func() {
			var done bool
			JustBeforeEach(func() {
				_, err = wf.UpdateJobStatus(ctx, jobID, common.StatusRETRY, nil, true)
				Expect(err).NotTo(HaveOccurred())
				emptyMessage := ""
				done, err = wf.UpdateJobStatus(ctx, jobID, common.StatusPENDING, &emptyMessage, false)
				Expect(err).NotTo(HaveOccurred())
			})
			It("should requeue the job", func() {
				Expect(done).To(BeTrue())
				toFetch := lastPublished()
				Expect(toFetch.ID).To(Equal(jobID))
			})
		})

		Context("When the job is already DONE", func() {
			var done bool
			JustBeforeEach(func() {
				_, err = wf.UpdateJobStatus(ctx, jobID, common.StatusDONE, nil, false)
				Expect(err).NotTo(HaveOccurred())
				emptyMessage := ""
				done, err = wf.UpdateJobStatus(ctx, jobID, common.StatusPENDING, &emptyMessage, false)
				Expect(err).NotTo(HaveOccurred())
			})
			It("should refuse to requeue the job", func() {
				Expect(done).To(BeFalse())
				Expect(jobQueue.messages).To(BeEmpty())
			})
		})
	})
})
