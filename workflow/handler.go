package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/spatialops/stac-fetcher/common"
	db "github.com/spatialops/stac-fetcher/interface/database"
	"github.com/spatialops/stac-fetcher/service/log"
	"github.com/spatialops/stac-fetcher/stac"
)

func (wf *Workflow) NewHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/sign", wf.SignItemHandler).Methods("POST")
	r.HandleFunc("/workspaces", wf.ListWorkspacesHandler).Methods("GET")
	r.HandleFunc("/workspace/{workspace}", wf.GetWorkspaceStatusHandler).Methods("GET")
	r.HandleFunc("/workspace/{workspace}", wf.CreateWorkspaceHandler).Methods("POST")
	r.HandleFunc("/workspace/{workspace}", wf.DeleteWorkspaceHandler).Methods("DELETE")
	r.HandleFunc("/workspace/{workspace}/job", wf.CreateJobHandler).Methods("POST")
	r.HandleFunc("/workspace/{workspace}/jobs", wf.ListJobsHandler).Methods("GET")
	r.HandleFunc("/workspace/{workspace}/jobs/{status}", wf.ListJobsHandler).Methods("GET")
	r.HandleFunc("/job/{job}", wf.GetJobHandler).Methods("GET")
	r.HandleFunc("/job/{job}/attrs", wf.UpdateJobAttrsHandler).Methods("PUT")
	r.HandleFunc("/job/{job}/assets", wf.ListJobAssetsHandler).Methods("GET")
	r.HandleFunc("/job/{job}/retry", wf.RetryJobHandler).Methods("PUT")
	r.HandleFunc("/job/{job}/fail", wf.FailJobHandler).Methods("PUT")
	r.HandleFunc("/job/{job}/force/{status}", wf.ForceJobStatusHandler).Methods("PUT")
	return r
}

// ResultHandler updates the database from a fetcher result
func (wf *Workflow) ResultHandler(ctx context.Context, result common.Result) error {
	var err error
	switch result.Type {
	case common.ResultTypeAsset:
		var uri *string
		if result.URI != "" {
			uri = &result.URI
		}
		_, err = wf.UpdateAssetStatus(ctx, result.ID, result.Status, &result.Message, uri)
	case common.ResultTypeJob:
		_, err = wf.UpdateJobStatus(ctx, result.ID, result.Status, &result.Message, false)
	default:
		return fmt.Errorf("ResultHandler: unknown result type %s", result.Type)
	}
	return err
}

func ifElse(cond bool, valtrue, valfalse int) int {
	if cond {
		return valtrue
	}
	return valfalse
}

// SignItemHandler signs the asset locators of the posted catalog item
func (wf *Workflow) SignItemHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	item := stac.Item{}
	if err := json.NewDecoder(req.Body).Decode(&item); err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return
	}
	signed, err := wf.SignItem(ctx, &item)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.SignItemHandler: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	json.NewEncoder(w).Encode(signed)
}

// CreateWorkspaceHandler creates a new workspace
func (wf *Workflow) CreateWorkspaceHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if err := wf.CreateWorkspace(ctx, mux.Vars(req)["workspace"]); err != nil {
		if errors.As(err, &db.ErrAlreadyExists{}) {
			w.WriteHeader(409)
			return
		}
		log.Logger(ctx).Sugar().Warnf("create: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.WriteHeader(204)
}

// DeleteWorkspaceHandler deletes the workspace and its jobs
func (wf *Workflow) DeleteWorkspaceHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if err := wf.DeleteWorkspace(ctx, mux.Vars(req)["workspace"]); err != nil {
		log.Logger(ctx).Sugar().Warnf("delete: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.WriteHeader(204)
}

// ListWorkspacesHandler lists the workspaces fitting the pattern query parameter
func (wf *Workflow) ListWorkspacesHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	workspaces, err := wf.Workspaces(ctx, req.URL.Query().Get("pattern"))
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.workspaces: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	json.NewEncoder(w).Encode(workspaces)
}

// GetWorkspaceStatusHandler returns infos on the workspace
func (wf *Workflow) GetWorkspaceStatusHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	jobsStatus, err := wf.JobsStatus(ctx, mux.Vars(req)["workspace"])
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.WriteHeader(200)
	fmt.Fprintf(w, "Jobs:\n  new:     %d\n  pending: %d\n  done:    %d\n  retry:   %d\n  failed:  %d\n  Total:   %d\n",
		jobsStatus.New, jobsStatus.Pending, jobsStatus.Done, jobsStatus.Retry, jobsStatus.Failed,
		jobsStatus.New+jobsStatus.Pending+jobsStatus.Done+jobsStatus.Retry+jobsStatus.Failed)
}

// CreateJobHandler registers a new job and queues it
func (wf *Workflow) CreateJobHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	job := common.JobToCreate{}
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		w.WriteHeader(400)
		return
	}
	nid, err := wf.CreateJob(ctx, mux.Vars(req)["workspace"], job)
	if err != nil {
		if errors.As(err, &db.ErrAlreadyExists{}) {
			w.WriteHeader(409)
			return
		}
		if errors.As(err, &db.ErrNotFound{}) {
			w.WriteHeader(404)
			return
		}
		log.Logger(ctx).Sugar().Warnf("create job: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	fmt.Fprintf(w, "{\"id\":%d}", nid)
}

// ListJobsHandler lists the jobs of the workspace
// If status is provided, filter only the jobs with the given status
func (wf *Workflow) ListJobsHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	limit, err := strconv.Atoi(req.URL.Query().Get("limit"))
	if err != nil {
		limit = -1
	}
	jobs, err := wf.Jobs(ctx, mux.Vars(req)["workspace"], mux.Vars(req)["status"], page, limit)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.jobs: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	json.NewEncoder(w).Encode(jobs)
}

// GetJobHandler retrieves a job
func (wf *Workflow) GetJobHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id, err := strconv.Atoi(mux.Vars(req)["job"])
	if err != nil {
		w.WriteHeader(400)
		return
	}
	job, err := wf.Job(ctx, id)
	if errors.As(err, &db.ErrNotFound{}) {
		w.WriteHeader(404)
		return
	}
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.job: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	json.NewEncoder(w).Encode(job)
}

// UpdateJobAttrsHandler replaces the data of a job
func (wf *Workflow) UpdateJobAttrsHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id, err := strconv.Atoi(mux.Vars(req)["job"])
	if err != nil {
		w.WriteHeader(400)
		return
	}
	data := common.JobAttrs{}
	if err := json.NewDecoder(req.Body).Decode(&data); err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return
	}
	if err := wf.UpdateJobData(ctx, id, data); err != nil {
		if errors.As(err, &db.ErrNotFound{}) {
			w.WriteHeader(404)
			return
		}
		log.Logger(ctx).Sugar().Warnf("wf.UpdateJobAttrsHandler: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.WriteHeader(204)
}

// ListJobAssetsHandler lists the asset fetches of the job
func (wf *Workflow) ListJobAssetsHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id, err := strconv.Atoi(mux.Vars(req)["job"])
	if err != nil {
		w.WriteHeader(400)
		return
	}
	assets, err := wf.Assets(ctx, id, req.URL.Query().Get("status"), 0, -1)
	if errors.As(err, &db.ErrNotFound{}) {
		w.WriteHeader(404)
		return
	}
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.assets: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	json.NewEncoder(w).Encode(assets)
}

// RetryJobHandler retries the job if its status is RETRY
func (wf *Workflow) RetryJobHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id, err := strconv.Atoi(mux.Vars(req)["job"])
	if err != nil {
		w.WriteHeader(400)
		return
	}
	emptyMessage := ""
	done, err := wf.UpdateJobStatus(ctx, id, common.StatusPENDING, &emptyMessage, false)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.RetryJobHandler: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.WriteHeader(ifElse(done, 200, 403))
}

// FailJobHandler tags the job and its pending assets as FAILED
func (wf *Workflow) FailJobHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id, err := strconv.Atoi(mux.Vars(req)["job"])
	if err != nil {
		w.WriteHeader(400)
		return
	}
	done, err := wf.UpdateJobStatus(ctx, id, common.StatusFAILED, nil, false)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.FailJobHandler: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.WriteHeader(ifElse(done, 200, 403))
}

// ForceJobStatusHandler sets the job status whatever its current status is
func (wf *Workflow) ForceJobStatusHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	status, err := common.StatusString(mux.Vars(req)["status"])
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return
	}
	id, err := strconv.Atoi(mux.Vars(req)["job"])
	if err != nil {
		w.WriteHeader(400)
		return
	}
	done, err := wf.UpdateJobStatus(ctx, id, status, nil, true)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.ForceJobStatusHandler: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.WriteHeader(ifElse(done, 200, 403))
}
