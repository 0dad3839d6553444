package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/spatialops/stac-fetcher/common"
	db "github.com/spatialops/stac-fetcher/interface/database"
)

// pgInterface allows to use either a sql.DB or a sql.Tx
type pgInterface interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// BackendTx implements FetchTxBackend
type BackendTx struct {
	*sql.Tx
	Backend
}

// BackendDB implements FetchDBBackend
type BackendDB struct {
	*sql.DB
	Backend
}

// Backend implements FetchBackend
type Backend struct {
	pgInterface
}

/* http://www.postgresql.org/docs/9.3/static/errcodes-appendix.html */
const (
	noError             = "00000"
	connectionFailure   = "08006"
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"

	notPqError = "X"
)

func pqErrorCode(err error) pq.ErrorCode {
	if err == nil {
		return noError
	}
	var pqerr *pq.Error
	if errors.As(err, &pqerr) {
		return pqerr.Code
	}
	return notPqError
}

// StartTransaction implements FetchDBBackend
func (bdb BackendDB) StartTransaction(ctx context.Context) (db.FetchTxBackend, error) {
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return BackendTx{}, err
	}
	return BackendTx{tx, Backend{pgInterface: tx}}, nil
}

// Rollback overloads sql.Tx.Rollback to be idempotent
func (btx BackendTx) Rollback() error {
	err := btx.Tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// New creates a new backend using Postgres
func New(ctx context.Context, dbConnection string) (*BackendDB, error) {
	sqldb, err := sql.Open("postgres", dbConnection)
	if err != nil {
		return nil, fmt.Errorf("sql.open: %w", err)
	}
	return &BackendDB{sqldb, Backend{pgInterface: sqldb}}, nil
}

// CreateTables creates the tables if they do not exist
func (b Backend) CreateTables(ctx context.Context) error {
	if _, err := b.ExecContext(ctx, `
create table if not exists workspace (
	id text primary key
);
create table if not exists job (
	id serial primary key,
	item_id text not null,
	workspace_id text not null references workspace(id) on delete cascade,
	status text not null default 'NEW',
	message text not null default '',
	data jsonb not null default '{}',
	retry_countdown integer not null default 0,
	unique (workspace_id, item_id)
);
create index if not exists job_status_idx on job(status);
create table if not exists asset (
	id serial primary key,
	job_id integer not null references job(id) on delete cascade,
	status text not null default 'NEW',
	message text not null default '',
	uri text not null default '',
	data jsonb not null default '{}'
);
create index if not exists asset_job_idx on asset(job_id);
`); err != nil {
		return fmt.Errorf("CreateTables.exec: %w", err)
	}
	return nil
}

// Workspaces implements FetchBackend
func (b Backend) Workspaces(ctx context.Context, pattern string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if pattern == "" {
		rows, err = b.QueryContext(ctx, "select id from workspace ORDER BY id")
	} else {
		pattern = strings.ReplaceAll(strings.ReplaceAll(strings.ReplaceAll(strings.ReplaceAll(pattern, "_", "\\_"), "%", "\\%"), "*", "%"), "?", "_")
		rows, err = b.QueryContext(ctx, "select id from workspace where id LIKE $1 ORDER BY id", pattern)
	}

	if err != nil {
		return nil, fmt.Errorf("workspaces.QueryContext: %w", err)
	}
	defer rows.Close()
	workspaces := make([]string, 0)
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("workspaces.Scan: %w", err)
		}
		workspaces = append(workspaces, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workspaces.rows.err: %w", err)
	}
	return workspaces, nil
}

// CreateWorkspace implements FetchBackend
func (b Backend) CreateWorkspace(ctx context.Context, workspace string) error {
	_, err := b.ExecContext(ctx, "insert into workspace(id) values($1)", workspace)
	switch pqErrorCode(err) {
	case noError:
		return nil
	case uniqueViolation:
		return db.ErrAlreadyExists{Type: "workspace", ID: workspace}
	default:
		return fmt.Errorf("CreateWorkspace.exec: %w", err)
	}
}

// DeleteWorkspace implements FetchBackend
func (b Backend) DeleteWorkspace(ctx context.Context, workspace string) error {
	if _, err := b.ExecContext(ctx, "delete from workspace where id = $1", workspace); err != nil {
		return fmt.Errorf("DeleteWorkspace.exec: %w", err)
	}
	return nil
}

func (b Backend) queryStatus(ctx context.Context, query string, arg interface{}) (db.Status, error) {
	s := db.Status{}
	rows, err := b.QueryContext(ctx, query, arg)
	if err != nil {
		return s, fmt.Errorf("status.QueryContext: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status common.Status
		var nb int64
		if err := rows.Scan(&status, &nb); err != nil {
			return s, fmt.Errorf("status.Scan: %w", err)
		}
		s.Set(status, nb)
	}
	if err := rows.Err(); err != nil {
		return s, fmt.Errorf("status.rows.err: %w", err)
	}
	return s, nil
}

// JobsStatus implements FetchBackend
func (b Backend) JobsStatus(ctx context.Context, workspace string) (db.Status, error) {
	return b.queryStatus(ctx, "select status, count(status) from job where workspace_id=$1 group by status", workspace)
}

// CreateJob implements FetchBackend
func (b Backend) CreateJob(ctx context.Context, itemID, workspace string, status common.Status, data common.JobAttrs, retryCount int) (int, error) {
	jobID := 0
	err := b.QueryRowContext(ctx, "insert into job(item_id,workspace_id,status,data,retry_countdown) values($1,$2,$3,$4,$5) returning id",
		itemID, workspace, status, data, retryCount).Scan(&jobID)
	switch pqErrorCode(err) {
	case noError:
		return jobID, nil
	case uniqueViolation:
		return 0, db.ErrAlreadyExists{Type: "job", ID: workspace + "/" + itemID}
	case foreignKeyViolation:
		return 0, db.ErrNotFound{Type: "workspace", ID: workspace}
	default:
		return 0, fmt.Errorf("CreateJob: %w", err)
	}
}

// Job implements FetchBackend
func (b Backend) Job(ctx context.Context, id int) (db.Job, error) {
	job := db.Job{}
	job.ID = id
	if err := b.QueryRowContext(ctx, "select item_id,workspace_id,status,message,data,retry_countdown from job where id=$1", id).Scan(
		&job.ItemID, &job.Workspace, &job.Status, &job.Message, &job.Data, &job.RetryCountDown); err != nil {
		if err == sql.ErrNoRows {
			return job, db.ErrNotFound{Type: "job", ID: fmt.Sprintf("%d", id)}
		}
		return job, fmt.Errorf("Job.QueryRowContext: %w", err)
	}
	return job, nil
}

// Jobs implements FetchBackend
func (b Backend) Jobs(ctx context.Context, workspace, status string, page, limit int) ([]db.Job, error) {
	jobs := make([]db.Job, 0)
	query := "select id,item_id,workspace_id,status,message,data,retry_countdown from job"
	var wheres []string
	var args []interface{}
	if workspace != "" {
		args = append(args, workspace)
		wheres = append(wheres, fmt.Sprintf("workspace_id=$%d", len(args)))
	}
	if status != "" {
		args = append(args, status)
		wheres = append(wheres, fmt.Sprintf("status=$%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " where " + strings.Join(wheres, " and ")
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}
	if page > 0 {
		query += " OFFSET " + strconv.Itoa(page*limit)
	}
	rows, err := b.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobs.QueryContext: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		j := db.Job{}
		if err := rows.Scan(&j.ID, &j.ItemID, &j.Workspace, &j.Status, &j.Message, &j.Data, &j.RetryCountDown); err != nil {
			return nil, fmt.Errorf("jobs.Scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs.rows.err: %w", err)
	}
	return jobs, nil
}

// UpdateJob implements FetchBackend
func (b Backend) UpdateJob(ctx context.Context, id int, status common.Status, message *string) error {
	var err error
	var res sql.Result
	var retryCountdown string
	if status == common.StatusPENDING {
		retryCountdown = ", retry_countdown=retry_countdown-1"
	}
	if message != nil {
		res, err = b.ExecContext(ctx, "update job set status=$1, message=$2"+retryCountdown+" where id=$3", status, *message, id)
	} else {
		res, err = b.ExecContext(ctx, "update job set status=$1"+retryCountdown+" where id=$2", status, id)
	}
	if err != nil {
		return fmt.Errorf("updateJob: %w", err)
	}
	if nb, _ := res.RowsAffected(); nb == 0 {
		return db.ErrNotFound{Type: "job", ID: fmt.Sprintf("%d", id)}
	}
	return nil
}

// UpdateJobAttrs implements FetchBackend
func (b Backend) UpdateJobAttrs(ctx context.Context, id int, data common.JobAttrs) error {
	res, err := b.ExecContext(ctx, "update job set data=$1 where id=$2", data, id)
	if err != nil {
		return fmt.Errorf("updateJobAttrs: %w", err)
	}
	if nb, _ := res.RowsAffected(); nb == 0 {
		return db.ErrNotFound{Type: "job", ID: fmt.Sprintf("%d", id)}
	}
	return nil
}

// JobId implements FetchBackend
func (b Backend) JobId(ctx context.Context, workspace, itemID string) (int, error) {
	id := 0
	if err := b.QueryRowContext(ctx, "select id from job where workspace_id=$1 and item_id=$2", workspace, itemID).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return 0, db.ErrNotFound{Type: "job", ID: workspace + "/" + itemID}
		}
		return 0, fmt.Errorf("JobId.QueryRowContext: %w", err)
	}
	return id, nil
}

// AssetsStatus implements FetchBackend
func (b Backend) AssetsStatus(ctx context.Context, jobID int) (db.Status, error) {
	return b.queryStatus(ctx, "select status, count(status) from asset where job_id=$1 group by status", jobID)
}

// CreateAsset implements FetchBackend
func (b Backend) CreateAsset(ctx context.Context, jobID int, status common.Status, data common.AssetAttrs) (int, error) {
	assetID := 0
	err := b.QueryRowContext(ctx, "insert into asset(job_id,status,data) values($1,$2,$3) returning id",
		jobID, status, data).Scan(&assetID)
	switch pqErrorCode(err) {
	case noError:
		return assetID, nil
	case foreignKeyViolation:
		return 0, db.ErrNotFound{Type: "job", ID: fmt.Sprintf("%d", jobID)}
	default:
		return 0, fmt.Errorf("CreateAsset: %w", err)
	}
}

// Asset implements FetchBackend
func (b Backend) Asset(ctx context.Context, id int) (db.AssetFetch, error) {
	asset := db.AssetFetch{}
	asset.ID = id
	if err := b.QueryRowContext(ctx, "select job_id,status,message,uri,data from asset where id=$1", id).Scan(
		&asset.JobID, &asset.Status, &asset.Message, &asset.URI, &asset.Data); err != nil {
		if err == sql.ErrNoRows {
			return asset, db.ErrNotFound{Type: "asset", ID: fmt.Sprintf("%d", id)}
		}
		return asset, fmt.Errorf("Asset.QueryRowContext: %w", err)
	}
	return asset, nil
}

// Assets implements FetchBackend
func (b Backend) Assets(ctx context.Context, jobID int, status string, page, limit int) ([]db.AssetFetch, error) {
	assets := make([]db.AssetFetch, 0)
	query := "select id,status,message,uri,data from asset where job_id=$1"
	args := []interface{}{jobID}
	if status != "" {
		args = append(args, status)
		query += " and status=$2"
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}
	if page > 0 {
		query += " OFFSET " + strconv.Itoa(page*limit)
	}
	rows, err := b.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("assets.QueryContext: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		a := db.AssetFetch{}
		a.JobID = jobID
		if err := rows.Scan(&a.ID, &a.Status, &a.Message, &a.URI, &a.Data); err != nil {
			return nil, fmt.Errorf("assets.Scan: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("assets.rows.err: %w", err)
	}
	return assets, nil
}

// UpdateAsset implements FetchBackend
func (b Backend) UpdateAsset(ctx context.Context, id int, status common.Status, message, uri *string) error {
	sets := []string{"status=$1"}
	args := []interface{}{status}
	if message != nil {
		args = append(args, *message)
		sets = append(sets, fmt.Sprintf("message=$%d", len(args)))
	}
	if uri != nil {
		args = append(args, *uri)
		sets = append(sets, fmt.Sprintf("uri=$%d", len(args)))
	}
	args = append(args, id)
	res, err := b.ExecContext(ctx, fmt.Sprintf("update asset set %s where id=$%d", strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return fmt.Errorf("updateAsset: %w", err)
	}
	if nb, _ := res.RowsAffected(); nb == 0 {
		return db.ErrNotFound{Type: "asset", ID: fmt.Sprintf("%d", id)}
	}
	return nil
}

// SetAssetsStatus implements FetchBackend
func (b Backend) SetAssetsStatus(ctx context.Context, ids []int, status common.Status) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := b.ExecContext(ctx, "update asset set status=$1 where id=any($2)", status, pq.Array(ids)); err != nil {
		return fmt.Errorf("setAssetsStatus: %w", err)
	}
	return nil
}
