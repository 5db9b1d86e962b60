package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type OrderJob struct {
	ID               string
	Dealership       string
	Mode             string
	TemplateType     string
	Requested        string
	Status           string
	ArtifactPath     string
	TotalVehicles    int64
	NewVehicles      int64
	QrCodesGenerated int64
	Warnings         string
	Errors           string
	CreatedAt        string
	FinishedAt       string
}

const createOrderJob = `
INSERT INTO order_jobs (id, dealership, mode, template_type, requested, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`

type CreateOrderJobParams struct {
	ID           string
	Dealership   string
	Mode         string
	TemplateType string
	Requested    string
	CreatedAt    string
}

func (q *Queries) CreateOrderJob(ctx context.Context, arg CreateOrderJobParams) error {
	_, err := q.db.ExecContext(ctx, createOrderJob,
		arg.ID, arg.Dealership, arg.Mode, arg.TemplateType, arg.Requested, arg.CreatedAt)
	return err
}

const finishOrderJob = `
UPDATE order_jobs
SET status = ?,
    artifact_path = ?,
    total_vehicles = ?,
    new_vehicles = ?,
    qr_codes_generated = ?,
    warnings = ?,
    errors = ?,
    finished_at = ?
WHERE id = ?
`

type FinishOrderJobParams struct {
	Status           string
	ArtifactPath     string
	TotalVehicles    int64
	NewVehicles      int64
	QrCodesGenerated int64
	Warnings         string
	Errors           string
	FinishedAt       string
	ID               string
}

func (q *Queries) FinishOrderJob(ctx context.Context, arg FinishOrderJobParams) error {
	_, err := q.db.ExecContext(ctx, finishOrderJob,
		arg.Status, arg.ArtifactPath, arg.TotalVehicles, arg.NewVehicles,
		arg.QrCodesGenerated, arg.Warnings, arg.Errors, arg.FinishedAt, arg.ID)
	return err
}

const getOrderJob = `
SELECT id, dealership, mode, template_type, requested, status, artifact_path,
    total_vehicles, new_vehicles, qr_codes_generated, warnings, errors,
    created_at, finished_at
FROM order_jobs
WHERE id = ?
`

func (q *Queries) GetOrderJob(ctx context.Context, id string) (OrderJob, error) {
	row := q.db.QueryRowContext(ctx, getOrderJob, id)
	var j OrderJob
	err := row.Scan(&j.ID, &j.Dealership, &j.Mode, &j.TemplateType, &j.Requested,
		&j.Status, &j.ArtifactPath, &j.TotalVehicles, &j.NewVehicles,
		&j.QrCodesGenerated, &j.Warnings, &j.Errors, &j.CreatedAt, &j.FinishedAt)
	return j, err
}

const listOrderJobs = `
SELECT id, dealership, mode, template_type, requested, status, artifact_path,
    total_vehicles, new_vehicles, qr_codes_generated, warnings, errors,
    created_at, finished_at
FROM order_jobs
ORDER BY created_at DESC
LIMIT ?
`

func (q *Queries) ListOrderJobs(ctx context.Context, limit int64) ([]OrderJob, error) {
	rows, err := q.db.QueryContext(ctx, listOrderJobs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderJob
	for rows.Next() {
		var j OrderJob
		err = rows.Scan(&j.ID, &j.Dealership, &j.Mode, &j.TemplateType, &j.Requested,
			&j.Status, &j.ArtifactPath, &j.TotalVehicles, &j.NewVehicles,
			&j.QrCodesGenerated, &j.Warnings, &j.Errors, &j.CreatedAt, &j.FinishedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const countJobsByStatusSince = `
SELECT status, COUNT(*)
FROM order_jobs
WHERE created_at >= ?
GROUP BY status
`

type StatusCount struct {
	Status string
	Count  int64
}

func (q *Queries) CountJobsByStatusSince(ctx context.Context, since string) ([]StatusCount, error) {
	rows, err := q.db.QueryContext(ctx, countJobsByStatusSince, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var c StatusCount
		err = rows.Scan(&c.Status, &c.Count)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
