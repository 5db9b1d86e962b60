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

const createSighting = `
INSERT OR IGNORE INTO vin_history (dealership, vin, scan_date, raw_row_ref)
VALUES (?, ?, ?, ?)
`

type CreateSightingParams struct {
	Dealership string
	Vin        string
	ScanDate   string
	RawRowRef  int64
}

// CreateSighting is a no-op for a duplicate (dealership, vin, scan_date).
func (q *Queries) CreateSighting(ctx context.Context, arg CreateSightingParams) error {
	_, err := q.db.ExecContext(ctx, createSighting,
		arg.Dealership, arg.Vin, arg.ScanDate, arg.RawRowRef,
	)
	return err
}

const getSightingRef = `
SELECT raw_row_ref FROM vin_history
WHERE dealership = ? AND vin = ? AND scan_date = ?
`

// GetSightingRef returns the raw inventory row a sighting was scraped
// from, or 0 when the sighting has no provenance.
func (q *Queries) GetSightingRef(ctx context.Context, dealership, vin, day string) (int64, error) {
	var ref int64
	err := q.db.QueryRowContext(ctx, getSightingRef, dealership, vin, day).Scan(&ref)
	return ref, err
}

const createRemoval = `
INSERT OR IGNORE INTO vin_removals (dealership, vin, removed_date)
VALUES (?, ?, ?)
`

func (q *Queries) CreateRemoval(ctx context.Context, dealership, vin, removedDate string) error {
	_, err := q.db.ExecContext(ctx, createRemoval, dealership, vin, removedDate)
	return err
}

const listLastScans = `
SELECT vin, MAX(scan_date)
FROM vin_history
WHERE dealership = ? AND scan_date >= ?
GROUP BY vin
`

type VinLastScan struct {
	Vin      string
	LastScan string
}

// ListLastScans returns the latest sighting per VIN inside the
// freshness window.
func (q *Queries) ListLastScans(ctx context.Context, dealership, sinceDay string) ([]VinLastScan, error) {
	rows, err := q.db.QueryContext(ctx, listLastScans, dealership, sinceDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VinLastScan
	for rows.Next() {
		var s VinLastScan
		err := rows.Scan(&s.Vin, &s.LastScan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const listLastRemovals = `
SELECT vin, MAX(removed_date)
FROM vin_removals
WHERE dealership = ?
GROUP BY vin
`

func (q *Queries) ListLastRemovals(ctx context.Context, dealership string) ([]VinLastScan, error) {
	rows, err := q.db.QueryContext(ctx, listLastRemovals, dealership)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VinLastScan
	for rows.Next() {
		var s VinLastScan
		err := rows.Scan(&s.Vin, &s.LastScan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const countHistory = `
SELECT COUNT(*) FROM vin_history
`

func (q *Queries) CountHistory(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countHistory).Scan(&n)
	return n, err
}

const listSightingCounts = `
SELECT vin, COUNT(*)
FROM vin_history
WHERE dealership = ?
GROUP BY vin
`

type VinSightingCount struct {
	Vin   string
	Count int64
}

func (q *Queries) ListSightingCounts(ctx context.Context, dealership string) ([]VinSightingCount, error) {
	rows, err := q.db.QueryContext(ctx, listSightingCounts, dealership)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VinSightingCount
	for rows.Next() {
		var c VinSightingCount
		err := rows.Scan(&c.Vin, &c.Count)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const listScanDates = `
SELECT scan_date FROM vin_history
WHERE dealership = ? AND vin = ?
ORDER BY scan_date
`

func (q *Queries) ListScanDates(ctx context.Context, dealership, vin string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listScanDates, dealership, vin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		err := rows.Scan(&d)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const listDealerships = `
SELECT DISTINCT dealership FROM vin_history
`

func (q *Queries) ListDealerships(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listDealerships)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		err := rows.Scan(&d)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const listFutureScanDates = `
SELECT dealership, vin, scan_date FROM vin_history WHERE scan_date > ?
`

type Sighting struct {
	Dealership string
	Vin        string
	ScanDate   string
}

func (q *Queries) ListFutureScanDates(ctx context.Context, today string) ([]Sighting, error) {
	rows, err := q.db.QueryContext(ctx, listFutureScanDates, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		var s Sighting
		err := rows.Scan(&s.Dealership, &s.Vin, &s.ScanDate)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
