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

type RawVehicle struct {
	ID          int64
	Location    string
	Vin         string
	Stock       string
	Make        string
	Model       string
	Year        int64
	Price       float64
	VehicleType string
	Status      string
	Url         string
	ImportDate  string
}

type NormalizedVehicle struct {
	ID          int64
	Location    string
	Vin         string
	Stock       string
	Make        string
	Model       string
	Year        int64
	Price       float64
	VehicleType string
	Condition   string
	Status      string
	OnLot       bool
	Url         string
	RawRowID    int64
	ScanCount   int64
	LastSeen    string
	ImportDate  string
}

const createRawVehicle = `
INSERT INTO raw_vehicle_data (location, vin, stock, make, model, year, price, vehicle_type, status, url, import_date)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateRawVehicleParams struct {
	Location    string
	Vin         string
	Stock       string
	Make        string
	Model       string
	Year        int64
	Price       float64
	VehicleType string
	Status      string
	Url         string
	ImportDate  string
}

func (q *Queries) CreateRawVehicle(ctx context.Context, arg CreateRawVehicleParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, createRawVehicle,
		arg.Location, arg.Vin, arg.Stock, arg.Make, arg.Model, arg.Year,
		arg.Price, arg.VehicleType, arg.Status, arg.Url, arg.ImportDate,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const upsertNormalizedVehicle = `
INSERT INTO normalized_vehicle_data (location, vin, stock, make, model, year, price, vehicle_type, condition, status, on_lot, url, raw_row_id, last_seen, import_date)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (location, vin) DO UPDATE SET
    stock = excluded.stock,
    make = excluded.make,
    model = excluded.model,
    year = excluded.year,
    price = excluded.price,
    vehicle_type = excluded.vehicle_type,
    condition = excluded.condition,
    status = excluded.status,
    on_lot = excluded.on_lot,
    url = excluded.url,
    raw_row_id = excluded.raw_row_id,
    scan_count = scan_count + (CASE WHEN last_seen < excluded.last_seen THEN 1 ELSE 0 END),
    last_seen = excluded.last_seen
`

type UpsertNormalizedVehicleParams struct {
	Location    string
	Vin         string
	Stock       string
	Make        string
	Model       string
	Year        int64
	Price       float64
	VehicleType string
	Condition   string
	Status      string
	OnLot       bool
	Url         string
	RawRowID    int64
	LastSeen    string
	ImportDate  string
}

func (q *Queries) UpsertNormalizedVehicle(ctx context.Context, arg UpsertNormalizedVehicleParams) error {
	_, err := q.db.ExecContext(ctx, upsertNormalizedVehicle,
		arg.Location, arg.Vin, arg.Stock, arg.Make, arg.Model, arg.Year,
		arg.Price, arg.VehicleType, arg.Condition, arg.Status, arg.OnLot,
		arg.Url, arg.RawRowID, arg.LastSeen, arg.ImportDate,
	)
	return err
}

const markOffLotExcept = `
UPDATE normalized_vehicle_data
SET on_lot = 0
WHERE location = ? AND last_seen < ?
`

// MarkOffLotStale clears the on-lot flag for vehicles that were not
// seen by the latest scan of a location.
func (q *Queries) MarkOffLotStale(ctx context.Context, location string, day string) error {
	_, err := q.db.ExecContext(ctx, markOffLotExcept, location, day)
	return err
}

const getNormalizedVehicle = `
SELECT id, location, vin, stock, make, model, year, price, vehicle_type, condition, status, on_lot, url, raw_row_id, scan_count, last_seen, import_date
FROM normalized_vehicle_data
WHERE location = ? AND vin = ?
`

func (q *Queries) GetNormalizedVehicle(ctx context.Context, location, vin string) (NormalizedVehicle, error) {
	row := q.db.QueryRowContext(ctx, getNormalizedVehicle, location, vin)
	var v NormalizedVehicle
	err := scanNormalized(row.Scan, &v)
	return v, err
}

const listOnLot = `
SELECT id, location, vin, stock, make, model, year, price, vehicle_type, condition, status, on_lot, url, raw_row_id, scan_count, last_seen, import_date
FROM normalized_vehicle_data
WHERE location = ? AND on_lot = 1
ORDER BY vin
`

func (q *Queries) ListOnLot(ctx context.Context, location string) ([]NormalizedVehicle, error) {
	rows, err := q.db.QueryContext(ctx, listOnLot, location)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNormalized(rows)
}

const listNormalizedByLocation = `
SELECT id, location, vin, stock, make, model, year, price, vehicle_type, condition, status, on_lot, url, raw_row_id, scan_count, last_seen, import_date
FROM normalized_vehicle_data
WHERE location = ?
ORDER BY vin
`

func (q *Queries) ListNormalizedByLocation(ctx context.Context, location string) ([]NormalizedVehicle, error) {
	rows, err := q.db.QueryContext(ctx, listNormalizedByLocation, location)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNormalized(rows)
}

func scanNormalized(scan func(...interface{}) error, v *NormalizedVehicle) error {
	return scan(
		&v.ID, &v.Location, &v.Vin, &v.Stock, &v.Make, &v.Model, &v.Year,
		&v.Price, &v.VehicleType, &v.Condition, &v.Status, &v.OnLot,
		&v.Url, &v.RawRowID, &v.ScanCount, &v.LastSeen, &v.ImportDate,
	)
}

func collectNormalized(rows *sql.Rows) ([]NormalizedVehicle, error) {
	var out []NormalizedVehicle
	for rows.Next() {
		var v NormalizedVehicle
		err := scanNormalized(rows.Scan, &v)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const countRawSince = `
SELECT COUNT(*) FROM raw_vehicle_data WHERE import_date >= ?
`

func (q *Queries) CountRawSince(ctx context.Context, day string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countRawSince, day).Scan(&n)
	return n, err
}

const countNormalizedSince = `
SELECT COUNT(*) FROM normalized_vehicle_data WHERE last_seen >= ?
`

func (q *Queries) CountNormalizedSince(ctx context.Context, day string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countNormalizedSince, day).Scan(&n)
	return n, err
}

const countNormalized = `
SELECT COUNT(*) FROM normalized_vehicle_data
`

func (q *Queries) CountNormalized(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countNormalized).Scan(&n)
	return n, err
}

const listOrphanedNormalized = `
SELECT n.id, n.location, n.vin, n.stock, n.make, n.model, n.year, n.price, n.vehicle_type, n.condition, n.status, n.on_lot, n.url, n.raw_row_id, n.scan_count, n.last_seen, n.import_date
FROM normalized_vehicle_data n
WHERE NOT EXISTS (
    SELECT 1 FROM raw_vehicle_data r
    WHERE r.location = n.location AND r.vin = n.vin
)
`

// ListOrphanedNormalized returns normalized rows with no raw sighting
// backing them, which should be impossible given the ingest path.
func (q *Queries) ListOrphanedNormalized(ctx context.Context) ([]NormalizedVehicle, error) {
	rows, err := q.db.QueryContext(ctx, listOrphanedNormalized)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNormalized(rows)
}

const listVinStockMismatches = `
SELECT n.location, n.vin, n.stock, r.stock
FROM normalized_vehicle_data n
JOIN raw_vehicle_data r ON r.id = n.raw_row_id
WHERE n.stock != r.stock
`

type VinStockMismatch struct {
	Location        string
	Vin             string
	NormalizedStock string
	RawStock        string
}

func (q *Queries) ListVinStockMismatches(ctx context.Context) ([]VinStockMismatch, error) {
	rows, err := q.db.QueryContext(ctx, listVinStockMismatches)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VinStockMismatch
	for rows.Next() {
		var m VinStockMismatch
		err := rows.Scan(&m.Location, &m.Vin, &m.NormalizedStock, &m.RawStock)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const listRawMissingNormalization = `
SELECT DISTINCT r.location, r.vin
FROM raw_vehicle_data r
WHERE r.import_date >= ?
AND NOT EXISTS (
    SELECT 1 FROM normalized_vehicle_data n
    WHERE n.location = r.location AND n.vin = r.vin
)
`

type LocationVin struct {
	Location string
	Vin      string
}

func (q *Queries) ListRawMissingNormalization(ctx context.Context, sinceDay string) ([]LocationVin, error) {
	rows, err := q.db.QueryContext(ctx, listRawMissingNormalization, sinceDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LocationVin
	for rows.Next() {
		var lv LocationVin
		err := rows.Scan(&lv.Location, &lv.Vin)
		if err != nil {
			return nil, err
		}
		out = append(out, lv)
	}
	return out, rows.Err()
}

const listFutureDatedNormalized = `
SELECT id, location, vin, stock, make, model, year, price, vehicle_type, condition, status, on_lot, url, raw_row_id, scan_count, last_seen, import_date
FROM normalized_vehicle_data
WHERE last_seen > ? OR import_date > ?
`

func (q *Queries) ListFutureDatedNormalized(ctx context.Context, today string) ([]NormalizedVehicle, error) {
	rows, err := q.db.QueryContext(ctx, listFutureDatedNormalized, today, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNormalized(rows)
}

const listLastSeenBeforeImport = `
SELECT id, location, vin, stock, make, model, year, price, vehicle_type, condition, status, on_lot, url, raw_row_id, scan_count, last_seen, import_date
FROM normalized_vehicle_data
WHERE last_seen < import_date
`

func (q *Queries) ListLastSeenBeforeImport(ctx context.Context) ([]NormalizedVehicle, error) {
	rows, err := q.db.QueryContext(ctx, listLastSeenBeforeImport)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNormalized(rows)
}

const listNormalizedSample = `
SELECT n.id, n.location, n.vin, n.stock, n.make, n.model, n.year, n.price, n.vehicle_type, n.condition, n.status, n.on_lot, n.url, n.raw_row_id, n.scan_count, n.last_seen, n.import_date,
       r.vehicle_type, r.status, r.price
FROM normalized_vehicle_data n
JOIN raw_vehicle_data r ON r.id = n.raw_row_id
ORDER BY RANDOM()
LIMIT ?
`

type NormalizedSample struct {
	Normalized     NormalizedVehicle
	RawVehicleType string
	RawStatus      string
	RawPrice       float64
}

// ListNormalizedSample joins each sampled normalized row with the raw
// row it was derived from, for re-derivation spot checks.
func (q *Queries) ListNormalizedSample(ctx context.Context, limit int64) ([]NormalizedSample, error) {
	rows, err := q.db.QueryContext(ctx, listNormalizedSample, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NormalizedSample
	for rows.Next() {
		var s NormalizedSample
		v := &s.Normalized
		err := rows.Scan(
			&v.ID, &v.Location, &v.Vin, &v.Stock, &v.Make, &v.Model, &v.Year,
			&v.Price, &v.VehicleType, &v.Condition, &v.Status, &v.OnLot,
			&v.Url, &v.RawRowID, &v.ScanCount, &v.LastSeen, &v.ImportDate,
			&s.RawVehicleType, &s.RawStatus, &s.RawPrice,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const listLocationsSince = `
SELECT location, MAX(import_date)
FROM raw_vehicle_data
WHERE import_date >= ?
GROUP BY location
`

type LocationActivity struct {
	Location   string
	LastImport string
}

func (q *Queries) ListLocationsSince(ctx context.Context, sinceDay string) ([]LocationActivity, error) {
	rows, err := q.db.QueryContext(ctx, listLocationsSince, sinceDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LocationActivity
	for rows.Next() {
		var a LocationActivity
		err := rows.Scan(&a.Location, &a.LastImport)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const listScanCountsByLocation = `
SELECT vin, scan_count FROM normalized_vehicle_data WHERE location = ?
`

type VinScanCount struct {
	Vin       string
	ScanCount int64
}

func (q *Queries) ListScanCountsByLocation(ctx context.Context, location string) ([]VinScanCount, error) {
	rows, err := q.db.QueryContext(ctx, listScanCountsByLocation, location)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VinScanCount
	for rows.Next() {
		var c VinScanCount
		err := rows.Scan(&c.Vin, &c.ScanCount)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
