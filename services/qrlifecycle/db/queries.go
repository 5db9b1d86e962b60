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

type QRCode struct {
	Vin          string
	Url          string
	QrPath1      string
	QrPath2      string
	Status       string
	FinalUrl     string
	LastVerified string
	CreatedAt    string
}

const upsertQRCode = `
INSERT INTO qr_codes (vin, url, qr_path_1, qr_path_2, status, final_url, last_verified, created_at)
VALUES (?, ?, ?, ?, 'pending', '', '', ?)
ON CONFLICT (vin) DO UPDATE SET
    url = excluded.url,
    qr_path_1 = excluded.qr_path_1,
    qr_path_2 = excluded.qr_path_2,
    status = 'pending',
    final_url = ''
`

type UpsertQRCodeParams struct {
	Vin       string
	Url       string
	QrPath1   string
	QrPath2   string
	CreatedAt string
}

// UpsertQRCode resets the record to pending: regeneration always
// requires a fresh verification before printing.
func (q *Queries) UpsertQRCode(ctx context.Context, arg UpsertQRCodeParams) error {
	_, err := q.db.ExecContext(ctx, upsertQRCode,
		arg.Vin, arg.Url, arg.QrPath1, arg.QrPath2, arg.CreatedAt,
	)
	return err
}

const getQRCode = `
SELECT vin, url, qr_path_1, qr_path_2, status, final_url, last_verified, created_at
FROM qr_codes WHERE vin = ?
`

func (q *Queries) GetQRCode(ctx context.Context, vin string) (QRCode, error) {
	row := q.db.QueryRowContext(ctx, getQRCode, vin)
	var c QRCode
	err := row.Scan(&c.Vin, &c.Url, &c.QrPath1, &c.QrPath2, &c.Status, &c.FinalUrl, &c.LastVerified, &c.CreatedAt)
	return c, err
}

const updateQRCodeStatus = `
UPDATE qr_codes
SET status = ?, final_url = ?, last_verified = ?
WHERE vin = ?
`

type UpdateQRCodeStatusParams struct {
	Status       string
	FinalUrl     string
	LastVerified string
	Vin          string
}

func (q *Queries) UpdateQRCodeStatus(ctx context.Context, arg UpdateQRCodeStatusParams) error {
	_, err := q.db.ExecContext(ctx, updateQRCodeStatus,
		arg.Status, arg.FinalUrl, arg.LastVerified, arg.Vin,
	)
	return err
}

const listQRCodes = `
SELECT vin, url, qr_path_1, qr_path_2, status, final_url, last_verified, created_at
FROM qr_codes ORDER BY vin
`

func (q *Queries) ListQRCodes(ctx context.Context) ([]QRCode, error) {
	rows, err := q.db.QueryContext(ctx, listQRCodes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQRCodes(rows)
}

const listNotVerifiedOn = `
SELECT vin, url, qr_path_1, qr_path_2, status, final_url, last_verified, created_at
FROM qr_codes
WHERE last_verified = '' OR substr(last_verified, 1, 10) != ?
ORDER BY vin
`

// ListNotVerifiedOn returns the records whose last verification did
// not happen on the given day.
func (q *Queries) ListNotVerifiedOn(ctx context.Context, day string) ([]QRCode, error) {
	rows, err := q.db.QueryContext(ctx, listNotVerifiedOn, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQRCodes(rows)
}

func collectQRCodes(rows *sql.Rows) ([]QRCode, error) {
	var out []QRCode
	for rows.Next() {
		var c QRCode
		err := rows.Scan(&c.Vin, &c.Url, &c.QrPath1, &c.QrPath2, &c.Status, &c.FinalUrl, &c.LastVerified, &c.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const createVerificationEvent = `
INSERT INTO qr_verification_events (vin, url, http_status, status, error_category, error_message, response_time_ms, verified_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateVerificationEventParams struct {
	Vin            string
	Url            string
	HttpStatus     int64
	Status         string
	ErrorCategory  string
	ErrorMessage   string
	ResponseTimeMs int64
	VerifiedAt     string
}

func (q *Queries) CreateVerificationEvent(ctx context.Context, arg CreateVerificationEventParams) error {
	_, err := q.db.ExecContext(ctx, createVerificationEvent,
		arg.Vin, arg.Url, arg.HttpStatus, arg.Status, arg.ErrorCategory,
		arg.ErrorMessage, arg.ResponseTimeMs, arg.VerifiedAt,
	)
	return err
}

const createScanEvent = `
INSERT INTO qr_scan_events (vin, source, scanned_at)
VALUES (?, ?, ?)
`

func (q *Queries) CreateScanEvent(ctx context.Context, vin, source, scannedAt string) error {
	_, err := q.db.ExecContext(ctx, createScanEvent, vin, source, scannedAt)
	return err
}

const countEventsByCategory = `
SELECT error_category, COUNT(*)
FROM qr_verification_events
WHERE verified_at >= ? AND error_category != ''
GROUP BY error_category
ORDER BY COUNT(*) DESC
`

type CategoryCount struct {
	Category string
	Count    int64
}

func (q *Queries) CountEventsByCategory(ctx context.Context, since string) ([]CategoryCount, error) {
	rows, err := q.db.QueryContext(ctx, countEventsByCategory, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CategoryCount
	for rows.Next() {
		var c CategoryCount
		err := rows.Scan(&c.Category, &c.Count)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
