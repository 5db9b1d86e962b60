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

const getLastSent = `
SELECT sent_at
FROM alert_log
WHERE severity_class = ? AND subject = ?
ORDER BY sent_at DESC
LIMIT 1
`

// GetLastSent returns sql.ErrNoRows when the key has never fired.
func (q *Queries) GetLastSent(ctx context.Context, severityClass, subject string) (string, error) {
	row := q.db.QueryRowContext(ctx, getLastSent, severityClass, subject)
	var sentAt string
	err := row.Scan(&sentAt)
	return sentAt, err
}

const createAlert = `
INSERT INTO alert_log (severity_class, subject, severity, message, sent_at)
VALUES (?, ?, ?, ?, ?)
`

type CreateAlertParams struct {
	SeverityClass string
	Subject       string
	Severity      string
	Message       string
	SentAt        string
}

func (q *Queries) CreateAlert(ctx context.Context, arg CreateAlertParams) error {
	_, err := q.db.ExecContext(ctx, createAlert,
		arg.SeverityClass, arg.Subject, arg.Severity, arg.Message, arg.SentAt)
	return err
}

const evictOlderThan = `
DELETE FROM alert_log
WHERE sent_at < ?
`

// EvictOlderThan drops ledger entries strictly by age. Entry count is
// never a factor, so bursty load cannot evict a key that is still
// inside its cooldown.
func (q *Queries) EvictOlderThan(ctx context.Context, cutoff string) (int64, error) {
	res, err := q.db.ExecContext(ctx, evictOlderThan, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const countAlertsSince = `
SELECT COUNT(*)
FROM alert_log
WHERE sent_at >= ?
`

func (q *Queries) CountAlertsSince(ctx context.Context, since string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countAlertsSince, since)
	var count int64
	err := row.Scan(&count)
	return count, err
}
