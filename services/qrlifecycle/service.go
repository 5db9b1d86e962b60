package qrlifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vinflow-backend/lib/telemetry"
	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/qrlifecycle/db"

	"github.com/go-resty/resty/v2"
	qrcode "github.com/skip2/go-qrcode"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = telemetry.Tracer("vinflow.services.qrlifecycle")

// QR record statuses. The machine is non-monotonic: a vehicle can go
// from valid back to invalid (sold) and conceivably back again
// (relisted), so re-verification may move between any of the terminal
// states.
const (
	StatusPending = "pending"
	StatusValid   = "valid"
	StatusInvalid = "invalid"
	StatusError   = "error"
)

type Options struct {
	// bounded per-request timeout for verification GETs
	Timeout time.Duration
	// bounded retry budget for transport failures, with resty's
	// exponential backoff between attempts
	RetryCount    int
	RetryWaitTime time.Duration
	// parallel VINs during a batch verification
	Concurrency int
	// a pending record older than this blocks the pre-print gate
	PendingSLA time.Duration
	// page content markers that flip a 200 response to invalid
	SoldMarkers []string
	// QR image edge length in pixels
	ImageSize int
	// verification requests per second across the whole batch
	RequestsPerSecond float64
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Timeout <= 0 {
		out.Timeout = time.Second * 15
	}
	if out.RetryCount <= 0 {
		out.RetryCount = 3
	}
	if out.RetryWaitTime <= 0 {
		out.RetryWaitTime = time.Millisecond * 500
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 4
	}
	if out.PendingSLA <= 0 {
		out.PendingSLA = time.Hour * 24
	}
	if len(out.SoldMarkers) == 0 {
		out.SoldMarkers = []string{
			"sold",
			"no longer available",
			"vehicle not found",
			"this vehicle is unavailable",
		}
	}
	if out.ImageSize <= 0 {
		out.ImageSize = 256
	}
	if out.RequestsPerSecond <= 0 {
		out.RequestsPerSecond = 2
	}
	return out
}

type Service struct {
	db      *sql.DB
	qry     *db.Queries
	http    *resty.Client
	options Options
}

func NewService(database *sql.DB, options Options) *Service {
	options = options.withDefaults()

	client := resty.New()
	client.SetTimeout(options.Timeout)
	client.SetRetryCount(options.RetryCount)
	client.SetRetryWaitTime(options.RetryWaitTime)
	client.SetRetryMaxWaitTime(options.RetryWaitTime * 8)

	// don't hammer dealership sites during a batch
	rateLimiter := rate.NewLimiter(rate.Limit(options.RequestsPerSecond), 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})
	telemetry.InstrumentResty(client, "vinflow.services.qrlifecycle.http")

	return &Service{
		db:      database,
		qry:     db.New(database),
		http:    client,
		options: options,
	}
}

func (s *Service) DB() *sql.DB { return s.db }

// Generate writes two identical QR images per vehicle (the print
// workflow wants a redundant physical copy) and upserts a pending
// record. Regeneration resets any previous verification outcome.
func (s *Service) Generate(ctx context.Context, vin, url, outputDir string) (db.QRCode, error) {
	ctx, span := tracer.Start(ctx, "Generate")
	defer span.End()
	span.SetAttributes(attribute.String("vin", vin))

	err := os.MkdirAll(outputDir, 0o755)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return db.QRCode{}, err
	}

	now := timezone.Now()
	stamp := now.Format("20060102_150405")
	paths := [2]string{
		filepath.Join(outputDir, fmt.Sprintf("%s_1_%s.png", vin, stamp)),
		filepath.Join(outputDir, fmt.Sprintf("%s_2_%s.png", vin, stamp)),
	}
	for _, path := range paths {
		err := qrcode.WriteFile(url, qrcode.Medium, s.options.ImageSize, path)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return db.QRCode{}, fmt.Errorf("write qr image: %w", err)
		}
	}

	err = s.qry.UpsertQRCode(ctx, db.UpsertQRCodeParams{
		Vin:       vin,
		Url:       url,
		QrPath1:   paths[0],
		QrPath2:   paths[1],
		CreatedAt: now.Format(time.RFC3339),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return db.QRCode{}, err
	}
	return s.qry.GetQRCode(ctx, vin)
}

// RecordScan handles a field scan of a printed code: the scan is
// logged and the VIN is re-verified immediately, bypassing the batch
// cadence.
func (s *Service) RecordScan(ctx context.Context, vin, source string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "RecordScan")
	defer span.End()
	span.SetAttributes(
		attribute.String("vin", vin),
		attribute.String("source", source),
	)

	err := s.qry.CreateScanEvent(ctx, vin, source, timezone.Now().Format(time.RFC3339))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, err
	}

	record, err := s.qry.GetQRCode(ctx, vin)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, err
	}
	return s.Verify(ctx, record.Vin, record.Url)
}

func (s *Service) Get(ctx context.Context, vin string) (db.QRCode, error) {
	return s.qry.GetQRCode(ctx, vin)
}

func (s *Service) List(ctx context.Context) ([]db.QRCode, error) {
	return s.qry.ListQRCodes(ctx)
}

// ErrorCategories aggregates verification failures by category since a
// given day, for the QR report.
func (s *Service) ErrorCategories(ctx context.Context, sinceDay string) ([]db.CategoryCount, error) {
	return s.qry.CountEventsByCategory(ctx, sinceDay)
}
