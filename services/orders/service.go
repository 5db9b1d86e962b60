package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"vinflow-backend/lib/telemetry"
	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/dealers"
	"vinflow-backend/services/inventory"
	invdb "vinflow-backend/services/inventory/db"
	"vinflow-backend/services/orders/db"
	"vinflow-backend/services/qrlifecycle"
	"vinflow-backend/services/vinhistory"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("vinflow.services.orders")

const (
	ModeCAO  = "cao"
	ModeList = "list"

	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Options struct {
	// root directory for export CSVs and, absent a per-dealer
	// qr_output_path, generated QR images
	ArtifactDir string
}

type Service struct {
	db        *sql.DB
	qry       *db.Queries
	registry  *dealers.Registry
	inventory inventory.Store
	history   *vinhistory.Service
	qr        *qrlifecycle.Service
	options   Options
}

func NewService(
	database *sql.DB,
	registry *dealers.Registry,
	inv inventory.Store,
	history *vinhistory.Service,
	qr *qrlifecycle.Service,
	options Options,
) *Service {
	if options.ArtifactDir == "" {
		options.ArtifactDir = "artifacts"
	}
	return &Service{
		db:        database,
		qry:       db.New(database),
		registry:  registry,
		inventory: inv,
		history:   history,
		qr:        qr,
		options:   options,
	}
}

func (s *Service) DB() *sql.DB { return s.db }

func (s *Service) Queries() *db.Queries { return s.qry }

type CAORequest struct {
	Dealership   string `json:"dealership"`
	TemplateType string `json:"template_type"`
}

type ListRequest struct {
	Dealership   string   `json:"dealership"`
	VINs         []string `json:"vins"`
	TemplateType string   `json:"template_type"`
}

type Result struct {
	JobID            string   `json:"job_id"`
	Success          bool     `json:"success"`
	TotalVehicles    int      `json:"total_vehicles"`
	NewVehicles      int      `json:"new_vehicles"`
	QRCodesGenerated int      `json:"qr_codes_generated"`
	DownloadArtifact string   `json:"download_artifact,omitempty"`
	MissingVINs      []string `json:"missing_vins,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

// ProcessCAO runs a compare-and-order job: the dealership's current
// filtered inventory is diffed against its history and only
// newly-arrived VINs enter the fulfillment set.
func (s *Service) ProcessCAO(ctx context.Context, req CAORequest) (Result, error) {
	ctx, span := tracer.Start(ctx, "ProcessCAO")
	defer span.End()
	span.SetAttributes(attribute.String("dealership", req.Dealership))

	jobID, err := s.createJob(ctx, req.Dealership, ModeCAO, req.TemplateType, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	result := Result{JobID: jobID}

	dealer, location, err := s.registry.Get(req.Dealership)
	if err != nil {
		return s.failJob(ctx, span, result, err)
	}

	vehicles, err := s.inventory.CurrentOnLot(ctx, location, dealer.Filtering)
	if err != nil {
		return s.failJob(ctx, span, result, err)
	}
	result.TotalVehicles = len(vehicles)

	sightings := make([]vinhistory.Sighting, len(vehicles))
	byVin := make(map[string]invdb.NormalizedVehicle, len(vehicles))
	for i, v := range vehicles {
		sightings[i] = vinhistory.Sighting{Vin: v.Vin, RawRowRef: v.RawRowID}
		byVin[v.Vin] = v
	}

	diff, err := s.history.CompareAndRecord(ctx, location, sightings, timezone.Day(timezone.Now()))
	if err != nil {
		return s.failJob(ctx, span, result, err)
	}
	if diff.Anomaly != nil {
		result.Warnings = append(result.Warnings, diff.Anomaly.Error())
	}
	result.NewVehicles = len(diff.New)

	fulfillment := make([]invdb.NormalizedVehicle, 0, len(diff.New))
	for _, vin := range diff.New {
		fulfillment = append(fulfillment, byVin[vin])
	}
	return s.fulfill(ctx, result, dealer, ModeCAO, fulfillment)
}

// ProcessList fulfills an explicit VIN list. VINs absent from current
// inventory are reported, not fatal.
func (s *Service) ProcessList(ctx context.Context, req ListRequest) (Result, error) {
	ctx, span := tracer.Start(ctx, "ProcessList")
	defer span.End()
	span.SetAttributes(attribute.String("dealership", req.Dealership))

	jobID, err := s.createJob(ctx, req.Dealership, ModeList, req.TemplateType, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	result := Result{JobID: jobID}

	dealer, location, err := s.registry.Get(req.Dealership)
	if err != nil {
		return s.failJob(ctx, span, result, err)
	}

	vehicles, err := s.inventory.CurrentOnLot(ctx, location, dealer.Filtering)
	if err != nil {
		return s.failJob(ctx, span, result, err)
	}
	result.TotalVehicles = len(vehicles)

	byVin := make(map[string]invdb.NormalizedVehicle, len(vehicles))
	for _, v := range vehicles {
		byVin[v.Vin] = v
	}

	var fulfillment []invdb.NormalizedVehicle
	for _, vin := range req.VINs {
		vin = strings.ToUpper(strings.TrimSpace(vin))
		if vin == "" {
			continue
		}
		v, ok := byVin[vin]
		if !ok {
			result.MissingVINs = append(result.MissingVINs, vin)
			continue
		}
		fulfillment = append(fulfillment, v)
	}
	if len(result.MissingVINs) > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d requested VINs not in current inventory", len(result.MissingVINs)))
	}
	return s.fulfill(ctx, result, dealer, ModeList, fulfillment)
}

// fulfill generates QR artifacts and the export CSV for the fulfillment
// set, then marks the job completed. A single VIN's QR failure is
// recorded and skipped.
func (s *Service) fulfill(
	ctx context.Context,
	result Result,
	dealer dealers.Dealership,
	mode string,
	fulfillment []invdb.NormalizedVehicle,
) (Result, error) {
	ctx, span := tracer.Start(ctx, "fulfill")
	defer span.End()

	if len(fulfillment) == 0 {
		result.Warnings = append(result.Warnings, "fulfillment set is empty, no artifact written")
		result.Success = true
		return result, s.finishJob(ctx, result, StatusCompleted)
	}

	qrDir := dealer.QROutputPath
	if qrDir == "" {
		qrDir = filepath.Join(s.options.ArtifactDir, "qr", slugify(dealer.Name))
	}

	rows := make([]exportRow, 0, len(fulfillment))
	for _, vehicle := range fulfillment {
		if vehicle.Url == "" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: no detail url, qr skipped", vehicle.Vin))
			rows = append(rows, newExportRow(vehicle, ""))
			continue
		}
		record, err := s.qr.Generate(ctx, vehicle.Vin, vehicle.Url, qrDir)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: qr generation: %v", vehicle.Vin, err))
			rows = append(rows, newExportRow(vehicle, ""))
			continue
		}
		result.QRCodesGenerated++
		rows = append(rows, newExportRow(vehicle, record.QrPath1))
	}

	sortExportRows(rows, dealer.Output.SortBy)
	artifact, err := writeArtifact(
		s.options.ArtifactDir, dealer.Name, mode, exportColumns(dealer.Output), rows)
	if err != nil {
		return s.failJob(ctx, span, result, err)
	}
	result.DownloadArtifact = artifact
	result.Success = true

	span.SetAttributes(
		attribute.Int("fulfillment_size", len(fulfillment)),
		attribute.Int("qr_codes_generated", result.QRCodesGenerated),
	)
	return result, s.finishJob(ctx, result, StatusCompleted)
}

func (s *Service) createJob(ctx context.Context, dealership, mode, templateType string, req any) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	err = s.qry.CreateOrderJob(ctx, db.CreateOrderJobParams{
		ID:           id,
		Dealership:   dealership,
		Mode:         mode,
		TemplateType: templateType,
		Requested:    string(payload),
		CreatedAt:    timezone.Now().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) finishJob(ctx context.Context, result Result, status string) error {
	return s.qry.FinishOrderJob(ctx, db.FinishOrderJobParams{
		Status:           status,
		ArtifactPath:     result.DownloadArtifact,
		TotalVehicles:    int64(result.TotalVehicles),
		NewVehicles:      int64(result.NewVehicles),
		QrCodesGenerated: int64(result.QRCodesGenerated),
		Warnings:         strings.Join(result.Warnings, "\n"),
		Errors:           strings.Join(result.Errors, "\n"),
		FinishedAt:       timezone.Now().Format(time.RFC3339),
		ID:               result.JobID,
	})
}

func (s *Service) failJob(ctx context.Context, span trace.Span, result Result, cause error) (Result, error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	result.Success = false
	result.Errors = append(result.Errors, cause.Error())
	finishErr := s.finishJob(ctx, result, StatusFailed)
	if finishErr != nil {
		slog.WarnContext(ctx, "failed to record failed order job", "err", finishErr)
	}
	return result, cause
}
