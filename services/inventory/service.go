package inventory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"sort"
	"strings"

	"vinflow-backend/lib/telemetry"
	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/dealers"
	"vinflow-backend/services/inventory/db"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("vinflow.services.inventory")

// Store owns the raw and normalized vehicle tables. Raw rows are
// immutable sightings, one per scrape; normalized rows are one per
// (location, vin) and carry the derived condition and on-lot flag.
type Store struct {
	db  *sql.DB
	qry *db.Queries
}

func NewStore(database *sql.DB) Store {
	return Store{
		db:  database,
		qry: db.New(database),
	}
}

func (s Store) DB() *sql.DB { return s.db }

// VehicleRow is one scraped vehicle as handed over by a scraping
// adapter.
type VehicleRow struct {
	Vin         string  `json:"vin"`
	Stock       string  `json:"stock"`
	Make        string  `json:"make"`
	Model       string  `json:"model"`
	Year        int64   `json:"year"`
	Price       float64 `json:"price"`
	VehicleType string  `json:"vehicle_type"`
	Status      string  `json:"status"`
	Url         string  `json:"url"`
}

// IngestScan writes one raw row per sighting and upserts the
// normalized row for each vehicle, in a single transaction. Vehicles
// of the location missed by this scan lose their on-lot flag.
func (s Store) IngestScan(ctx context.Context, location string, rows []VehicleRow, scannedAt string) error {
	ctx, span := tracer.Start(ctx, "IngestScan")
	defer span.End()
	span.SetAttributes(
		attribute.String("location", location),
		attribute.Int("rows", len(rows)),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	for _, row := range rows {
		vin := strings.ToUpper(strings.TrimSpace(row.Vin))
		if vin == "" {
			continue
		}
		rawId, err := txqry.CreateRawVehicle(ctx, db.CreateRawVehicleParams{
			Location:    location,
			Vin:         vin,
			Stock:       strings.TrimSpace(row.Stock),
			Make:        row.Make,
			Model:       row.Model,
			Year:        row.Year,
			Price:       row.Price,
			VehicleType: row.VehicleType,
			Status:      row.Status,
			Url:         row.Url,
			ImportDate:  scannedAt,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		err = txqry.UpsertNormalizedVehicle(ctx, db.UpsertNormalizedVehicleParams{
			Location:    location,
			Vin:         vin,
			Stock:       strings.TrimSpace(row.Stock),
			Make:        row.Make,
			Model:       row.Model,
			Year:        row.Year,
			Price:       row.Price,
			VehicleType: row.VehicleType,
			Condition:   NormalizeCondition(row.VehicleType, row.Status),
			Status:      NormalizeStatus(row.Status),
			OnLot:       NormalizeOnLot(row.Status),
			Url:         row.Url,
			RawRowID:    rawId,
			LastSeen:    scannedAt,
			ImportDate:  scannedAt,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	err = txqry.MarkOffLotStale(ctx, location, scannedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return tx.Commit()
}

// CurrentOnLot returns the on-lot vehicles of a location that pass a
// dealership's filtering rules.
func (s Store) CurrentOnLot(ctx context.Context, location string, rules dealers.FilteringRules) ([]db.NormalizedVehicle, error) {
	ctx, span := tracer.Start(ctx, "CurrentOnLot")
	defer span.End()
	span.SetAttributes(attribute.String("location", location))

	all, err := s.qry.ListOnLot(ctx, location)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var out []db.NormalizedVehicle
	for _, v := range all {
		if !rules.AllowsType(v.Condition) {
			continue
		}
		if rules.ExcludesStatus(v.Status) {
			continue
		}
		if !rules.AllowsPrice(v.Price) {
			continue
		}
		if rules.RequireStock && v.Stock == "" {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Snapshot is the derived per-location/day aggregate used for change
// detection and trend alerts.
type Snapshot struct {
	Location     string  `json:"location"`
	Date         string  `json:"date"`
	VehicleCount int     `json:"vehicle_count"`
	TotalValue   float64 `json:"total_value"`
	AvgPrice     float64 `json:"avg_price"`
	QualityScore float64 `json:"quality_score"`
	Checksum     string  `json:"checksum"`
}

// TakeSnapshot aggregates the current on-lot state of a location. The
// checksum is a sha256 over the sorted VIN set, so two snapshots with
// equal checksums saw the same lot.
func (s Store) TakeSnapshot(ctx context.Context, location string) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "TakeSnapshot")
	defer span.End()
	span.SetAttributes(attribute.String("location", location))

	vehicles, err := s.qry.ListOnLot(ctx, location)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Snapshot{}, err
	}

	snap := Snapshot{
		Location: location,
		Date:     timezone.Day(timezone.Now()),
	}
	vins := make([]string, 0, len(vehicles))
	complete := 0
	for _, v := range vehicles {
		vins = append(vins, v.Vin)
		snap.TotalValue += v.Price
		if len(v.Vin) == 17 && v.Stock != "" && v.Price > 0 {
			complete++
		}
	}
	snap.VehicleCount = len(vehicles)
	if len(vehicles) > 0 {
		snap.AvgPrice = snap.TotalValue / float64(len(vehicles))
		snap.QualityScore = float64(complete) / float64(len(vehicles))
	}

	sort.Strings(vins)
	digest := sha256.Sum256([]byte(strings.Join(vins, "\n")))
	snap.Checksum = hex.EncodeToString(digest[:])
	return snap, nil
}
