package vinhistory

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"vinflow-backend/lib/pipeline"
	"vinflow-backend/lib/telemetry"
	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/vinhistory/db"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("vinflow.services.vinhistory")

type Options struct {
	// how many days back a sighting still counts as "currently active";
	// one policy for the whole pipeline
	FreshnessWindowDays int
	// above this removed/active fraction the diff is flagged as an
	// anomaly instead of being silently trusted
	MaxRemovedFraction float64
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.FreshnessWindowDays <= 0 {
		out.FreshnessWindowDays = 7
	}
	if out.MaxRemovedFraction <= 0 {
		out.MaxRemovedFraction = 0.5
	}
	return out
}

// Service is the append-only VIN sighting log plus the compare-and-order
// diff over it. Identity is (dealership, vin) where dealership is the
// already name-mapped location key.
type Service struct {
	db      *sql.DB
	qry     *db.Queries
	options Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(database *sql.DB, options Options) *Service {
	return &Service{
		db:      database,
		qry:     db.New(database),
		options: options.withDefaults(),
		locks:   make(map[string]*sync.Mutex),
	}
}

// dealerLock serializes history writes per dealership so two concurrent
// runs cannot both read a stale active set and double-count an arrival.
func (s *Service) dealerLock(dealership string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[dealership]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[dealership] = lock
	}
	return lock
}

// Sighting is one observed VIN plus the raw inventory row it was
// scraped from, so a history row can be traced back to its source.
type Sighting struct {
	Vin       string
	RawRowRef int64
}

// Observed wraps bare VINs as sightings without raw-store provenance,
// for manual corrections and list-style callers.
func Observed(vins ...string) []Sighting {
	out := make([]Sighting, len(vins))
	for i, vin := range vins {
		out[i] = Sighting{Vin: vin}
	}
	return out
}

// RecordScan appends one sighting row per VIN for the given day inside
// a single transaction. Duplicate (dealership, vin, day) writes are
// no-ops; any failure rolls the whole batch back.
func (s *Service) RecordScan(ctx context.Context, dealership string, sightings []Sighting, day string) error {
	lock := s.dealerLock(dealership)
	lock.Lock()
	defer lock.Unlock()
	return s.recordScanLocked(ctx, dealership, sightings, day)
}

func (s *Service) recordScanLocked(ctx context.Context, dealership string, sightings []Sighting, day string) error {
	ctx, span := tracer.Start(ctx, "RecordScan")
	defer span.End()
	span.SetAttributes(
		attribute.String("dealership", dealership),
		attribute.Int("vins", len(sightings)),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	for _, sighting := range sightings {
		err := txqry.CreateSighting(ctx, db.CreateSightingParams{
			Dealership: dealership,
			Vin:        sighting.Vin,
			ScanDate:   day,
			RawRowRef:  sighting.RawRowRef,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return tx.Commit()
}

// Diff is the outcome of comparing a current VIN set against history.
type Diff struct {
	New     []string
	Removed []string
	// size of the active set the comparison ran against
	ActiveCount int
	// non-nil when the removed fraction is implausibly large; the diff
	// is still populated, the caller decides whether to trust it
	Anomaly *pipeline.AnomalyWarning
}

// Compare computes newly-arrived and removed VINs against the active
// set: VINs sighted inside the freshness window that have no later
// removal marker.
func (s *Service) Compare(ctx context.Context, dealership string, current []string) (Diff, error) {
	ctx, span := tracer.Start(ctx, "Compare")
	defer span.End()
	span.SetAttributes(
		attribute.String("dealership", dealership),
		attribute.Int("current", len(current)),
	)

	diff, err := s.compare(ctx, dealership, current)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Diff{}, err
	}
	span.SetAttributes(
		attribute.Int("new", len(diff.New)),
		attribute.Int("removed", len(diff.Removed)),
	)
	return diff, nil
}

func (s *Service) compare(ctx context.Context, dealership string, current []string) (Diff, error) {
	windowStart := timezone.Day(timezone.DaysAgo(timezone.Now(), s.options.FreshnessWindowDays))

	lastScans, err := s.qry.ListLastScans(ctx, dealership, windowStart)
	if err != nil {
		return Diff{}, err
	}
	lastRemovals, err := s.qry.ListLastRemovals(ctx, dealership)
	if err != nil {
		return Diff{}, err
	}

	removedAt := make(map[string]string, len(lastRemovals))
	for _, r := range lastRemovals {
		removedAt[r.Vin] = r.LastScan
	}

	active := make(map[string]struct{}, len(lastScans))
	for _, scan := range lastScans {
		if removed, ok := removedAt[scan.Vin]; ok && removed >= scan.LastScan {
			continue
		}
		active[scan.Vin] = struct{}{}
	}

	currentSet := make(map[string]struct{}, len(current))
	var diff Diff
	for _, vin := range current {
		currentSet[vin] = struct{}{}
		if _, ok := active[vin]; !ok {
			diff.New = append(diff.New, vin)
		}
	}
	for vin := range active {
		if _, ok := currentSet[vin]; !ok {
			diff.Removed = append(diff.Removed, vin)
		}
	}
	sort.Strings(diff.New)
	sort.Strings(diff.Removed)
	diff.ActiveCount = len(active)

	if diff.ActiveCount > 0 {
		fraction := float64(len(diff.Removed)) / float64(diff.ActiveCount)
		if fraction > s.options.MaxRemovedFraction {
			diff.Anomaly = &pipeline.AnomalyWarning{
				Dealership:      dealership,
				RemovedFraction: fraction,
			}
		}
	}
	return diff, nil
}

// CompareAndRecord is the CAO critical section: diff against history,
// then record today's sightings, then mark the vanished VINs removed,
// all under the dealership lock. Removal markers are skipped when the
// diff looks anomalous so a broken scrape cannot wipe the active set.
func (s *Service) CompareAndRecord(ctx context.Context, dealership string, current []Sighting, day string) (Diff, error) {
	lock := s.dealerLock(dealership)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := tracer.Start(ctx, "CompareAndRecord")
	defer span.End()
	span.SetAttributes(attribute.String("dealership", dealership))

	vins := make([]string, len(current))
	for i, sighting := range current {
		vins[i] = sighting.Vin
	}

	diff, err := s.compare(ctx, dealership, vins)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Diff{}, err
	}

	err = s.recordScanLocked(ctx, dealership, current, day)
	if err != nil {
		return Diff{}, err
	}

	if diff.Anomaly == nil && len(diff.Removed) > 0 {
		err = s.markRemoved(ctx, dealership, diff.Removed, day)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Diff{}, err
		}
	}
	return diff, nil
}

func (s *Service) markRemoved(ctx context.Context, dealership string, vins []string, day string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	for _, vin := range vins {
		err := txqry.CreateRemoval(ctx, dealership, vin, day)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkRemoved appends removal markers outside of a CAO run, for manual
// corrections.
func (s *Service) MarkRemoved(ctx context.Context, dealership string, vins []string, day string) error {
	lock := s.dealerLock(dealership)
	lock.Lock()
	defer lock.Unlock()
	return s.markRemoved(ctx, dealership, vins, day)
}

func (s *Service) Queries() *db.Queries { return s.qry }

func (s *Service) DB() *sql.DB { return s.db }
