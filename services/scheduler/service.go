package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vinflow-backend/lib/telemetry"
	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/alerts"
	"vinflow-backend/services/consistency"
	"vinflow-backend/services/dealers"
	"vinflow-backend/services/inventory"
	invdb "vinflow-backend/services/inventory/db"
	"vinflow-backend/services/qrlifecycle"

	"go.opentelemetry.io/otel/attribute"
)

var tracer = telemetry.Tracer("vinflow.services.scheduler")

type Options struct {
	HealthInterval      time.Duration
	FreshnessInterval   time.Duration
	QualityInterval     time.Duration
	PerformanceInterval time.Duration
	ConsistencyInterval time.Duration
	QRVerifyInterval    time.Duration

	// active dealerships without an import inside this window are
	// reported stale
	FreshnessWindowDays int
	// snapshot quality scores below this raise a warning
	MinQualityScore float64
	// resident memory past this raises a warning
	MaxAllocatedMB int64
}

func (o Options) withDefaults() Options {
	out := o
	if out.HealthInterval <= 0 {
		out.HealthInterval = time.Minute * 5
	}
	if out.FreshnessInterval <= 0 {
		out.FreshnessInterval = time.Hour
	}
	if out.QualityInterval <= 0 {
		out.QualityInterval = time.Hour * 6
	}
	if out.PerformanceInterval <= 0 {
		out.PerformanceInterval = time.Minute * 15
	}
	if out.ConsistencyInterval <= 0 {
		out.ConsistencyInterval = time.Hour * 4
	}
	if out.QRVerifyInterval <= 0 {
		out.QRVerifyInterval = time.Hour * 24
	}
	if out.FreshnessWindowDays <= 0 {
		out.FreshnessWindowDays = 2
	}
	if out.MinQualityScore <= 0 {
		out.MinQualityScore = 0.8
	}
	if out.MaxAllocatedMB <= 0 {
		out.MaxAllocatedMB = 1024
	}
	return out
}

type Service struct {
	registry    *dealers.Registry
	inventory   inventory.Store
	qr          *qrlifecycle.Service
	consistency *consistency.Service
	alerts      *alerts.Service
	options     Options

	mu       sync.Mutex
	lastRuns map[string]time.Time
	health   Health
}

func NewService(
	registry *dealers.Registry,
	inv inventory.Store,
	qr *qrlifecycle.Service,
	checker *consistency.Service,
	dispatcher *alerts.Service,
	options Options,
) *Service {
	return &Service{
		registry:    registry,
		inventory:   inv,
		qr:          qr,
		consistency: checker,
		alerts:      dispatcher,
		options:     options.withDefaults(),
		lastRuns:    make(map[string]time.Time),
	}
}

type task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

func (s *Service) tasks() []task {
	return []task{
		{"health", s.options.HealthInterval, s.healthTask},
		{"freshness", s.options.FreshnessInterval, s.freshnessTask},
		{"quality", s.options.QualityInterval, s.qualityTask},
		{"performance", s.options.PerformanceInterval, s.performanceTask},
		{"consistency", s.options.ConsistencyInterval, s.consistencyTask},
		{"qr_verify", s.options.QRVerifyInterval, s.qrVerifyTask},
	}
}

// Start launches one daemon goroutine per task. Each task keeps its own
// cadence, so a slow consistency run never delays a health snapshot.
// All daemons stop when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	for _, t := range s.tasks() {
		go s.daemon(ctx, t)
	}
}

func (s *Service) daemon(ctx context.Context, t task) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTask(ctx, t)
		}
	}
}

func (s *Service) runTask(ctx context.Context, t task) {
	ctx, span := tracer.Start(ctx, "runTask")
	defer span.End()
	span.SetAttributes(attribute.String("task", t.name))

	ctx, cancel := context.WithTimeout(ctx, t.interval)
	defer cancel()

	start := timezone.Now()
	err := t.run(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "scheduled task failed", "task", t.name, "err", err)
	}

	s.mu.Lock()
	s.lastRuns[t.name] = start
	s.mu.Unlock()
}

// LastRuns reports each task's most recent start time.
func (s *Service) LastRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.lastRuns))
	for k, v := range s.lastRuns {
		out[k] = v
	}
	return out
}

func (s *Service) freshnessTask(ctx context.Context) error {
	since := timezone.Day(timezone.DaysAgo(timezone.Now(), s.options.FreshnessWindowDays))
	activity, err := invdb.New(s.inventory.DB()).ListLocationsSince(ctx, since)
	if err != nil {
		return err
	}
	recent := make(map[string]struct{}, len(activity))
	for _, a := range activity {
		recent[a.Location] = struct{}{}
	}

	for _, dealer := range s.registry.Active() {
		location := s.registry.Resolve(dealer.Name)
		if _, ok := recent[location]; ok {
			continue
		}
		err := s.alerts.Send(ctx, alerts.SeverityWarning,
			"Stale inventory: "+dealer.Name,
			"no inventory imported inside the freshness window",
			map[string]string{
				"dealership": dealer.Name,
				"location":   location,
				"window":     since,
			})
		if err != nil {
			slog.WarnContext(ctx, "freshness alert failed", "dealership", dealer.Name, "err", err)
		}
	}
	return nil
}

func (s *Service) qualityTask(ctx context.Context) error {
	for _, dealer := range s.registry.Active() {
		location := s.registry.Resolve(dealer.Name)
		snap, err := s.inventory.TakeSnapshot(ctx, location)
		if err != nil {
			slog.WarnContext(ctx, "quality snapshot failed", "location", location, "err", err)
			continue
		}
		if snap.VehicleCount == 0 || snap.QualityScore >= s.options.MinQualityScore {
			continue
		}
		err = s.alerts.Send(ctx, alerts.SeverityWarning,
			"Low data quality: "+dealer.Name,
			"inventory rows are missing vin, stock or price fields",
			map[string]string{
				"location": location,
				"score":    formatScore(snap.QualityScore),
			})
		if err != nil {
			slog.WarnContext(ctx, "quality alert failed", "location", location, "err", err)
		}
	}
	return nil
}

func (s *Service) performanceTask(ctx context.Context) error {
	snap := telemetry.ReadPerfSnapshot()
	if snap.AllocatedMB <= s.options.MaxAllocatedMB {
		return nil
	}
	return s.alerts.Send(ctx, alerts.SeverityWarning,
		"High memory usage",
		"resident allocation exceeds the configured ceiling",
		map[string]string{
			"allocated_mb": formatInt(snap.AllocatedMB),
			"goroutines":   formatInt(int64(snap.Goroutines)),
		})
}

func (s *Service) consistencyTask(ctx context.Context) error {
	report, err := s.consistency.RunFullCheck(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.health.LastConsistency = &report
	s.mu.Unlock()
	return nil
}

func (s *Service) qrVerifyTask(ctx context.Context) error {
	summary, err := s.qr.VerifyAll(ctx, false)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.health.LastQRBatch = &summary
	s.mu.Unlock()
	return nil
}
