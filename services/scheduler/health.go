package scheduler

import (
	"context"
	"strconv"
	"time"

	"vinflow-backend/lib/telemetry"
	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/consistency"
	invdb "vinflow-backend/services/inventory/db"
	"vinflow-backend/services/qrlifecycle"
)

type LocationFreshness struct {
	Location   string `json:"location"`
	LastImport string `json:"last_import"`
	Fresh      bool   `json:"fresh"`
}

type Health struct {
	Status          string                       `json:"status"`
	TakenAt         string                       `json:"taken_at"`
	Inventory       []LocationFreshness          `json:"inventory"`
	QRReport        *qrlifecycle.PrePrintReport  `json:"qr_report,omitempty"`
	LastQRBatch     *qrlifecycle.BatchSummary    `json:"last_qr_batch,omitempty"`
	LastConsistency *consistency.Report          `json:"last_consistency,omitempty"`
	Perf            telemetry.PerfSnapshot       `json:"perf"`
	TaskLastRuns    map[string]string            `json:"task_last_runs"`
}

// HealthSnapshot assembles the live health view: per-location import
// freshness, the current QR gate, the latest consistency and batch
// results, and process stats.
func (s *Service) HealthSnapshot(ctx context.Context) (Health, error) {
	ctx, span := tracer.Start(ctx, "HealthSnapshot")
	defer span.End()

	now := timezone.Now()
	health := Health{
		Status:  "ok",
		TakenAt: now.Format(time.RFC3339),
		Perf:    telemetry.ReadPerfSnapshot(),
	}

	freshCutoff := timezone.Day(timezone.DaysAgo(now, s.options.FreshnessWindowDays))
	activity, err := invdb.New(s.inventory.DB()).ListLocationsSince(ctx, "")
	if err != nil {
		return Health{}, err
	}
	for _, a := range activity {
		health.Inventory = append(health.Inventory, LocationFreshness{
			Location:   a.Location,
			LastImport: a.LastImport,
			Fresh:      a.LastImport >= freshCutoff,
		})
	}
	for _, entry := range health.Inventory {
		if !entry.Fresh {
			health.Status = "degraded"
			break
		}
	}

	qrReport, err := s.qr.PrePrintValidationReport(ctx)
	if err != nil {
		return Health{}, err
	}
	health.QRReport = &qrReport

	s.mu.Lock()
	health.LastQRBatch = s.health.LastQRBatch
	health.LastConsistency = s.health.LastConsistency
	health.TaskLastRuns = make(map[string]string, len(s.lastRuns))
	for name, at := range s.lastRuns {
		health.TaskLastRuns[name] = at.Format(time.RFC3339)
	}
	s.mu.Unlock()

	if health.LastConsistency != nil && !health.LastConsistency.Healthy {
		health.Status = "degraded"
	}
	return health, nil
}

// healthTask caches a snapshot so the HTTP handler always has a recent
// one even when a store is briefly unreachable.
func (s *Service) healthTask(ctx context.Context) error {
	health, err := s.HealthSnapshot(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	health.LastQRBatch = s.health.LastQRBatch
	health.LastConsistency = s.health.LastConsistency
	s.health = health
	s.mu.Unlock()
	return nil
}

// CachedHealth returns the last snapshot the health daemon took.
func (s *Service) CachedHealth() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 2, 64)
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
