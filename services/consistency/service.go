package consistency

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"vinflow-backend/lib/telemetry"
	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/dealers"

	"go.opentelemetry.io/otel/attribute"
)

var tracer = telemetry.Tracer("vinflow.services.consistency")

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

type Issue struct {
	Type        string   `json:"type"`
	Severity    string   `json:"severity"`
	Description string   `json:"description"`
	Count       int      `json:"count"`
	Sample      []string `json:"sample,omitempty"`
}

type CheckResult struct {
	Name        string  `json:"name"`
	IssuesFound int     `json:"issues_found"`
	Issues      []Issue `json:"issues,omitempty"`
}

type Report struct {
	RanAt         string        `json:"ran_at"`
	Checks        []CheckResult `json:"checks"`
	CriticalCount int           `json:"critical_count"`
	WarningCount  int           `json:"warning_count"`
	Healthy       bool          `json:"healthy"`
}

// Alerter is the slice of the alert dispatcher the verifier needs.
type Alerter interface {
	Send(ctx context.Context, severity, subject, message string, details map[string]string) error
}

type Options struct {
	// how far back "recent" reaches for activity checks
	LookbackDays int
	// rows drawn for the normalization re-derivation spot check
	SampleSize int
	// per-VIN scan date gaps beyond this are flagged
	MaxHistoryGapDays int
	// issue samples are truncated to this many identifiers
	MaxSample int
}

func (o Options) withDefaults() Options {
	out := o
	if out.LookbackDays <= 0 {
		out.LookbackDays = 7
	}
	if out.SampleSize <= 0 {
		out.SampleSize = 25
	}
	if out.MaxHistoryGapDays <= 0 {
		out.MaxHistoryGapDays = 30
	}
	if out.MaxSample <= 0 {
		out.MaxSample = 5
	}
	return out
}

type Service struct {
	inventoryDB *sql.DB
	historyDB   *sql.DB
	registry    *dealers.Registry
	alerter     Alerter
	options     Options
}

func NewService(inventoryDB, historyDB *sql.DB, registry *dealers.Registry, alerter Alerter, options Options) *Service {
	return &Service{
		inventoryDB: inventoryDB,
		historyDB:   historyDB,
		registry:    registry,
		alerter:     alerter,
		options:     options.withDefaults(),
	}
}

type check struct {
	name string
	run  func(ctx context.Context) (CheckResult, error)
}

func (s *Service) checks() []check {
	return []check{
		{"raw_normalized_integrity", s.checkRawNormalizedIntegrity},
		{"vin_history_integrity", s.checkVinHistoryIntegrity},
		{"dealership_config", s.checkDealershipConfig},
		{"normalization_sampling", s.checkNormalizationSampling},
		{"temporal_sanity", s.checkTemporalSanity},
		{"count_invariants", s.checkCountInvariants},
	}
}

// runIsolated runs one check, converting a panic or returned error into
// a critical check_failed issue so the rest of the battery still runs.
func runIsolated(ctx context.Context, c check) (result CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "consistency check panicked", "check", c.name, "panic", r)
			result = checkFailed(c.name, fmt.Errorf("panic: %v", r))
		}
	}()

	result, err := c.run(ctx)
	if err != nil {
		slog.WarnContext(ctx, "consistency check failed", "check", c.name, "err", err)
		return checkFailed(c.name, err)
	}
	result.Name = c.name
	result.IssuesFound = len(result.Issues)
	return result
}

func checkFailed(name string, err error) CheckResult {
	return CheckResult{
		Name:        name,
		IssuesFound: 1,
		Issues: []Issue{{
			Type:        "check_failed",
			Severity:    SeverityCritical,
			Description: err.Error(),
			Count:       1,
		}},
	}
}

// RunFullCheck runs the whole battery, classifies the findings, and
// forwards critical/warning summaries to the alert dispatcher.
func (s *Service) RunFullCheck(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "RunFullCheck")
	defer span.End()

	report := Report{RanAt: timezone.Now().Format(time.RFC3339)}
	for _, c := range s.checks() {
		result := runIsolated(ctx, c)
		report.Checks = append(report.Checks, result)
		for _, issue := range result.Issues {
			switch issue.Severity {
			case SeverityCritical:
				report.CriticalCount++
			default:
				report.WarningCount++
			}
		}
	}
	report.Healthy = report.CriticalCount == 0

	span.SetAttributes(
		attribute.Int("critical", report.CriticalCount),
		attribute.Int("warnings", report.WarningCount),
	)
	s.dispatch(ctx, report)
	return report, nil
}

func (s *Service) dispatch(ctx context.Context, report Report) {
	if s.alerter == nil {
		return
	}
	for _, result := range report.Checks {
		for _, issue := range result.Issues {
			if issue.Severity != SeverityCritical {
				continue
			}
			err := s.alerter.Send(ctx, SeverityCritical,
				fmt.Sprintf("Consistency: %s", issue.Type),
				issue.Description,
				map[string]string{
					"check": result.Name,
					"count": fmt.Sprint(issue.Count),
				})
			if err != nil {
				slog.WarnContext(ctx, "consistency alert dispatch failed",
					"check", result.Name, "err", err)
			}
		}
	}
	if report.WarningCount > 0 {
		err := s.alerter.Send(ctx, SeverityWarning,
			"Consistency: warnings found",
			fmt.Sprintf("%d warning-level findings across %d checks",
				report.WarningCount, len(report.Checks)),
			nil)
		if err != nil {
			slog.WarnContext(ctx, "consistency alert dispatch failed", "err", err)
		}
	}
}

func truncateSample(ids []string, max int) []string {
	if len(ids) <= max {
		return ids
	}
	return ids[:max]
}
