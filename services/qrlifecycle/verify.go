package qrlifecycle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/qrlifecycle/db"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of a single verification attempt.
type Outcome struct {
	Vin           string
	Status        string
	HttpStatus    int
	FinalUrl      string
	ErrorCategory string
	ErrorMessage  string
	ResponseTime  time.Duration
}

// Verify GETs the vehicle detail URL with a bounded timeout and retry
// budget, classifies the response, then atomically updates the record
// and appends a verification event.
//
// 200 without sold markers       -> valid
// 200 with sold markers          -> invalid
// redirects resolving to 200     -> valid, final url recorded
// non-2xx                        -> invalid
// transport failure post-retries -> error
func (s *Service) Verify(ctx context.Context, vin, url string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Verify")
	defer span.End()
	span.SetAttributes(
		attribute.String("vin", vin),
		attribute.String("url", url),
	)

	outcome := s.classify(ctx, vin, url)
	span.SetAttributes(attribute.String("status", outcome.Status))

	err := s.commitOutcome(ctx, outcome, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, err
	}
	return outcome, nil
}

func (s *Service) classify(ctx context.Context, vin, url string) Outcome {
	start := time.Now()
	res, err := s.http.R().SetContext(ctx).Get(url)
	outcome := Outcome{
		Vin:          vin,
		ResponseTime: time.Since(start),
	}

	if err != nil {
		// resty already spent the retry budget with backoff
		outcome.Status = StatusError
		outcome.ErrorMessage = err.Error()
		outcome.ErrorCategory = CategorizeError(err.Error())
		return outcome
	}

	outcome.HttpStatus = res.StatusCode()
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		outcome.FinalUrl = res.RawResponse.Request.URL.String()
	}

	if !res.IsSuccess() {
		outcome.Status = StatusInvalid
		outcome.ErrorMessage = fmt.Sprintf("http %d", res.StatusCode())
		outcome.ErrorCategory = CategorizeError(res.Status())
		return outcome
	}

	marker, found := s.findSoldMarker(res.Body())
	if found {
		outcome.Status = StatusInvalid
		outcome.ErrorMessage = fmt.Sprintf("page marker: %q", marker)
		outcome.ErrorCategory = CategoryVehicleSold
		return outcome
	}

	outcome.Status = StatusValid
	return outcome
}

// findSoldMarker scans the page's visible text for any configured
// sold/unavailable marker.
func (s *Service) findSoldMarker(body []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		// an unparseable page still counts as reachable; no marker
		return "", false
	}
	doc.Find("script, style").Remove()
	text := strings.ToLower(doc.Text())
	for _, marker := range s.options.SoldMarkers {
		if strings.Contains(text, marker) {
			return marker, true
		}
	}
	return "", false
}

// commitOutcome updates the record status and appends the event in one
// transaction so a cancelled batch can never leave the two out of sync.
func (s *Service) commitOutcome(ctx context.Context, outcome Outcome, url string) error {
	now := timezone.Now().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	err = txqry.UpdateQRCodeStatus(ctx, db.UpdateQRCodeStatusParams{
		Status:       outcome.Status,
		FinalUrl:     outcome.FinalUrl,
		LastVerified: now,
		Vin:          outcome.Vin,
	})
	if err != nil {
		return err
	}
	err = txqry.CreateVerificationEvent(ctx, db.CreateVerificationEventParams{
		Vin:            outcome.Vin,
		Url:            url,
		HttpStatus:     int64(outcome.HttpStatus),
		Status:         outcome.Status,
		ErrorCategory:  outcome.ErrorCategory,
		ErrorMessage:   outcome.ErrorMessage,
		ResponseTimeMs: outcome.ResponseTime.Milliseconds(),
		VerifiedAt:     now,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

type BatchSummary struct {
	Attempted int `json:"attempted"`
	Valid     int `json:"valid"`
	Invalid   int `json:"invalid"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
}

// VerifyAll re-verifies every record not verified today, or every
// record when forced. VINs run in parallel but each one is isolated: a
// failure is counted and the batch moves on. Cancellation happens
// between VINs, never mid-request, so no record is left torn.
func (s *Service) VerifyAll(ctx context.Context, force bool) (BatchSummary, error) {
	ctx, span := tracer.Start(ctx, "VerifyAll")
	defer span.End()
	span.SetAttributes(attribute.Bool("force", force))

	var records []db.QRCode
	var err error
	if force {
		records, err = s.qry.ListQRCodes(ctx)
	} else {
		records, err = s.qry.ListNotVerifiedOn(ctx, timezone.Day(timezone.Now()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return BatchSummary{}, err
	}

	var mu sync.Mutex
	var summary BatchSummary

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.options.Concurrency)
	for _, record := range records {
		record := record
		group.Go(func() error {
			if groupCtx.Err() != nil {
				mu.Lock()
				summary.Skipped++
				mu.Unlock()
				return nil
			}
			// detach from the batch cancel: a verification that has
			// started runs to completion and commits, cancellation
			// only stops further VINs from starting
			outcome, err := s.Verify(context.WithoutCancel(groupCtx), record.Vin, record.Url)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// store failure, not a verification outcome
				slog.WarnContext(groupCtx, "verify vin", "vin", record.Vin, "err", err)
				summary.Errors++
				summary.Attempted++
				return nil
			}
			summary.Attempted++
			switch outcome.Status {
			case StatusValid:
				summary.Valid++
			case StatusInvalid:
				summary.Invalid++
			default:
				summary.Errors++
			}
			return nil
		})
	}
	group.Wait()

	span.SetAttributes(
		attribute.Int("attempted", summary.Attempted),
		attribute.Int("errors", summary.Errors),
	)
	return summary, nil
}

type Problem struct {
	Vin      string `json:"vin"`
	Status   string `json:"status"`
	Reason   string `json:"reason"`
	LastSeen string `json:"last_verified,omitempty"`
}

type PrePrintReport struct {
	PrintSafe        bool      `json:"print_safe"`
	Total            int       `json:"total"`
	Valid            int       `json:"valid"`
	Invalid          int       `json:"invalid"`
	Errors           int       `json:"errors"`
	Pending          int       `json:"pending"`
	PendingOverSLA   int       `json:"pending_over_sla"`
	ProblematicCount int       `json:"problematic_count"`
	Problems         []Problem `json:"problems"`
}

// PrePrintValidationReport is the hard go/no-go gate before a physical
// print run. print_safe is true iff zero records are invalid, errored,
// or pending past the SLA age.
func (s *Service) PrePrintValidationReport(ctx context.Context) (PrePrintReport, error) {
	ctx, span := tracer.Start(ctx, "PrePrintValidationReport")
	defer span.End()

	records, err := s.qry.ListQRCodes(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PrePrintReport{}, err
	}

	now := timezone.Now()
	report := PrePrintReport{Total: len(records)}
	for _, record := range records {
		switch record.Status {
		case StatusValid:
			report.Valid++
		case StatusInvalid:
			report.Invalid++
			report.Problems = append(report.Problems, Problem{
				Vin: record.Vin, Status: record.Status,
				Reason: "target page invalid", LastSeen: record.LastVerified,
			})
		case StatusError:
			report.Errors++
			report.Problems = append(report.Problems, Problem{
				Vin: record.Vin, Status: record.Status,
				Reason: "verification failed after retries", LastSeen: record.LastVerified,
			})
		case StatusPending:
			report.Pending++
			created, err := time.Parse(time.RFC3339, record.CreatedAt)
			if err == nil && now.Sub(created) > s.options.PendingSLA {
				report.PendingOverSLA++
				report.Problems = append(report.Problems, Problem{
					Vin: record.Vin, Status: record.Status,
					Reason: fmt.Sprintf("pending longer than %s", s.options.PendingSLA),
				})
			}
		}
	}
	report.ProblematicCount = report.Invalid + report.Errors + report.PendingOverSLA
	report.PrintSafe = report.ProblematicCount == 0

	span.SetAttributes(
		attribute.Bool("print_safe", report.PrintSafe),
		attribute.Int("problematic", report.ProblematicCount),
	)
	return report, nil
}
