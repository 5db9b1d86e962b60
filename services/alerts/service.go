package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"vinflow-backend/lib/telemetry"
	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/alerts/db"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = telemetry.Tracer("vinflow.services.alerts")

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"

	classCritical = "critical"
	classStandard = "standard"
)

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	Recipients   []string `json:"recipients"`
}

// BackupSource is a live store the dispatcher snapshots when a critical
// alert fires.
type BackupSource struct {
	Name string
	DB   *sql.DB
}

type Options struct {
	CriticalCooldown time.Duration
	DefaultCooldown  time.Duration

	// nil degrades delivery to structured logging
	Smtp *SmtpConfig

	// emergency snapshots land here; empty disables them
	BackupDir string

	// overridable for cooldown tests
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	out := o
	if out.CriticalCooldown <= 0 {
		out.CriticalCooldown = time.Minute * 5
	}
	if out.DefaultCooldown <= 0 {
		out.DefaultCooldown = time.Minute * 60
	}
	if out.Clock == nil {
		out.Clock = timezone.Now
	}
	return out
}

type Service struct {
	db      *sql.DB
	qry     *db.Queries
	options Options
	backups []BackupSource

	// serializes the suppression check-then-insert
	mu sync.Mutex
}

func NewService(database *sql.DB, backups []BackupSource, options Options) *Service {
	return &Service{
		db:      database,
		qry:     db.New(database),
		options: options.withDefaults(),
		backups: backups,
	}
}

func (s *Service) DB() *sql.DB { return s.db }

func severityClass(severity string) string {
	if severity == SeverityCritical {
		return classCritical
	}
	return classStandard
}

func (s *Service) cooldown(class string) time.Duration {
	if class == classCritical {
		return s.options.CriticalCooldown
	}
	return s.options.DefaultCooldown
}

// Send delivers one alert unless an alert with the same
// (severity class, subject) key fired inside the cooldown. Suppression
// is not an error. Critical alerts additionally snapshot the registered
// stores, concurrently with delivery.
func (s *Service) Send(ctx context.Context, severity, subject, message string, details map[string]string) error {
	ctx, span := tracer.Start(ctx, "Send")
	defer span.End()
	span.SetAttributes(
		attribute.String("severity", severity),
		attribute.String("subject", subject),
	)

	class := severityClass(severity)
	fired, err := s.recordIfDue(ctx, class, severity, subject, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if !fired {
		span.SetAttributes(attribute.Bool("suppressed", true))
		slog.DebugContext(ctx, "alert suppressed by cooldown",
			"severity", severity, "subject", subject)
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.deliver(groupCtx, severity, subject, message, details)
	})
	if class == classCritical && s.options.BackupDir != "" && len(s.backups) > 0 {
		group.Go(func() error {
			return s.EmergencyBackup(groupCtx)
		})
	}
	err = group.Wait()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// recordIfDue is the atomic cooldown gate: within one locked
// transaction it reads the key's last delivery, bails if it is still
// cooling down, and otherwise records the new one.
func (s *Service) recordIfDue(ctx context.Context, class, severity, subject, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.options.Clock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	lastSent, err := txqry.GetLastSent(ctx, class, subject)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	if err == nil {
		last, parseErr := time.Parse(time.RFC3339Nano, lastSent)
		if parseErr == nil && now.Sub(last) < s.cooldown(class) {
			return false, nil
		}
	}

	err = txqry.CreateAlert(ctx, db.CreateAlertParams{
		SeverityClass: class,
		Subject:       subject,
		Severity:      severity,
		Message:       message,
		SentAt:        now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return false, err
	}

	// age-based eviction only; the longest cooldown bounds how far
	// back suppression ever needs to look
	cutoff := now.Add(-s.maxCooldown()).Format(time.RFC3339Nano)
	_, err = txqry.EvictOlderThan(ctx, cutoff)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *Service) maxCooldown() time.Duration {
	if s.options.CriticalCooldown > s.options.DefaultCooldown {
		return s.options.CriticalCooldown
	}
	return s.options.DefaultCooldown
}

func (s *Service) deliver(ctx context.Context, severity, subject, message string, details map[string]string) error {
	if s.options.Smtp == nil || s.options.Smtp.Server == "" {
		args := []any{"severity", severity, "subject", subject, "message", message}
		for _, k := range sortedKeys(details) {
			args = append(args, "detail."+k, details[k])
		}
		slog.InfoContext(ctx, "alert", args...)
		return nil
	}

	cfg := s.options.Smtp
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("VinFlow Alerts <%s>", cfg.EmailAddress)
	mail.To = cfg.Recipients
	mail.Subject = fmt.Sprintf("[%s] %s", strings.ToUpper(severity), subject)
	mail.Text = []byte(renderBody(message, details))

	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)
	err := mail.Send(addr, smtp.PlainAuth("", cfg.EmailAddress, cfg.Password, cfg.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

func renderBody(message string, details map[string]string) string {
	var b strings.Builder
	b.WriteString(message)
	if len(details) > 0 {
		b.WriteString("\n\n")
		for _, k := range sortedKeys(details) {
			fmt.Fprintf(&b, "%s: %s\n", k, details[k])
		}
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EmergencyBackup snapshots every registered store with VACUUM INTO.
// One store's failure does not stop the others.
func (s *Service) EmergencyBackup(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "EmergencyBackup")
	defer span.End()

	err := os.MkdirAll(s.options.BackupDir, 0o755)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	stamp := s.options.Clock().Format("20060102_150405")
	var failures []string
	for _, source := range s.backups {
		path := filepath.Join(s.options.BackupDir, fmt.Sprintf("%s_%s.db", source.Name, stamp))
		_, err := source.DB.ExecContext(ctx, "VACUUM INTO ?", path)
		if err != nil {
			slog.ErrorContext(ctx, "emergency backup failed",
				"store", source.Name, "err", err)
			failures = append(failures, source.Name)
			continue
		}
		slog.InfoContext(ctx, "emergency backup written",
			"store", source.Name, "path", path)
	}
	if len(failures) > 0 {
		err := fmt.Errorf("backup failed for: %s", strings.Join(failures, ", "))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
