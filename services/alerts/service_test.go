package alerts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vinflow-backend/lib/testutil"
	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/alerts/db"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setup(t *testing.T, options Options, backups []BackupSource) (*Service, *fakeClock, context.Context) {
	result, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "alerts",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	clock := &fakeClock{now: timezone.Now()}
	options.Clock = clock.Now
	return NewService(result.DB, backups, options), clock, ctx
}

func deliveredCount(t *testing.T, svc *Service, ctx context.Context) int64 {
	count, err := db.New(svc.DB()).CountAlertsSince(ctx, "")
	require.NoError(t, err)
	return count
}

func TestCriticalCooldownSuppression(t *testing.T) {
	svc, clock, ctx := setup(t, Options{}, nil)

	err := svc.Send(ctx, SeverityCritical, "DB Down", "inventory store unreachable", nil)
	require.NoError(t, err)
	err = svc.Send(ctx, SeverityCritical, "DB Down", "inventory store unreachable", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, deliveredCount(t, svc, ctx))

	// past the critical cooldown the same key fires again
	clock.Advance(time.Minute*5 + time.Second)
	err = svc.Send(ctx, SeverityCritical, "DB Down", "inventory store unreachable", nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, deliveredCount(t, svc, ctx))
}

func TestWarningCooldownIsLonger(t *testing.T) {
	svc, clock, ctx := setup(t, Options{}, nil)

	err := svc.Send(ctx, SeverityWarning, "Stale data", "no imports", nil)
	require.NoError(t, err)

	// five minutes is not enough for the standard class
	clock.Advance(time.Minute * 6)
	err = svc.Send(ctx, SeverityWarning, "Stale data", "no imports", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, deliveredCount(t, svc, ctx))

	clock.Advance(time.Hour)
	err = svc.Send(ctx, SeverityWarning, "Stale data", "no imports", nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, deliveredCount(t, svc, ctx))
}

func TestSuppressionKeyedBySubject(t *testing.T) {
	svc, _, ctx := setup(t, Options{}, nil)

	err := svc.Send(ctx, SeverityCritical, "DB Down", "inventory", nil)
	require.NoError(t, err)
	err = svc.Send(ctx, SeverityCritical, "QR batch failed", "verification", nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, deliveredCount(t, svc, ctx))
}

func TestSeverityClassesCooldownIndependently(t *testing.T) {
	svc, _, ctx := setup(t, Options{}, nil)

	err := svc.Send(ctx, SeverityCritical, "Mixed subject", "critical view", nil)
	require.NoError(t, err)
	err = svc.Send(ctx, SeverityWarning, "Mixed subject", "warning view", nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, deliveredCount(t, svc, ctx))
}

func TestLedgerEvictionByAgeOnly(t *testing.T) {
	svc, clock, ctx := setup(t, Options{}, nil)

	// a burst of distinct subjects may not evict anything still inside
	// a cooldown window
	for _, subject := range []string{"a", "b", "c", "d", "e"} {
		err := svc.Send(ctx, SeverityCritical, subject, "burst", nil)
		require.NoError(t, err)
	}
	require.EqualValues(t, 5, deliveredCount(t, svc, ctx))

	err := svc.Send(ctx, SeverityCritical, "a", "still suppressed", nil)
	require.NoError(t, err)
	require.EqualValues(t, 5, deliveredCount(t, svc, ctx))

	// entries age out once they are past the longest cooldown
	clock.Advance(time.Hour + time.Minute)
	err = svc.Send(ctx, SeverityCritical, "fresh", "evicts the burst", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, deliveredCount(t, svc, ctx))
}

func TestCriticalTriggersEmergencyBackup(t *testing.T) {
	source, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "inventory",
		DbSchema: "CREATE TABLE things (id INTEGER PRIMARY KEY);",
	})
	t.Cleanup(cleanup)

	backupDir := t.TempDir()
	svc, _, ctx := setup(t,
		Options{BackupDir: backupDir},
		[]BackupSource{{Name: "inventory", DB: source.DB}})

	err := svc.Send(ctx, SeverityCritical, "DB corruption", "integrity check failed", nil)
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(backupDir, "inventory_*.db"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	info, err := os.Stat(matches[0])
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestWarningDoesNotBackup(t *testing.T) {
	source, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "inventory",
		DbSchema: "CREATE TABLE things (id INTEGER PRIMARY KEY);",
	})
	t.Cleanup(cleanup)

	backupDir := t.TempDir()
	svc, _, ctx := setup(t,
		Options{BackupDir: backupDir},
		[]BackupSource{{Name: "inventory", DB: source.DB}})

	err := svc.Send(ctx, SeverityWarning, "Minor issue", "nothing urgent", nil)
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(backupDir, "*.db"))
	require.NoError(t, err)
	require.Empty(t, matches)
}
