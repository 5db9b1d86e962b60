package scheduler

import (
	"context"
	"testing"
	"time"

	"vinflow-backend/lib/testutil"
	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/alerts"
	alertdb "vinflow-backend/services/alerts/db"
	"vinflow-backend/services/consistency"
	"vinflow-backend/services/dealers"
	"vinflow-backend/services/inventory"
	invdb "vinflow-backend/services/inventory/db"
	"vinflow-backend/services/qrlifecycle"
	qrdb "vinflow-backend/services/qrlifecycle/db"
	"vinflow-backend/services/vinhistory"
	vhdb "vinflow-backend/services/vinhistory/db"

	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc     *Service
	store   inventory.Store
	history *vinhistory.Service
	alerts  *alerts.Service
	ctx     context.Context
}

func setup(t *testing.T, options Options) fixture {
	invDB, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "inventory",
		DbSchema: invdb.Schema,
	})
	t.Cleanup(cleanup)
	historyDB, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "vinhistory",
		DbSchema: vhdb.Schema,
	})
	t.Cleanup(cleanup)
	qrDB, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "qrlifecycle",
		DbSchema: qrdb.Schema,
	})
	t.Cleanup(cleanup)
	alertDB, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "alerts",
		DbSchema: alertdb.Schema,
	})
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	t.Cleanup(cancel)

	registry, err := dealers.NewRegistry(dealers.Config{
		Dealerships: []dealers.Dealership{
			{Name: "Dave Sinclair Lincoln South", IsActive: true, InventoryLocation: "Dave Sinclair Lincoln"},
		},
	})
	require.NoError(t, err)

	store := inventory.NewStore(invDB.DB)
	history := vinhistory.NewService(historyDB.DB, vinhistory.Options{})
	qr := qrlifecycle.NewService(qrDB.DB, qrlifecycle.Options{})
	dispatcher := alerts.NewService(alertDB.DB, nil, alerts.Options{})
	checker := consistency.NewService(invDB.DB, historyDB.DB, registry, dispatcher, consistency.Options{})

	return fixture{
		svc:     NewService(registry, store, qr, checker, dispatcher, options),
		store:   store,
		history: history,
		alerts:  dispatcher,
		ctx:     ctx,
	}
}

func seed(t *testing.T, f fixture) {
	today := timezone.Day(timezone.Now())
	err := f.store.IngestScan(f.ctx, "Dave Sinclair Lincoln", []inventory.VehicleRow{
		{Vin: "1FTFW1ET0EKC12345", Stock: "F1001", Make: "Ford", Model: "F-150", Year: 2023, Price: 45000, VehicleType: "New", Status: "On Lot", Url: "https://example.com/f150"},
	}, today)
	require.NoError(t, err)
	err = f.history.RecordScan(f.ctx, "Dave Sinclair Lincoln", vinhistory.Observed("1FTFW1ET0EKC12345"), today)
	require.NoError(t, err)
}

func alertCount(t *testing.T, f fixture) int64 {
	count, err := alertdb.New(f.alerts.DB()).CountAlertsSince(f.ctx, "")
	require.NoError(t, err)
	return count
}

func TestHealthSnapshot(t *testing.T) {
	f := setup(t, Options{})
	seed(t, f)

	health, err := f.svc.HealthSnapshot(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", health.Status)
	require.Len(t, health.Inventory, 1)
	require.True(t, health.Inventory[0].Fresh)
	require.NotNil(t, health.QRReport)
	require.True(t, health.QRReport.PrintSafe)
	require.GreaterOrEqual(t, health.Perf.Goroutines, 1)
}

func TestHealthDegradedByStaleLocation(t *testing.T) {
	f := setup(t, Options{})

	// data imported well outside the freshness window
	err := f.store.IngestScan(f.ctx, "Dave Sinclair Lincoln", []inventory.VehicleRow{
		{Vin: "1FTFW1ET0EKC12345", Stock: "F1001", Make: "Ford", Model: "F-150", Year: 2023, Price: 45000, VehicleType: "New", Url: "https://example.com/f150"},
	}, timezone.Day(timezone.DaysAgo(timezone.Now(), 10)))
	require.NoError(t, err)

	health, err := f.svc.HealthSnapshot(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "degraded", health.Status)
	require.False(t, health.Inventory[0].Fresh)
}

func TestFreshnessTaskAlertsOnStaleDealership(t *testing.T) {
	f := setup(t, Options{})

	err := f.svc.freshnessTask(f.ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, alertCount(t, f))

	// immediately rerunning stays inside the alert cooldown
	err = f.svc.freshnessTask(f.ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, alertCount(t, f))
}

func TestQualityTaskAlertsOnSparseRows(t *testing.T) {
	f := setup(t, Options{})
	today := timezone.Day(timezone.Now())
	err := f.store.IngestScan(f.ctx, "Dave Sinclair Lincoln", []inventory.VehicleRow{
		{Vin: "1FTFW1ET0EKC12345", Make: "Ford", Model: "F-150", Year: 2023, VehicleType: "New", Url: "https://example.com/f150"},
	}, today)
	require.NoError(t, err)

	err = f.svc.qualityTask(f.ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, alertCount(t, f))
}

func TestConsistencyTaskFeedsHealth(t *testing.T) {
	f := setup(t, Options{})
	seed(t, f)

	err := f.svc.consistencyTask(f.ctx)
	require.NoError(t, err)

	health, err := f.svc.HealthSnapshot(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, health.LastConsistency)
	require.True(t, health.LastConsistency.Healthy)
}

func TestDaemonsStopOnCancel(t *testing.T) {
	f := setup(t, Options{
		HealthInterval:      time.Millisecond * 10,
		FreshnessInterval:   time.Millisecond * 10,
		QualityInterval:     time.Millisecond * 10,
		PerformanceInterval: time.Millisecond * 10,
		ConsistencyInterval: time.Millisecond * 10,
		QRVerifyInterval:    time.Millisecond * 10,
	})
	seed(t, f)

	ctx, cancel := context.WithCancel(f.ctx)
	f.svc.Start(ctx)

	require.Eventually(t, func() bool {
		return len(f.svc.LastRuns()) == 6
	}, time.Second*5, time.Millisecond*20)

	cancel()
	time.Sleep(time.Millisecond * 50)

	// no task starts after cancellation
	runs := f.svc.LastRuns()
	time.Sleep(time.Millisecond * 100)
	after := f.svc.LastRuns()
	for name, at := range runs {
		require.WithinDuration(t, at, after[name], time.Millisecond*60)
	}
}
