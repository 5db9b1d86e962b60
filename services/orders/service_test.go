package orders

import (
	"context"
	"encoding/csv"
	"os"
	"strings"
	"testing"
	"time"

	"vinflow-backend/lib/pipeline"
	"vinflow-backend/lib/testutil"
	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/dealers"
	"vinflow-backend/services/inventory"
	invdb "vinflow-backend/services/inventory/db"
	"vinflow-backend/services/orders/db"
	"vinflow-backend/services/qrlifecycle"
	qrdb "vinflow-backend/services/qrlifecycle/db"
	"vinflow-backend/services/vinhistory"
	vhdb "vinflow-backend/services/vinhistory/db"

	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *dealers.Registry {
	registry, err := dealers.NewRegistry(dealers.Config{
		Dealerships: []dealers.Dealership{
			{
				Name:              "Dave Sinclair Lincoln South",
				IsActive:          true,
				InventoryLocation: "Dave Sinclair Lincoln",
			},
		},
	})
	require.NoError(t, err)
	return registry
}

func setup(t *testing.T) (*Service, inventory.Store, context.Context) {
	ordersDB, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "orders",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)
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

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	t.Cleanup(cancel)

	store := inventory.NewStore(invDB.DB)
	history := vinhistory.NewService(historyDB.DB, vinhistory.Options{})
	qr := qrlifecycle.NewService(qrDB.DB, qrlifecycle.Options{})
	svc := NewService(ordersDB.DB, testRegistry(t), store, history, qr, Options{
		ArtifactDir: t.TempDir(),
	})
	return svc, store, ctx
}

func seedInventory(t *testing.T, store inventory.Store, ctx context.Context) {
	err := store.IngestScan(ctx, "Dave Sinclair Lincoln", []inventory.VehicleRow{
		{Vin: "1FTFW1ET0EKC12345", Stock: "F1001", Make: "Ford", Model: "F-150", Year: 2023, Price: 45000, VehicleType: "New", Status: "On Lot", Url: "https://example.com/f150"},
		{Vin: "5LMCJ2C97LUL54321", Stock: "L2002", Make: "Lincoln", Model: "Corsair", Year: 2022, Price: 38000, VehicleType: "Certified Pre-Owned", Status: "", Url: "https://example.com/corsair"},
	}, timezone.Day(timezone.Now()))
	require.NoError(t, err)
}

func readArtifact(t *testing.T, path string) [][]string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestCAOThroughNameMapping(t *testing.T) {
	svc, store, ctx := setup(t)
	seedInventory(t, store, ctx)

	// the order names the storefront, the inventory lives under the
	// mapped location
	result, err := svc.ProcessCAO(ctx, CAORequest{
		Dealership:   "Dave Sinclair Lincoln South",
		TemplateType: "shortcut",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 2, result.TotalVehicles)
	require.Equal(t, 2, result.NewVehicles)
	require.Equal(t, 2, result.QRCodesGenerated)
	require.NotEmpty(t, result.DownloadArtifact)

	records := readArtifact(t, result.DownloadArtifact)
	require.Len(t, records, 3)
	require.Equal(t, dealers.DefaultExportFields, records[0])

	var vins []string
	for _, record := range records[1:] {
		vins = append(vins, record[0])
	}
	require.Contains(t, vins, "1FTFW1ET0EKC12345")

	// rows come out sorted by make
	require.Equal(t, "Ford", records[1][3])
	require.Equal(t, "Lincoln", records[2][3])
}

func TestCAOIdempotentWithoutNewScan(t *testing.T) {
	svc, store, ctx := setup(t)
	seedInventory(t, store, ctx)

	first, err := svc.ProcessCAO(ctx, CAORequest{Dealership: "Dave Sinclair Lincoln South"})
	require.NoError(t, err)
	require.Equal(t, 2, first.NewVehicles)

	// same inventory, same day: nothing is new the second time
	second, err := svc.ProcessCAO(ctx, CAORequest{Dealership: "Dave Sinclair Lincoln South"})
	require.NoError(t, err)
	require.True(t, second.Success)
	require.Equal(t, 0, second.NewVehicles)
	require.Empty(t, second.DownloadArtifact)
	require.NotEmpty(t, second.Warnings)
}

func TestListPathReportsMissingVINs(t *testing.T) {
	svc, store, ctx := setup(t)
	seedInventory(t, store, ctx)

	result, err := svc.ProcessList(ctx, ListRequest{
		Dealership: "Dave Sinclair Lincoln South",
		VINs:       []string{"1FTFW1ET0EKC12345", "NOPE000000000001"},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.QRCodesGenerated)
	require.Equal(t, []string{"NOPE000000000001"}, result.MissingVINs)

	records := readArtifact(t, result.DownloadArtifact)
	require.Len(t, records, 2)
	require.Equal(t, "1FTFW1ET0EKC12345", records[1][0])
}

func TestUnknownDealershipFailsJob(t *testing.T) {
	svc, _, ctx := setup(t)

	result, err := svc.ProcessCAO(ctx, CAORequest{Dealership: "Nobody Motors"})
	require.Error(t, err)
	require.True(t, pipeline.IsConfiguration(err))
	require.False(t, result.Success)

	job, err := svc.Queries().GetOrderJob(ctx, result.JobID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, job.Status)
	require.Contains(t, job.Errors, "unknown dealership")
}

func TestEmptyLotIsSuccessWithWarning(t *testing.T) {
	svc, _, ctx := setup(t)

	result, err := svc.ProcessCAO(ctx, CAORequest{Dealership: "Dave Sinclair Lincoln South"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 0, result.TotalVehicles)
	require.Empty(t, result.DownloadArtifact)
	require.NotEmpty(t, result.Warnings)

	job, err := svc.Queries().GetOrderJob(ctx, result.JobID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, job.Status)
}

func TestJobPersistence(t *testing.T) {
	svc, store, ctx := setup(t)
	seedInventory(t, store, ctx)

	result, err := svc.ProcessCAO(ctx, CAORequest{Dealership: "Dave Sinclair Lincoln South"})
	require.NoError(t, err)

	jobs, err := svc.Queries().ListOrderJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, result.JobID, jobs[0].ID)
	require.Equal(t, ModeCAO, jobs[0].Mode)
	require.EqualValues(t, 2, jobs[0].QrCodesGenerated)
	require.True(t, strings.HasSuffix(jobs[0].ArtifactPath, ".csv"))
	require.NotEmpty(t, jobs[0].FinishedAt)
}
