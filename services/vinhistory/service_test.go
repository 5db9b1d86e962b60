package vinhistory

import (
	"context"
	"testing"
	"time"

	"vinflow-backend/lib/testutil"
	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/vinhistory/db"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Service, context.Context) {
	result, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "vinhistory",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	t.Cleanup(cancel)

	return NewService(result.DB, Options{}), ctx
}

func today() string {
	return timezone.Day(timezone.Now())
}

func TestRecordScanIdempotence(t *testing.T) {
	svc, ctx := setup(t)

	vins := []string{"VIN00000000000001", "VIN00000000000002", "VIN00000000000003"}
	err := svc.RecordScan(ctx, "Dave Sinclair Lincoln", Observed(vins...), today())
	require.NoError(t, err)

	// duplicate writes are no-ops
	err = svc.RecordScan(ctx, "Dave Sinclair Lincoln", Observed(vins...), today())
	require.NoError(t, err)

	diff, err := svc.Compare(ctx, "Dave Sinclair Lincoln", vins)
	require.NoError(t, err)
	require.Empty(t, diff.New)
	require.Empty(t, diff.Removed)
	require.Equal(t, 3, diff.ActiveCount)
	require.Nil(t, diff.Anomaly)
}

func TestCompareSetAlgebra(t *testing.T) {
	svc, ctx := setup(t)

	v1 := []string{"VIN00000000000001", "VIN00000000000002", "VIN00000000000003", "VIN00000000000004"}
	err := svc.RecordScan(ctx, "Suntrup Ford West", Observed(v1...), today())
	require.NoError(t, err)

	v2 := []string{"VIN00000000000003", "VIN00000000000004", "VIN00000000000005"}
	diff, err := svc.Compare(ctx, "Suntrup Ford West", v2)
	require.NoError(t, err)

	if got := cmp.Diff([]string{"VIN00000000000005"}, diff.New); got != "" {
		t.Fatal(got)
	}
	if got := cmp.Diff([]string{"VIN00000000000001", "VIN00000000000002"}, diff.Removed); got != "" {
		t.Fatal(got)
	}
}

func TestDealershipsTrackedIndependently(t *testing.T) {
	svc, ctx := setup(t)

	vin := "1FTFW1ET0EKC12345"
	err := svc.RecordScan(ctx, "Dave Sinclair Lincoln", Observed(vin), today())
	require.NoError(t, err)

	// same VIN at a different mapped dealership is a new arrival there
	diff, err := svc.Compare(ctx, "Suntrup Ford West", []string{vin})
	require.NoError(t, err)
	require.Equal(t, []string{vin}, diff.New)
}

func TestAnomalyGuard(t *testing.T) {
	svc, ctx := setup(t)

	var vins []string
	for _, suffix := range []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "A"} {
		vins = append(vins, "VIN000000000000"+suffix+"X")
	}
	err := svc.RecordScan(ctx, "Bommarito Honda", Observed(vins...), today())
	require.NoError(t, err)

	// 80% of the lot vanishing in one scrape trips the guard
	diff, err := svc.Compare(ctx, "Bommarito Honda", vins[:2])
	require.NoError(t, err)
	require.NotNil(t, diff.Anomaly)
	require.InDelta(t, 0.8, diff.Anomaly.RemovedFraction, 0.001)
	require.Len(t, diff.Removed, 8)
}

func TestCompareAndRecord(t *testing.T) {
	svc, ctx := setup(t)

	day := today()
	v1 := []string{"VIN00000000000001", "VIN00000000000002", "VIN00000000000003"}
	diff, err := svc.CompareAndRecord(ctx, "Dave Sinclair Lincoln", Observed(v1...), day)
	require.NoError(t, err)
	require.Len(t, diff.New, 3)

	// one vehicle leaves, one arrives
	v2 := []string{"VIN00000000000002", "VIN00000000000003", "VIN00000000000004"}
	diff, err = svc.CompareAndRecord(ctx, "Dave Sinclair Lincoln", Observed(v2...), day)
	require.NoError(t, err)
	require.Equal(t, []string{"VIN00000000000004"}, diff.New)
	require.Equal(t, []string{"VIN00000000000001"}, diff.Removed)

	// the removed VIN left the active set, so re-running is clean
	diff, err = svc.CompareAndRecord(ctx, "Dave Sinclair Lincoln", Observed(v2...), day)
	require.NoError(t, err)
	require.Empty(t, diff.New)
	require.Empty(t, diff.Removed)

	// a relisted VIN counts as new again
	diff, err = svc.Compare(ctx, "Dave Sinclair Lincoln", []string{"VIN00000000000001"})
	require.NoError(t, err)
	require.Contains(t, diff.New, "VIN00000000000001")
}

func TestSightingKeepsRawRowRef(t *testing.T) {
	svc, ctx := setup(t)

	day := today()
	sightings := []Sighting{
		{Vin: "VIN00000000000001", RawRowRef: 41},
		{Vin: "VIN00000000000002", RawRowRef: 42},
	}
	_, err := svc.CompareAndRecord(ctx, "Dave Sinclair Lincoln", sightings, day)
	require.NoError(t, err)

	ref, err := svc.Queries().GetSightingRef(ctx, "Dave Sinclair Lincoln", "VIN00000000000002", day)
	require.NoError(t, err)
	require.Equal(t, int64(42), ref)

	// sightings without provenance stay at the zero ref
	err = svc.RecordScan(ctx, "Dave Sinclair Lincoln", Observed("VIN00000000000003"), day)
	require.NoError(t, err)
	ref, err = svc.Queries().GetSightingRef(ctx, "Dave Sinclair Lincoln", "VIN00000000000003", day)
	require.NoError(t, err)
	require.Zero(t, ref)
}

func TestAnomalySkipsRemovalMarkers(t *testing.T) {
	svc, ctx := setup(t)

	day := today()
	var vins []string
	for _, suffix := range []string{"1", "2", "3", "4"} {
		vins = append(vins, "VIN000000000000"+suffix+"X")
	}
	_, err := svc.CompareAndRecord(ctx, "Bommarito Honda", Observed(vins...), day)
	require.NoError(t, err)

	diff, err := svc.CompareAndRecord(ctx, "Bommarito Honda", Observed(vins[:1]...), day)
	require.NoError(t, err)
	require.NotNil(t, diff.Anomaly)

	// the suspicious scrape must not have wiped the active set
	diff, err = svc.Compare(ctx, "Bommarito Honda", vins)
	require.NoError(t, err)
	require.Empty(t, diff.New)
	require.Empty(t, diff.Removed)
}
