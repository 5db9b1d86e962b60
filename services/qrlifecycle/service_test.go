package qrlifecycle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"vinflow-backend/lib/testutil"
	"vinflow-backend/services/qrlifecycle/db"

	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, options Options) (*Service, context.Context) {
	result, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "qrlifecycle",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	t.Cleanup(cancel)

	if options.RequestsPerSecond == 0 {
		// don't slow the tests down with the polite default
		options.RequestsPerSecond = 1000
	}
	return NewService(result.DB, options), ctx
}

func TestGenerate(t *testing.T) {
	svc, ctx := setup(t, Options{})
	dir := t.TempDir()

	record, err := svc.Generate(ctx, "1FTFW1ET0EKC12345", "https://example.com/f150", dir)
	require.NoError(t, err)
	require.Equal(t, StatusPending, record.Status)
	require.NotEqual(t, record.QrPath1, record.QrPath2)

	for _, path := range []string{record.QrPath1, record.QrPath2} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Greater(t, info.Size(), int64(0))
		require.True(t, strings.HasPrefix(path, dir))
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>2023 Ford F-150</h1><p>$45,000</p></body></html>`)
	}))
	defer server.Close()

	svc, ctx := setup(t, Options{})
	_, err := svc.Generate(ctx, "1FTFW1ET0EKC12345", server.URL, t.TempDir())
	require.NoError(t, err)

	outcome, err := svc.Verify(ctx, "1FTFW1ET0EKC12345", server.URL)
	require.NoError(t, err)
	require.Equal(t, StatusValid, outcome.Status)
	require.Equal(t, 200, outcome.HttpStatus)

	record, err := svc.Get(ctx, "1FTFW1ET0EKC12345")
	require.NoError(t, err)
	require.Equal(t, StatusValid, record.Status)
	require.NotEmpty(t, record.LastVerified)
}

func TestVerifySoldMarker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>This vehicle has been sold.</p></body></html>`)
	}))
	defer server.Close()

	svc, ctx := setup(t, Options{})
	_, err := svc.Generate(ctx, "1FTFW1ET0EKC12345", server.URL, t.TempDir())
	require.NoError(t, err)

	outcome, err := svc.Verify(ctx, "1FTFW1ET0EKC12345", server.URL)
	require.NoError(t, err)
	require.Equal(t, StatusInvalid, outcome.Status)
	require.Equal(t, CategoryVehicleSold, outcome.ErrorCategory)
}

func TestVerifyRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>2022 Lincoln Corsair</body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc, ctx := setup(t, Options{})
	_, err := svc.Generate(ctx, "5LMCJ2C97LUL54321", server.URL+"/old", t.TempDir())
	require.NoError(t, err)

	outcome, err := svc.Verify(ctx, "5LMCJ2C97LUL54321", server.URL+"/old")
	require.NoError(t, err)
	require.Equal(t, StatusValid, outcome.Status)
	require.True(t, strings.HasSuffix(outcome.FinalUrl, "/new"))
}

func TestVerifyAllIsolatesFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>listing</body></html>`)
	})
	mux.HandleFunc("/missing1", http.NotFound)
	mux.HandleFunc("/missing2", http.NotFound)
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second * 2)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc, ctx := setup(t, Options{
		Timeout:       time.Millisecond * 200,
		RetryCount:    1,
		RetryWaitTime: time.Millisecond * 10,
	})
	dir := t.TempDir()

	for i := 0; i < 7; i++ {
		_, err := svc.Generate(ctx, fmt.Sprintf("VINOK000000000%03d", i), server.URL+"/", dir)
		require.NoError(t, err)
	}
	_, err := svc.Generate(ctx, "VINMISSING0000001", server.URL+"/missing1", dir)
	require.NoError(t, err)
	_, err = svc.Generate(ctx, "VINMISSING0000002", server.URL+"/missing2", dir)
	require.NoError(t, err)
	_, err = svc.Generate(ctx, "VINTIMEOUT0000001", server.URL+"/slow", dir)
	require.NoError(t, err)

	summary, err := svc.VerifyAll(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 10, summary.Attempted)
	require.Equal(t, 7, summary.Valid)
	require.Equal(t, 2, summary.Invalid)
	require.Equal(t, 1, summary.Errors)

	report, err := svc.PrePrintValidationReport(ctx)
	require.NoError(t, err)
	require.False(t, report.PrintSafe)
	require.Equal(t, 3, report.ProblematicCount)
	require.Len(t, report.Problems, 3)
}

func TestVerifyAllCancelledMidBatch(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		fmt.Fprint(w, `<html><body>2023 Ford F-150</body></html>`)
	}))
	defer server.Close()

	svc, ctx := setup(t, Options{Concurrency: 1})
	dir := t.TempDir()

	vins := make([]string, 6)
	for i := range vins {
		vins[i] = fmt.Sprintf("VINCANCEL00000%03d", i)
		_, err := svc.Generate(ctx, vins[i], fmt.Sprintf("%s/%d", server.URL, i), dir)
		require.NoError(t, err)
	}

	batchCtx, cancel := context.WithCancel(ctx)
	type batch struct {
		summary BatchSummary
		err     error
	}
	done := make(chan batch, 1)
	go func() {
		summary, err := svc.VerifyAll(batchCtx, true)
		done <- batch{summary, err}
	}()

	// cancel while the first verification request is in flight, then
	// let the server answer it
	<-started
	cancel()
	close(release)

	result := <-done
	require.NoError(t, result.err)
	require.Equal(t, 1, result.summary.Attempted)
	require.Equal(t, 1, result.summary.Valid)
	require.Equal(t, len(vins)-1, result.summary.Skipped)

	// the in-flight VIN committed despite the cancel, the rest were
	// never started
	records, err := svc.List(ctx)
	require.NoError(t, err)
	verified := 0
	for _, record := range records {
		if record.Status == StatusValid {
			require.NotEmpty(t, record.LastVerified)
			verified++
		} else {
			require.Equal(t, StatusPending, record.Status)
		}
	}
	require.Equal(t, 1, verified)
}

func TestPrePrintGateOnAgedPending(t *testing.T) {
	svc, ctx := setup(t, Options{PendingSLA: time.Nanosecond})

	_, err := svc.Generate(ctx, "1FTFW1ET0EKC12345", "https://example.com/f150", t.TempDir())
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	report, err := svc.PrePrintValidationReport(ctx)
	require.NoError(t, err)
	require.False(t, report.PrintSafe)
	require.Equal(t, 1, report.PendingOverSLA)
}

func TestFreshPendingDoesNotBlockGate(t *testing.T) {
	svc, ctx := setup(t, Options{})

	_, err := svc.Generate(ctx, "1FTFW1ET0EKC12345", "https://example.com/f150", t.TempDir())
	require.NoError(t, err)

	report, err := svc.PrePrintValidationReport(ctx)
	require.NoError(t, err)
	require.True(t, report.PrintSafe)
	require.Equal(t, 1, report.Pending)
}

func TestRecordScanReverifies(t *testing.T) {
	sold := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sold {
			fmt.Fprint(w, `<html><body>Sorry, this vehicle has been sold.</body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body>listing</body></html>`)
	}))
	defer server.Close()

	svc, ctx := setup(t, Options{})
	_, err := svc.Generate(ctx, "1FTFW1ET0EKC12345", server.URL, t.TempDir())
	require.NoError(t, err)

	outcome, err := svc.RecordScan(ctx, "1FTFW1ET0EKC12345", "lot-tablet")
	require.NoError(t, err)
	require.Equal(t, StatusValid, outcome.Status)

	// the status machine is non-monotonic: valid can fall back to invalid
	sold = true
	outcome, err = svc.RecordScan(ctx, "1FTFW1ET0EKC12345", "lot-tablet")
	require.NoError(t, err)
	require.Equal(t, StatusInvalid, outcome.Status)
}

func TestCategorizeError(t *testing.T) {
	cases := map[string]string{
		"dial tcp: lookup deadhost: no such host":     CategoryDealershipDown,
		"404 Not Found":                               CategoryPageNotFound,
		"vehicle already sold":                        CategoryVehicleSold,
		"context deadline exceeded":                   CategoryTemporaryError,
		"stopped after 10 redirects":                  CategoryRedirectLoop,
		"tls: failed to verify certificate":           CategorySSLError,
		"something nobody has seen before":            CategoryOther,
	}
	for message, expect := range cases {
		require.Equal(t, expect, CategorizeError(message), message)
	}
}
