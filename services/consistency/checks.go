package consistency

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"vinflow-backend/lib/namemap"
	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/inventory"
	invdb "vinflow-backend/services/inventory/db"
	vhdb "vinflow-backend/services/vinhistory/db"
)

// readTx opens a read-only snapshot transaction so checks never observe
// a half-committed ingest or order write.
func readTx(ctx context.Context, database *sql.DB) (*sql.Tx, error) {
	return database.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
}

func (s *Service) lookbackDay() string {
	return timezone.Day(timezone.DaysAgo(timezone.Now(), s.options.LookbackDays))
}

func (s *Service) checkRawNormalizedIntegrity(ctx context.Context) (CheckResult, error) {
	tx, err := readTx(ctx, s.inventoryDB)
	if err != nil {
		return CheckResult{}, err
	}
	defer tx.Rollback()
	qry := invdb.New(tx)

	var result CheckResult

	orphaned, err := qry.ListOrphanedNormalized(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	if len(orphaned) > 0 {
		sample := make([]string, len(orphaned))
		for i, v := range orphaned {
			sample[i] = v.Vin
		}
		result.Issues = append(result.Issues, Issue{
			Type:        "orphaned_normalized_records",
			Severity:    SeverityCritical,
			Description: "normalized rows with no backing raw row",
			Count:       len(orphaned),
			Sample:      truncateSample(sample, s.options.MaxSample),
		})
	}

	mismatches, err := qry.ListVinStockMismatches(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	if len(mismatches) > 0 {
		sample := make([]string, len(mismatches))
		for i, m := range mismatches {
			sample[i] = fmt.Sprintf("%s: %q != %q", m.Vin, m.NormalizedStock, m.RawStock)
		}
		result.Issues = append(result.Issues, Issue{
			Type:        "vin_stock_mismatch",
			Severity:    SeverityWarning,
			Description: "normalized stock number disagrees with its raw row",
			Count:       len(mismatches),
			Sample:      truncateSample(sample, s.options.MaxSample),
		})
	}

	missing, err := qry.ListRawMissingNormalization(ctx, s.lookbackDay())
	if err != nil {
		return CheckResult{}, err
	}
	if len(missing) > 0 {
		sample := make([]string, len(missing))
		for i, m := range missing {
			sample[i] = fmt.Sprintf("%s/%s", m.Location, m.Vin)
		}
		result.Issues = append(result.Issues, Issue{
			Type:        "raw_missing_normalization",
			Severity:    SeverityWarning,
			Description: "recent raw rows never produced a normalized record",
			Count:       len(missing),
			Sample:      truncateSample(sample, s.options.MaxSample),
		})
	}
	return result, nil
}

func (s *Service) checkVinHistoryIntegrity(ctx context.Context) (CheckResult, error) {
	htx, err := readTx(ctx, s.historyDB)
	if err != nil {
		return CheckResult{}, err
	}
	defer htx.Rollback()
	hqry := vhdb.New(htx)

	itx, err := readTx(ctx, s.inventoryDB)
	if err != nil {
		return CheckResult{}, err
	}
	defer itx.Rollback()
	iqry := invdb.New(itx)

	dealerships, err := hqry.ListDealerships(ctx)
	if err != nil {
		return CheckResult{}, err
	}

	var result CheckResult
	var orphanedVins []string
	var mismatched []string
	for _, dealership := range dealerships {
		sightings, err := hqry.ListSightingCounts(ctx, dealership)
		if err != nil {
			return CheckResult{}, err
		}
		scanCounts, err := iqry.ListScanCountsByLocation(ctx, dealership)
		if err != nil {
			return CheckResult{}, err
		}
		byVin := make(map[string]int64, len(scanCounts))
		for _, c := range scanCounts {
			byVin[c.Vin] = c.ScanCount
		}
		for _, sighting := range sightings {
			scanCount, ok := byVin[sighting.Vin]
			if !ok {
				orphanedVins = append(orphanedVins, fmt.Sprintf("%s/%s", dealership, sighting.Vin))
				continue
			}
			// a history sighting only exists on days the vehicle was
			// scanned, so it can never outnumber the scan counter
			if sighting.Count > scanCount {
				mismatched = append(mismatched,
					fmt.Sprintf("%s/%s: %d sightings vs %d scans",
						dealership, sighting.Vin, sighting.Count, scanCount))
			}
		}
	}

	if len(orphanedVins) > 0 {
		result.Issues = append(result.Issues, Issue{
			Type:        "history_orphaned_vins",
			Severity:    SeverityWarning,
			Description: "vin history rows with no normalized record at the same location",
			Count:       len(orphanedVins),
			Sample:      truncateSample(orphanedVins, s.options.MaxSample),
		})
	}
	if len(mismatched) > 0 {
		result.Issues = append(result.Issues, Issue{
			Type:        "scan_count_mismatch",
			Severity:    SeverityWarning,
			Description: "history sighting count exceeds the normalized scan counter",
			Count:       len(mismatched),
			Sample:      truncateSample(mismatched, s.options.MaxSample),
		})
	}
	return result, nil
}

func (s *Service) checkDealershipConfig(ctx context.Context) (CheckResult, error) {
	if s.registry == nil {
		return CheckResult{}, fmt.Errorf("no dealership registry loaded")
	}

	tx, err := readTx(ctx, s.inventoryDB)
	if err != nil {
		return CheckResult{}, err
	}
	defer tx.Rollback()
	qry := invdb.New(tx)

	activity, err := qry.ListLocationsSince(ctx, s.lookbackDay())
	if err != nil {
		return CheckResult{}, err
	}
	seen := make(map[string]string, len(activity))
	for _, a := range activity {
		seen[a.Location] = a.LastImport
	}

	var result CheckResult
	var stale []string
	for _, dealer := range s.registry.Active() {
		location := s.registry.Resolve(dealer.Name)
		if _, ok := seen[location]; !ok {
			stale = append(stale, dealer.Name)
		}
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		result.Issues = append(result.Issues, Issue{
			Type:        "stale_dealership_data",
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("active dealerships with no inventory imported in %d days", s.options.LookbackDays),
			Count:       len(stale),
			Sample:      truncateSample(stale, s.options.MaxSample),
		})
	}

	known := s.registry.Locations()
	knownList := make([]string, 0, len(known))
	for location := range known {
		knownList = append(knownList, location)
	}
	sort.Strings(knownList)

	var unconfigured []string
	for _, a := range activity {
		if _, ok := known[a.Location]; ok {
			continue
		}
		entry := a.Location
		if suggestions := namemap.Suggest(a.Location, knownList); len(suggestions) > 0 {
			entry = fmt.Sprintf("%s (closest: %s)", a.Location, suggestions[0].Name)
		}
		unconfigured = append(unconfigured, entry)
	}
	if len(unconfigured) > 0 {
		sort.Strings(unconfigured)
		result.Issues = append(result.Issues, Issue{
			Type:        "unconfigured_location",
			Severity:    SeverityWarning,
			Description: "inventory data present under locations no dealership maps to",
			Count:       len(unconfigured),
			Sample:      truncateSample(unconfigured, s.options.MaxSample),
		})
	}
	return result, nil
}

func (s *Service) checkNormalizationSampling(ctx context.Context) (CheckResult, error) {
	tx, err := readTx(ctx, s.inventoryDB)
	if err != nil {
		return CheckResult{}, err
	}
	defer tx.Rollback()
	qry := invdb.New(tx)

	samples, err := qry.ListNormalizedSample(ctx, int64(s.options.SampleSize))
	if err != nil {
		return CheckResult{}, err
	}

	var drifted []string
	for _, sample := range samples {
		expect := inventory.NormalizeCondition(sample.RawVehicleType, sample.RawStatus)
		if expect != sample.Normalized.Condition {
			drifted = append(drifted, fmt.Sprintf("%s: stored %q, derived %q",
				sample.Normalized.Vin, sample.Normalized.Condition, expect))
		}
	}

	var result CheckResult
	if len(drifted) > 0 {
		result.Issues = append(result.Issues, Issue{
			Type:        "normalization_mismatch",
			Severity:    SeverityWarning,
			Description: "stored condition disagrees with re-derivation from the raw row",
			Count:       len(drifted),
			Sample:      truncateSample(drifted, s.options.MaxSample),
		})
	}
	return result, nil
}

func (s *Service) checkTemporalSanity(ctx context.Context) (CheckResult, error) {
	itx, err := readTx(ctx, s.inventoryDB)
	if err != nil {
		return CheckResult{}, err
	}
	defer itx.Rollback()
	iqry := invdb.New(itx)

	htx, err := readTx(ctx, s.historyDB)
	if err != nil {
		return CheckResult{}, err
	}
	defer htx.Rollback()
	hqry := vhdb.New(htx)

	today := timezone.Day(timezone.Now())
	var result CheckResult

	future, err := iqry.ListFutureDatedNormalized(ctx, today)
	if err != nil {
		return CheckResult{}, err
	}
	futureScans, err := hqry.ListFutureScanDates(ctx, today)
	if err != nil {
		return CheckResult{}, err
	}
	if len(future)+len(futureScans) > 0 {
		var sample []string
		for _, v := range future {
			sample = append(sample, fmt.Sprintf("%s last_seen=%s", v.Vin, v.LastSeen))
		}
		for _, sighting := range futureScans {
			sample = append(sample, fmt.Sprintf("%s scan_date=%s", sighting.Vin, sighting.ScanDate))
		}
		result.Issues = append(result.Issues, Issue{
			Type:        "future_dates",
			Severity:    SeverityCritical,
			Description: "rows dated after today",
			Count:       len(future) + len(futureScans),
			Sample:      truncateSample(sample, s.options.MaxSample),
		})
	}

	backwards, err := iqry.ListLastSeenBeforeImport(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	if len(backwards) > 0 {
		sample := make([]string, len(backwards))
		for i, v := range backwards {
			sample[i] = v.Vin
		}
		result.Issues = append(result.Issues, Issue{
			Type:        "last_seen_before_import",
			Severity:    SeverityWarning,
			Description: "normalized rows whose last_seen precedes their import date",
			Count:       len(backwards),
			Sample:      truncateSample(sample, s.options.MaxSample),
		})
	}

	gapped, err := s.findHistoryGaps(ctx, hqry)
	if err != nil {
		return CheckResult{}, err
	}
	if len(gapped) > 0 {
		result.Issues = append(result.Issues, Issue{
			Type:        "history_gap",
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("VINs with gaps over %d days between sightings", s.options.MaxHistoryGapDays),
			Count:       len(gapped),
			Sample:      truncateSample(gapped, s.options.MaxSample),
		})
	}
	return result, nil
}

func (s *Service) findHistoryGaps(ctx context.Context, hqry *vhdb.Queries) ([]string, error) {
	dealerships, err := hqry.ListDealerships(ctx)
	if err != nil {
		return nil, err
	}

	var gapped []string
	for _, dealership := range dealerships {
		sightings, err := hqry.ListSightingCounts(ctx, dealership)
		if err != nil {
			return nil, err
		}
		inspected := 0
		for _, sighting := range sightings {
			if sighting.Count < 2 || inspected >= s.options.SampleSize {
				continue
			}
			inspected++
			dates, err := hqry.ListScanDates(ctx, dealership, sighting.Vin)
			if err != nil {
				return nil, err
			}
			if gap := maxDayGap(dates); gap > s.options.MaxHistoryGapDays {
				gapped = append(gapped, fmt.Sprintf("%s/%s: %d day gap", dealership, sighting.Vin, gap))
			}
		}
	}
	return gapped, nil
}

// maxDayGap expects dates sorted ascending in timezone.DayLayout.
func maxDayGap(dates []string) int {
	max := 0
	for i := 1; i < len(dates); i++ {
		prev, err1 := timezone.ParseDay(dates[i-1])
		next, err2 := timezone.ParseDay(dates[i])
		if err1 != nil || err2 != nil {
			continue
		}
		gap := int(next.Sub(prev) / (24 * time.Hour))
		if gap > max {
			max = gap
		}
	}
	return max
}

func (s *Service) checkCountInvariants(ctx context.Context) (CheckResult, error) {
	itx, err := readTx(ctx, s.inventoryDB)
	if err != nil {
		return CheckResult{}, err
	}
	defer itx.Rollback()
	iqry := invdb.New(itx)

	htx, err := readTx(ctx, s.historyDB)
	if err != nil {
		return CheckResult{}, err
	}
	defer htx.Rollback()
	hqry := vhdb.New(htx)

	window := s.lookbackDay()
	rawCount, err := iqry.CountRawSince(ctx, window)
	if err != nil {
		return CheckResult{}, err
	}
	normalizedCount, err := iqry.CountNormalizedSince(ctx, window)
	if err != nil {
		return CheckResult{}, err
	}

	var result CheckResult
	if rawCount == 0 {
		result.Issues = append(result.Issues, Issue{
			Type:        "no_recent_raw_data",
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("zero raw rows imported in the last %d days", s.options.LookbackDays),
			Count:       1,
		})
	}
	if normalizedCount > rawCount {
		result.Issues = append(result.Issues, Issue{
			Type:        "count_invariant_violation",
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("%d normalized rows exceed %d raw rows in the same window", normalizedCount, rawCount),
			Count:       int(normalizedCount - rawCount),
		})
	}

	totalNormalized, err := iqry.CountNormalized(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	totalHistory, err := hqry.CountHistory(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	// every normalized vehicle should have at least one sighting once
	// the diff engine has seen it
	if totalHistory > 0 && totalHistory < totalNormalized {
		result.Issues = append(result.Issues, Issue{
			Type:        "history_count_invariant",
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("%d history rows for %d normalized vehicles", totalHistory, totalNormalized),
			Count:       int(totalNormalized - totalHistory),
		})
	}
	// an empty history next to populated inventory means the diff
	// engine has never run against this store, worth surfacing
	if totalHistory == 0 && totalNormalized > 0 {
		result.Issues = append(result.Issues, Issue{
			Type:        "history_never_recorded",
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("%d normalized vehicles but zero history rows", totalNormalized),
			Count:       int(totalNormalized),
		})
	}
	return result, nil
}
