package orders

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"vinflow-backend/lib/timezone"
	"vinflow-backend/services/dealers"
	invdb "vinflow-backend/services/inventory/db"

	"github.com/mazen160/go-random"
)

// exportRow carries every column a dealership's output rules may ask
// for, keyed by field name.
type exportRow struct {
	fields map[string]string
}

func newExportRow(vehicle invdb.NormalizedVehicle, qrPath string) exportRow {
	return exportRow{fields: map[string]string{
		"vin":       vehicle.Vin,
		"stock":     vehicle.Stock,
		"year":      strconv.FormatInt(vehicle.Year, 10),
		"make":      vehicle.Make,
		"model":     vehicle.Model,
		"price":     strconv.FormatFloat(vehicle.Price, 'f', 2, 64),
		"condition": vehicle.Condition,
		"status":    vehicle.Status,
		"url":       vehicle.Url,
		"qr_code":   qrPath,
	}}
}

func sortExportRows(rows []exportRow, sortBy []string) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, key := range sortBy {
			a := rows[i].fields[key]
			b := rows[j].fields[key]
			if a != b {
				return a < b
			}
		}
		return false
	})
}

func exportColumns(output dealers.OutputRules) []string {
	columns := append([]string{}, output.Fields...)
	if output.QRColumn {
		found := false
		for _, c := range columns {
			if c == "qr_code" {
				found = true
				break
			}
		}
		if !found {
			columns = append(columns, "qr_code")
		}
	}
	return columns
}

func slugify(name string) string {
	slug := strings.ToLower(name)
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, slug)
	return strings.Trim(slug, "_")
}

// writeArtifact renders the job's CSV under dir. The random suffix keeps
// reruns of the same dealership on the same day from clobbering each other.
func writeArtifact(dir, dealership, mode string, columns []string, rows []exportRow) (string, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	suffix, err := random.String(6)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_%s_%s.csv",
		slugify(dealership), mode, timezone.Day(timezone.Now()), suffix)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	err = w.Write(columns)
	if err != nil {
		return "", err
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, column := range columns {
			record[i] = row.fields[column]
		}
		err = w.Write(record)
		if err != nil {
			return "", err
		}
	}
	w.Flush()
	if w.Error() != nil {
		return "", w.Error()
	}
	return path, f.Close()
}
