package dealers

import "strings"

// FilteringRules decides which scraped vehicles are eligible for a CAO
// order. The zero value (after Normalize) accepts every on-lot vehicle.
type FilteringRules struct {
	// vehicle types to include, e.g. ["new", "used", "certified"];
	// empty means all
	VehicleTypes []string `json:"vehicle_types"`
	MinPrice     float64  `json:"min_price"`
	MaxPrice     float64  `json:"max_price"`
	// normalized statuses to exclude, e.g. ["in-transit"]
	ExcludeStatuses []string `json:"exclude_statuses"`
	// drop vehicles without a stock number
	RequireStock bool `json:"require_stock"`
}

func (r *FilteringRules) Normalize() {
	for i, v := range r.VehicleTypes {
		r.VehicleTypes[i] = strings.ToLower(strings.TrimSpace(v))
	}
	for i, v := range r.ExcludeStatuses {
		r.ExcludeStatuses[i] = strings.ToLower(strings.TrimSpace(v))
	}
}

func (r FilteringRules) AllowsType(vehicleType string) bool {
	if len(r.VehicleTypes) == 0 {
		return true
	}
	vehicleType = strings.ToLower(vehicleType)
	for _, v := range r.VehicleTypes {
		if v == vehicleType {
			return true
		}
	}
	return false
}

func (r FilteringRules) ExcludesStatus(status string) bool {
	status = strings.ToLower(status)
	for _, v := range r.ExcludeStatuses {
		if v == status {
			return true
		}
	}
	return false
}

func (r FilteringRules) AllowsPrice(price float64) bool {
	if r.MinPrice > 0 && price < r.MinPrice {
		return false
	}
	if r.MaxPrice > 0 && price > r.MaxPrice {
		return false
	}
	return true
}

// DefaultExportFields is the column order used when a dealership's
// output rules don't specify one.
var DefaultExportFields = []string{
	"vin", "stock", "year", "make", "model", "price", "url",
}

// OutputRules governs the shape of the CSV export artifact.
type OutputRules struct {
	Fields []string `json:"fields"`
	SortBy []string `json:"sort_by"`
	// include a column with the QR image path
	QRColumn bool `json:"qr_column"`
}

func (r *OutputRules) Normalize() {
	if len(r.Fields) == 0 {
		r.Fields = append([]string{}, DefaultExportFields...)
	}
	if len(r.SortBy) == 0 {
		r.SortBy = []string{"make", "model", "vin"}
	}
}
