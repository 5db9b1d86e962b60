package inventory

import "strings"

// Condition values stored on normalized rows.
const (
	ConditionNew       = "new"
	ConditionUsed      = "used"
	ConditionCertified = "certified"
)

// NormalizeCondition derives the normalized condition from the raw
// vehicle_type and status fields. Kept pure so the consistency
// verifier can re-derive and diff against stored values.
func NormalizeCondition(rawVehicleType, rawStatus string) string {
	t := strings.ToLower(strings.TrimSpace(rawVehicleType))
	s := strings.ToLower(strings.TrimSpace(rawStatus))

	switch {
	case strings.Contains(t, "certified") || strings.Contains(t, "cpo"):
		return ConditionCertified
	case strings.Contains(t, "new"):
		return ConditionNew
	case strings.Contains(t, "used") || strings.Contains(t, "pre-owned") || strings.Contains(t, "preowned"):
		return ConditionUsed
	}
	// some sites only carry the condition in the status column
	switch {
	case strings.Contains(s, "certified"):
		return ConditionCertified
	case strings.Contains(s, "new"):
		return ConditionNew
	}
	return ConditionUsed
}

var offLotStatuses = []string{
	"in-transit", "in transit", "in production", "sold", "allocated", "courtesy",
}

// NormalizeOnLot decides whether a raw status counts as physically
// available for sale.
func NormalizeOnLot(rawStatus string) bool {
	s := strings.ToLower(strings.TrimSpace(rawStatus))
	for _, off := range offLotStatuses {
		if strings.Contains(s, off) {
			return false
		}
	}
	return true
}

// NormalizeStatus collapses raw status strings into a small stable set.
func NormalizeStatus(rawStatus string) string {
	s := strings.ToLower(strings.TrimSpace(rawStatus))
	switch {
	case s == "":
		return "onlot"
	case strings.Contains(s, "transit") || strings.Contains(s, "production"):
		return "in-transit"
	case strings.Contains(s, "sold"):
		return "sold"
	default:
		return "onlot"
	}
}
