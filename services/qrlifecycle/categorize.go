package qrlifecycle

import "strings"

// Error categories for aggregate reporting. Best-effort substring
// classification of whatever the transport or target site said; never
// used for control flow, and the raw message is always kept alongside.
const (
	CategoryDealershipDown = "dealership_down"
	CategoryPageNotFound   = "page_not_found"
	CategoryVehicleSold    = "vehicle_sold"
	CategoryTemporaryError = "temporary_error"
	CategoryRedirectLoop   = "redirect_loop"
	CategorySSLError       = "ssl_error"
	CategoryOther          = "other"
)

func CategorizeError(message string) string {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "no such host") ||
		strings.Contains(m, "connection refused") ||
		strings.Contains(m, "network is unreachable"):
		return CategoryDealershipDown
	case strings.Contains(m, "404") || strings.Contains(m, "not found"):
		return CategoryPageNotFound
	case strings.Contains(m, "sold") || strings.Contains(m, "no longer available"):
		return CategoryVehicleSold
	case strings.Contains(m, "timeout") ||
		strings.Contains(m, "deadline exceeded") ||
		strings.Contains(m, "503") ||
		strings.Contains(m, "502"):
		return CategoryTemporaryError
	case strings.Contains(m, "redirect"):
		return CategoryRedirectLoop
	case strings.Contains(m, "tls") ||
		strings.Contains(m, "ssl") ||
		strings.Contains(m, "certificate"):
		return CategorySSLError
	default:
		return CategoryOther
	}
}
