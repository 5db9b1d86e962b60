// Package pipeline holds the error vocabulary shared by every stage of
// the change-detection and fulfillment pipeline.
package pipeline

import (
	"errors"
	"fmt"
)

// ConfigurationError means the dealership configuration needed for a
// job is missing or invalid. It is fatal to the single job that hit it.
type ConfigurationError struct {
	Dealership string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("dealership %q: configuration error: %s", e.Dealership, e.Reason)
}

// DataIntegrityError means a critical consistency invariant was
// violated. It is reported, the pipeline keeps running.
type DataIntegrityError struct {
	Check       string
	Description string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("integrity check %q: %s", e.Check, e.Description)
}

// VerificationError means a QR target URL was unreachable or invalid
// after retries were exhausted. Reported per VIN, the batch continues.
type VerificationError struct {
	VIN      string
	URL      string
	Category string
	Err      error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verify vin %s (%s): %s", e.VIN, e.Category, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// TransientNetworkError is retried with backoff internally; it only
// surfaces once the retry budget is spent.
type TransientNetworkError struct {
	Attempts int
	Err      error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("network error after %d attempts: %s", e.Attempts, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// AnomalyWarning flags an implausible diff (for example half the lot
// disappearing in one scrape). The diff is still returned, the caller
// decides whether to trust it.
type AnomalyWarning struct {
	Dealership      string
	RemovedFraction float64
}

func (e *AnomalyWarning) Error() string {
	return fmt.Sprintf(
		"dealership %q: %.0f%% of the active set vanished in one scrape, refusing to trust it silently",
		e.Dealership, e.RemovedFraction*100,
	)
}

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsAnomaly(err error) bool {
	var target *AnomalyWarning
	return errors.As(err, &target)
}

func IsVerification(err error) bool {
	var target *VerificationError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *TransientNetworkError
	return errors.As(err, &target)
}
