package validator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/meter-sync-worker/internal/sync"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

// Validator checks sync candidates before they reach the coordinator.
// Validation failures are per-row conflicts, never fatal to a batch.
type Validator struct {
	minPhotos              int
	futureToleranceMinutes int
}

// NewValidator creates a new validator with the specified limits
func NewValidator(minPhotos, futureToleranceMinutes int) *Validator {
	return &Validator{
		minPhotos:              minPhotos,
		futureToleranceMinutes: futureToleranceMinutes,
	}
}

// ValidateCandidate validates a single client-submitted reading
func (v *Validator) ValidateCandidate(candidate sync.Candidate, receivedAt time.Time) ValidationResult {
	if candidate.MeterID == uuid.Nil {
		return invalid("missing meter id")
	}

	if candidate.ReadingValue <= 0 {
		return invalid("reading value must be positive")
	}

	if candidate.ReadingDate.IsZero() {
		return invalid("missing reading date")
	}

	// Offline clients legitimately submit old readings, so only
	// future-dated observations beyond clock-skew tolerance are rejected.
	skew := time.Duration(v.futureToleranceMinutes) * time.Minute
	if candidate.ReadingDate.After(receivedAt.Add(skew)) {
		return invalid(fmt.Sprintf("reading date is in the future (beyond %d minute tolerance)", v.futureToleranceMinutes))
	}

	if candidate.Latitude != nil && (*candidate.Latitude < -90 || *candidate.Latitude > 90) {
		return invalid("latitude out of range [-90, 90]")
	}

	if candidate.Longitude != nil && (*candidate.Longitude < -180 || *candidate.Longitude > 180) {
		return invalid("longitude out of range [-180, 180]")
	}

	if len(candidate.Photos) < v.minPhotos {
		return invalid(fmt.Sprintf("at least %d photo URLs are required", v.minPhotos))
	}
	for _, url := range candidate.Photos {
		if url == "" {
			return invalid("empty photo URL")
		}
	}

	return ValidationResult{IsValid: true}
}

func invalid(reason string) ValidationResult {
	return ValidationResult{IsValid: false, Reason: reason}
}
