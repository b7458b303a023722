package validator_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/meter-sync-worker/internal/sync"
	"github.com/septivank/meter-sync-worker/internal/validator"
)

const (
	testMinPhotos       = 2
	testFutureTolerance = 15
)

var testReceivedAt = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func validCandidate() sync.Candidate {
	return sync.Candidate{
		MeterID:      uuid.New(),
		ReadingValue: 1234.5,
		ReadingDate:  testReceivedAt.Add(-time.Hour),
		Photos:       []string{"photos/a.jpg", "photos/b.jpg"},
	}
}

func TestValidateCandidate_Valid(t *testing.T) {
	v := validator.NewValidator(testMinPhotos, testFutureTolerance)

	result := v.ValidateCandidate(validCandidate(), testReceivedAt)
	if !result.IsValid {
		t.Errorf("Expected valid candidate, got reason: %s", result.Reason)
	}
}

func TestValidateCandidate_MissingMeterID(t *testing.T) {
	v := validator.NewValidator(testMinPhotos, testFutureTolerance)

	candidate := validCandidate()
	candidate.MeterID = uuid.Nil

	result := v.ValidateCandidate(candidate, testReceivedAt)
	if result.IsValid {
		t.Error("Expected invalid candidate for missing meter id")
	}
}

func TestValidateCandidate_NonPositiveValue(t *testing.T) {
	v := validator.NewValidator(testMinPhotos, testFutureTolerance)

	for _, value := range []float64{0, -5} {
		candidate := validCandidate()
		candidate.ReadingValue = value

		result := v.ValidateCandidate(candidate, testReceivedAt)
		if result.IsValid {
			t.Errorf("Expected invalid candidate for reading value %v", value)
		}
	}
}

func TestValidateCandidate_MissingDate(t *testing.T) {
	v := validator.NewValidator(testMinPhotos, testFutureTolerance)

	candidate := validCandidate()
	candidate.ReadingDate = time.Time{}

	result := v.ValidateCandidate(candidate, testReceivedAt)
	if result.IsValid {
		t.Error("Expected invalid candidate for missing reading date")
	}
}

func TestValidateCandidate_FutureBeyondTolerance(t *testing.T) {
	v := validator.NewValidator(testMinPhotos, testFutureTolerance)

	candidate := validCandidate()
	candidate.ReadingDate = testReceivedAt.Add(16 * time.Minute)

	result := v.ValidateCandidate(candidate, testReceivedAt)
	if result.IsValid {
		t.Error("Expected invalid candidate for reading date beyond tolerance")
	}
	if !strings.Contains(result.Reason, "future") {
		t.Errorf("Expected future-date reason, got: %s", result.Reason)
	}
}

func TestValidateCandidate_FutureWithinTolerance(t *testing.T) {
	v := validator.NewValidator(testMinPhotos, testFutureTolerance)

	// Clock skew up to the tolerance is accepted.
	candidate := validCandidate()
	candidate.ReadingDate = testReceivedAt.Add(10 * time.Minute)

	result := v.ValidateCandidate(candidate, testReceivedAt)
	if !result.IsValid {
		t.Errorf("Expected valid candidate within clock-skew tolerance, got: %s", result.Reason)
	}
}

func TestValidateCandidate_OldReadingAccepted(t *testing.T) {
	v := validator.NewValidator(testMinPhotos, testFutureTolerance)

	// Offline clients submit days-old observations.
	candidate := validCandidate()
	candidate.ReadingDate = testReceivedAt.Add(-72 * time.Hour)

	result := v.ValidateCandidate(candidate, testReceivedAt)
	if !result.IsValid {
		t.Errorf("Expected old reading to be accepted, got: %s", result.Reason)
	}
}

func TestValidateCandidate_LatitudeOutOfRange(t *testing.T) {
	v := validator.NewValidator(testMinPhotos, testFutureTolerance)

	lat := 95.0
	candidate := validCandidate()
	candidate.Latitude = &lat

	result := v.ValidateCandidate(candidate, testReceivedAt)
	if result.IsValid {
		t.Error("Expected invalid candidate for latitude out of range")
	}
}

func TestValidateCandidate_LongitudeOutOfRange(t *testing.T) {
	v := validator.NewValidator(testMinPhotos, testFutureTolerance)

	lon := -181.0
	candidate := validCandidate()
	candidate.Longitude = &lon

	result := v.ValidateCandidate(candidate, testReceivedAt)
	if result.IsValid {
		t.Error("Expected invalid candidate for longitude out of range")
	}
}

func TestValidateCandidate_TooFewPhotos(t *testing.T) {
	v := validator.NewValidator(testMinPhotos, testFutureTolerance)

	candidate := validCandidate()
	candidate.Photos = []string{"photos/a.jpg"}

	result := v.ValidateCandidate(candidate, testReceivedAt)
	if result.IsValid {
		t.Error("Expected invalid candidate for too few photos")
	}
}

func TestValidateCandidate_EmptyPhotoURL(t *testing.T) {
	v := validator.NewValidator(testMinPhotos, testFutureTolerance)

	candidate := validCandidate()
	candidate.Photos = []string{"photos/a.jpg", ""}

	result := v.ValidateCandidate(candidate, testReceivedAt)
	if result.IsValid {
		t.Error("Expected invalid candidate for empty photo URL")
	}
}
