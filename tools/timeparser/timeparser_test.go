package timeparser_test

import (
	"testing"
	"time"

	"github.com/septivank/meter-sync-worker/tools/timeparser"
)

func TestParseReadingDate_RFC3339(t *testing.T) {
	result, err := timeparser.ParseReadingDate("2026-01-15T10:30:45Z")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2026, 1, 15, 10, 30, 45, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseReadingDate_ZonelessDateTime(t *testing.T) {
	result, err := timeparser.ParseReadingDate("2026-01-15 10:30:45")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2026, 1, 15, 10, 30, 45, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseReadingDate_DottedDate(t *testing.T) {
	result, err := timeparser.ParseReadingDate("15.01.2026")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseReadingDate_SlashedDateTime(t *testing.T) {
	result, err := timeparser.ParseReadingDate("15/01/2026 08:00:00")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseReadingDate_WithOffset(t *testing.T) {
	result, err := timeparser.ParseReadingDate("2026-01-15T10:30:45+03:00")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2026, 1, 15, 7, 30, 45, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseReadingDate_Invalid(t *testing.T) {
	_, err := timeparser.ParseReadingDate("not-a-date")
	if err == nil {
		t.Error("Expected error for invalid timestamp")
	}
}

func TestIsWithinTolerance_WithinRange(t *testing.T) {
	readingTime := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	receivedTime := time.Date(2026, 1, 15, 10, 33, 0, 0, time.UTC) // 3 minutes later

	if !timeparser.IsWithinTolerance(readingTime, receivedTime, 5) {
		t.Error("Expected timestamp to be within tolerance")
	}
}

func TestIsWithinTolerance_OutsideRange(t *testing.T) {
	readingTime := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	receivedTime := time.Date(2026, 1, 15, 10, 36, 0, 0, time.UTC) // 6 minutes later

	if timeparser.IsWithinTolerance(readingTime, receivedTime, 5) {
		t.Error("Expected timestamp to be outside tolerance")
	}
}

func TestIsWithinTolerance_ExactBoundary(t *testing.T) {
	readingTime := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	receivedTime := time.Date(2026, 1, 15, 10, 35, 0, 0, time.UTC) // Exactly 5 minutes

	if !timeparser.IsWithinTolerance(readingTime, receivedTime, 5) {
		t.Error("Expected timestamp at exact boundary to be within tolerance")
	}
}
