package timeparser

import (
	"fmt"
	"time"
)

// zonelessFormats are interpreted as UTC because the import workbooks
// and older mobile clients omit the zone entirely.
var zonelessFormats = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
	"02.01.2006 15:04:05",
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
}

// zonedFormats carry their own offset.
var zonedFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999Z07:00",
}

// ParseReadingDate attempts to parse a reading or visit date with multiple
// formats, falling back to UTC when the value carries no zone.
func ParseReadingDate(dateStr string) (time.Time, error) {
	var lastErr error

	for _, format := range zonedFormats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	for _, format := range zonelessFormats {
		t, err := time.ParseInLocation(format, dateStr, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// IsWithinTolerance checks if the reading timestamp is within tolerance of received time
func IsWithinTolerance(readingTime, receivedTime time.Time, toleranceMinutes int) bool {
	diff := readingTime.Sub(receivedTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceMinutes)*time.Minute
}
