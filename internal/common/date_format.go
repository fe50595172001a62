package common

import (
	"fmt"
	"strings"
	"time"
)

// Standard date format constants
const (
	// ISO8601Date is the standard date format used for target dates and settings
	ISO8601Date = "2006-01-02"

	// PanoramaMonth is the capture date format reported by Street View metadata
	PanoramaMonth = "2006-01"

	// ExportLabel names an export run and its frame files
	ExportLabel = "20060102_150405"

	// DisplayDate is the human-readable format used for UI display
	DisplayDate = "Jan 2006"

	// OverlayDate is the format stamped on exported frames
	OverlayDate = "January 2006"
)

var panoramaLayouts = []string{PanoramaMonth, ISO8601Date, time.RFC3339}

// ParseISO8601 parses a date string in ISO 8601 format (YYYY-MM-DD)
func ParseISO8601(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("date string is empty")
	}
	return time.Parse(ISO8601Date, dateStr)
}

// FormatISO8601 formats a time.Time to ISO 8601 date string (YYYY-MM-DD)
func FormatISO8601(t time.Time) string {
	return t.Format(ISO8601Date)
}

// ParsePanoramaDate accepts the month, day and timestamp forms providers use
// for capture dates.
func ParsePanoramaDate(dateStr string) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("date string is empty")
	}
	for _, layout := range panoramaLayouts {
		if t, err := time.Parse(layout, dateStr); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised panorama date %q", dateStr)
}

// FormatPanoramaDate formats a capture date as YYYY-MM
func FormatPanoramaDate(t time.Time) string {
	return t.Format(PanoramaMonth)
}

// FormatDisplay formats a capture date for the UI (Jan 2006)
func FormatDisplay(t time.Time) string {
	return t.Format(DisplayDate)
}

// FormatOverlay formats a capture date string for frame overlays. Unparseable
// input is returned unchanged.
func FormatOverlay(dateStr string) string {
	t, err := ParsePanoramaDate(dateStr)
	if err != nil {
		return dateStr
	}
	return t.Format(OverlayDate)
}

// FormatExportLabel formats the start time of an export run (YYYYMMDD_HHMMSS)
func FormatExportLabel(t time.Time) string {
	return t.Format(ExportLabel)
}

// ValidateISO8601 checks if a date string is in valid ISO 8601 format
func ValidateISO8601(dateStr string) bool {
	_, err := ParseISO8601(dateStr)
	return err == nil
}
