// Package timeutil is the single place where "which reporting day does this
// instant belong to" is answered. The timer, the store and the ledger all
// derive dates through these helpers so their notions of a day cannot drift.
package timeutil

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used for TimeEntry.Date.
const DateLayout = "2006-01-02"

// ReportingDate returns the calendar date the instant falls on in the given
// reporting timezone.
func ReportingDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// SameReportingDay reports whether two instants fall on the same calendar
// day in the given reporting timezone.
func SameReportingDay(a, b time.Time, loc *time.Location) bool {
	return ReportingDate(a, loc) == ReportingDate(b, loc)
}

// EndOfReportingDay returns 23:59:59.999 of the instant's day in the
// reporting timezone. A session that crosses midnight is closed at exactly
// this instant.
func EndOfReportingDay(t time.Time, loc *time.Location) time.Time {
	d := t.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 999_000_000, loc)
}

// StartOfNextReportingDay returns 00:00:00.000 of the day after the
// instant's day in the reporting timezone.
func StartOfNextReportingDay(t time.Time, loc *time.Location) time.Time {
	d := t.In(loc).AddDate(0, 0, 1)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// MonthSheetLabel derives the monthly sheet name for a reporting date, e.g.
// "2025年1月". The label must stay stable: rows are located by scanning the
// sheet this label addresses.
func MonthSheetLabel(date string) (string, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid reporting date %q: %w", date, err)
	}
	return fmt.Sprintf("%d年%d月", d.Year(), int(d.Month())), nil
}

// WorkingHours formats the span between start and end as hours with two
// decimal places, the way the spreadsheet column expects it.
func WorkingHours(start, end time.Time) string {
	hours := end.Sub(start).Hours()
	return fmt.Sprintf("%.2f", hours)
}

// FormatClock renders an elapsed duration as HH:MM:SS for display.
func FormatClock(d time.Duration) string {
	total := int64(d.Seconds())
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatSheetTime renders an instant in the reporting timezone for the
// cosmetic start/end columns of the spreadsheet.
func FormatSheetTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006/01/02 15:04:05")
}
