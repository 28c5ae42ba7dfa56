// Package archive derives week and month keys and packages per-day reports
// into weekly and monthly zip archives.
package archive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WeekKey returns "<YYYY>-W<NN>" where NN is the Monday-first week of the
// year: days before the year's first Monday fall in week 00. This is not ISO
// week numbering.
func WeekKey(day time.Time) string {
	mondayBased := (int(day.Weekday()) + 6) % 7
	week := (day.YearDay() - 1 + 7 - mondayBased) / 7
	return fmt.Sprintf("%04d-W%02d", day.Year(), week)
}

// ParseWeekKey splits a week key into year and week number.
func ParseWeekKey(key string) (year, week int, err error) {
	y, w, ok := strings.Cut(key, "-W")
	if !ok || len(y) != 4 {
		return 0, 0, fmt.Errorf("malformed week key %q", key)
	}
	if year, err = strconv.Atoi(y); err != nil {
		return 0, 0, fmt.Errorf("malformed week key %q: %w", key, err)
	}
	if week, err = strconv.Atoi(w); err != nil {
		return 0, 0, fmt.Errorf("malformed week key %q: %w", key, err)
	}
	return year, week, nil
}

// MonthKeyForWeek maps a week key to "<YYYY>-<MM>" with
// month = clamp(1, 12, (week-1) div 4 + 1). Four weeks per month is an
// approximation: late December weeks land in month 12 and week 00 in month 1,
// but weeks around month boundaries can be assigned to the neighbouring month.
// Archive names depend on this mapping, so it must not be changed silently.
func MonthKeyForWeek(weekKey string) (string, error) {
	year, week, err := ParseWeekKey(weekKey)
	if err != nil {
		return "", err
	}
	month := floorDiv(week-1, 4) + 1
	month = max(1, min(12, month))
	return fmt.Sprintf("%04d-%02d", year, month), nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
