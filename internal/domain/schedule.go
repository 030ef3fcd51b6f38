package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Weekday is a day-of-week token ("mon".."sun").
type Weekday string

const (
	Monday    Weekday = "mon"
	Tuesday   Weekday = "tue"
	Wednesday Weekday = "wed"
	Thursday  Weekday = "thu"
	Friday    Weekday = "fri"
	Saturday  Weekday = "sat"
	Sunday    Weekday = "sun"
)

var weekdayTokens = map[string]Weekday{
	"mon": Monday, "monday": Monday,
	"tue": Tuesday, "tuesday": Tuesday,
	"wed": Wednesday, "wednesday": Wednesday,
	"thu": Thursday, "thursday": Thursday,
	"fri": Friday, "friday": Friday,
	"sat": Saturday, "saturday": Saturday,
	"sun": Sunday, "sunday": Sunday,
}

var weekdayTime = map[Weekday]time.Weekday{
	Monday:    time.Monday,
	Tuesday:   time.Tuesday,
	Wednesday: time.Wednesday,
	Thursday:  time.Thursday,
	Friday:    time.Friday,
	Saturday:  time.Saturday,
	Sunday:    time.Sunday,
}

// ParseWeekday parses a day token. Short and long forms are accepted,
// case-insensitive.
func ParseWeekday(s string) (Weekday, error) {
	d, ok := weekdayTokens[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown weekday %q", s)
	}
	return d, nil
}

// Time returns the time.Weekday for d.
func (d Weekday) Time() time.Weekday {
	return weekdayTime[d]
}

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q: out of range", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Before reports whether t is earlier in the day than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	if t.Hour != other.Hour {
		return t.Hour < other.Hour
	}
	return t.Minute < other.Minute
}

// ParseWeekdays parses a comma-separated day list into a deduplicated set.
// CSV is a wire/storage encoding; internally days are always a set.
func ParseWeekdays(csv string) ([]Weekday, error) {
	var days []Weekday
	seen := make(map[Weekday]bool)
	for _, tok := range strings.Split(csv, ",") {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		d, err := ParseWeekday(tok)
		if err != nil {
			return nil, err
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	return days, nil
}

// ParseTimesOfDay parses a comma-separated "HH:MM" list into a sorted,
// deduplicated set.
func ParseTimesOfDay(csv string) ([]TimeOfDay, error) {
	var times []TimeOfDay
	seen := make(map[TimeOfDay]bool)
	for _, tok := range strings.Split(csv, ",") {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		t, err := ParseTimeOfDay(tok)
		if err != nil {
			return nil, err
		}
		if !seen[t] {
			seen[t] = true
			times = append(times, t)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times, nil
}

// FormatWeekdays joins days as CSV for storage and API responses.
func FormatWeekdays(days []Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

// FormatTimesOfDay joins times as CSV for storage and API responses.
func FormatTimesOfDay(times []TimeOfDay) string {
	parts := make([]string, len(times))
	for i, t := range times {
		parts[i] = t.String()
	}
	return strings.Join(parts, ",")
}

// Schedule is a named recurring rule for republishing a set of brands.
type Schedule struct {
	ID   uuid.UUID
	Name string

	Active bool

	Days  []Weekday
	Times []TimeOfDay

	BrandIDs []uuid.UUID

	LastRunAt *time.Time
	NextRunAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
