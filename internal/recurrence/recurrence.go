// Package recurrence computes the next due instant for a weekday × time-of-day
// rule. It is pure: no I/O, no state, deterministic for a given input.
//
// All day-boundary math happens in a single reference location configured for
// the deployment; results are returned in UTC.
package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextOccurrence returns the earliest instant strictly after `after` matching
// one of days × times, evaluated in loc.
//
// Each time of day compiles to one cron expression over the shared day set
// ("30 18 * * mon,wed"); the result is the minimum of Next across them.
// Returns ok=false only when either set is empty; callers are expected to
// validate before invoking.
func NextOccurrence(days []domain.Weekday, times []domain.TimeOfDay, after time.Time, loc *time.Location) (time.Time, bool) {
	if len(days) == 0 || len(times) == 0 {
		return time.Time{}, false
	}

	tokens := make([]string, len(days))
	for i, d := range days {
		tokens[i] = string(d)
	}
	dow := strings.Join(tokens, ",")

	ref := after.In(loc)

	var best time.Time
	for _, t := range times {
		sched, err := parser.Parse(fmt.Sprintf("%d %d * * %s", t.Minute, t.Hour, dow))
		if err != nil {
			// Only reachable with day or time values that bypassed validation.
			return time.Time{}, false
		}
		cand := sched.Next(ref)
		if cand.IsZero() {
			continue
		}
		if best.IsZero() || cand.Before(best) {
			best = cand
		}
	}

	if best.IsZero() {
		return time.Time{}, false
	}
	return best.UTC(), true
}
