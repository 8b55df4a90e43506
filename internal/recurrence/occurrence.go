package recurrence

import (
	"slices"

	"github.com/twiced-technology-gmbh/taskvault/internal/date"
)

const (
	daysPerWeek   = 7
	monthsPerYear = 12
	// horizonYears bounds every enumeration so a rule that can never match
	// again (e.g. Feb 30) does not loop forever.
	horizonYears = 200
)

// effectiveAnchor prefers the rule's own DTSTART over the caller's anchor.
func effectiveAnchor(r *Rule, anchor date.Date) date.Date {
	if !r.Start.IsZero() {
		return r.Start
	}
	return anchor
}

// OccursOn reports whether the rule produces an occurrence on ref.
// anchor is the date the rule counts from; the rule's DTSTART wins when set.
// Without any anchor nothing occurs. Dates before the anchor never occur.
func OccursOn(r *Rule, ref, anchor date.Date) bool {
	if r == nil {
		return false
	}
	anchor = effectiveAnchor(r, anchor)
	if anchor.IsZero() || ref.Before(anchor) {
		return false
	}
	if !r.Until.IsZero() && ref.After(r.Until) {
		return false
	}
	if !matches(r, ref, anchor) {
		return false
	}
	if r.Count > 0 {
		return withinCount(r, anchor, ref)
	}
	return true
}

// withinCount enumerates matches from the anchor and stops as soon as the
// count is exhausted, so short COUNT rules stay cheap for far-away dates.
func withinCount(r *Rule, anchor, ref date.Date) bool {
	if ref.After(anchor.AddMonths(horizonYears * monthsPerYear)) {
		return false
	}
	n := 0
	for d := anchor; !d.After(ref); d = d.AddDays(1) {
		if matches(r, d, anchor) {
			n++
			if n > r.Count {
				return false
			}
		}
	}
	return true
}

// Next returns the first occurrence strictly after the given date.
// The second result is false when the rule has ended.
func Next(r *Rule, after, anchor date.Date) (date.Date, bool) {
	var found date.Date
	ok := false
	walk(r, anchor, after.AddDays(1), date.Date{}, func(d date.Date) bool {
		found, ok = d, true
		return false
	})
	return found, ok
}

// Between returns every occurrence in [from, to], in order.
func Between(r *Rule, anchor, from, to date.Date) []date.Date {
	var out []date.Date
	walk(r, anchor, from, to, func(d date.Date) bool {
		out = append(out, d)
		return true
	})
	return out
}

// Count returns the number of pattern matches from the anchor through the
// given date, inclusive. COUNT and UNTIL are not applied.
func Count(r *Rule, anchor, through date.Date) int {
	if r == nil {
		return 0
	}
	anchor = effectiveAnchor(r, anchor)
	if anchor.IsZero() {
		return 0
	}
	n := 0
	for d := anchor; !d.After(through); d = d.AddDays(1) {
		if matches(r, d, anchor) {
			n++
		}
	}
	return n
}

// walk visits occurrences from max(from, anchor) through to (or the horizon
// when to is zero), honoring COUNT and UNTIL. fn returns false to stop.
func walk(r *Rule, anchor, from, to date.Date, fn func(date.Date) bool) {
	if r == nil {
		return
	}
	anchor = effectiveAnchor(r, anchor)
	if anchor.IsZero() {
		return
	}
	end := anchor.AddMonths(horizonYears * monthsPerYear)
	if from.After(end) {
		return
	}
	if !to.IsZero() && to.Before(end) {
		end = to
	}
	if !r.Until.IsZero() && r.Until.Before(end) {
		end = r.Until
	}

	start := maxDate(from, anchor)
	if r.Count > 0 {
		// COUNT needs every match from the anchor to know which one is which.
		start = anchor
	}
	seen := 0
	for d := start; !d.After(end); d = d.AddDays(1) {
		if !matches(r, d, anchor) {
			continue
		}
		seen++
		if r.Count > 0 && seen > r.Count {
			return
		}
		if d.Before(from) {
			continue
		}
		if !fn(d) {
			return
		}
	}
}

func maxDate(a, b date.Date) date.Date {
	if a.After(b) {
		return a
	}
	return b
}

// matches checks the frequency pattern only; d must not be before anchor.
func matches(r *Rule, d, anchor date.Date) bool {
	interval := max(r.Interval, 1)
	if len(r.ByMonth) > 0 && !slices.Contains(r.ByMonth, d.Month()) {
		return false
	}
	switch r.Freq {
	case Daily:
		if anchor.DaysUntil(d)%interval != 0 {
			return false
		}
		return weekdayMatches(r, d) && monthDayMatches(r, d)
	case Weekly:
		weeks := anchor.StartOfWeek().DaysUntil(d.StartOfWeek()) / daysPerWeek
		if weeks%interval != 0 {
			return false
		}
		if len(r.ByDay) == 0 {
			return d.Weekday() == anchor.Weekday()
		}
		return weekdayMatches(r, d)
	case Monthly:
		if monthsBetween(anchor, d)%interval != 0 {
			return false
		}
		return dayMatches(r, d, anchor)
	case Yearly:
		if (d.Year()-anchor.Year())%interval != 0 {
			return false
		}
		if len(r.ByMonth) == 0 && d.Month() != anchor.Month() {
			return false
		}
		return dayMatches(r, d, anchor)
	}
	return false
}

func monthsBetween(a, b date.Date) int {
	return (b.Year()-a.Year())*monthsPerYear + int(b.Month()) - int(a.Month())
}

// dayMatches applies the day-of-month selection for monthly and yearly rules:
// BYDAY (with optional ordinal) and BYMONTHDAY must both match when both are
// given; with neither, the anchor's day-of-month is used and months lacking
// that day are skipped.
func dayMatches(r *Rule, d, anchor date.Date) bool {
	if len(r.ByDay) == 0 && len(r.ByMonthDay) == 0 {
		return d.Day() == anchor.Day()
	}
	return weekdayMatches(r, d) && monthDayMatches(r, d)
}

func weekdayMatches(r *Rule, d date.Date) bool {
	if len(r.ByDay) == 0 {
		return true
	}
	for _, wd := range r.ByDay {
		if wd.Day != d.Weekday() {
			continue
		}
		if wd.N == 0 || nthOfMonth(d, wd.N) {
			return true
		}
	}
	return false
}

func monthDayMatches(r *Rule, d date.Date) bool {
	if len(r.ByMonthDay) == 0 {
		return true
	}
	last := date.DaysIn(d.Year(), d.Month())
	for _, md := range r.ByMonthDay {
		if md > 0 && d.Day() == md {
			return true
		}
		if md < 0 && d.Day() == last+md+1 {
			return true
		}
	}
	return false
}

// nthOfMonth reports whether d is the nth occurrence of its weekday within
// its month. Negative n counts from the end of the month.
func nthOfMonth(d date.Date, n int) bool {
	if n > 0 {
		return (d.Day()-1)/daysPerWeek+1 == n
	}
	last := date.DaysIn(d.Year(), d.Month())
	return (last-d.Day())/daysPerWeek+1 == -n
}
