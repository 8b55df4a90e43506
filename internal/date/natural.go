package date

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	inRe     = regexp.MustCompile(`^in (\d+) (day|week|month|year)s?$`)
	agoRe    = regexp.MustCompile(`^(\d+) (day|week|month|year)s? ago$`)
	offsetRe = regexp.MustCompile(`^([+-]\d+)([dwmy])$`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseRelative resolves an ISO date or a natural-language expression
// against today. Supported forms:
//
//	today, tomorrow, yesterday
//	in 3 days, in 2 weeks, in 1 month, in 1 year
//	3 days ago, 2 weeks ago
//	next friday, last monday, friday
//	next week, last week, next month, last month
//	+3d, -2w, +1m, +1y
func ParseRelative(s string, today Date) (Date, error) {
	text := strings.ToLower(strings.Join(strings.Fields(s), " "))
	if text == "" {
		return Date{}, fmt.Errorf("invalid date: empty")
	}

	switch text {
	case "today", "now":
		return today, nil
	case "tomorrow":
		return today.AddDays(1), nil
	case "yesterday":
		return today.AddDays(-1), nil
	case "next week":
		return today.AddDays(7), nil //nolint:mnd // days per week
	case "last week":
		return today.AddDays(-7), nil //nolint:mnd // days per week
	case "next month":
		return today.AddMonths(1), nil
	case "last month":
		return today.AddMonths(-1), nil
	}

	if m := inRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return shift(today, n, m[2]), nil
	}
	if m := agoRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return shift(today, -n, m[2]), nil
	}
	if m := offsetRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return shift(today, n, map[string]string{"d": "day", "w": "week", "m": "month", "y": "year"}[m[2]]), nil
	}

	if d, ok := parseWeekday(text, today); ok {
		return d, nil
	}

	st, err := ParseStamp(s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or a relative expression", s)
	}
	return st.Date, nil
}

func shift(d Date, n int, unit string) Date {
	switch unit {
	case "week":
		return d.AddDays(n * 7) //nolint:mnd // days per week
	case "month":
		return d.AddMonths(n)
	case "year":
		return d.AddMonths(n * 12) //nolint:mnd // months per year
	default:
		return d.AddDays(n)
	}
}

// parseWeekday handles "next <day>", "last <day>" and a bare "<day>".
// "next" is strictly after today, "last" strictly before, and a bare
// weekday is the next one on or after today.
func parseWeekday(text string, today Date) (Date, bool) {
	prefix, name, found := strings.Cut(text, " ")
	if !found {
		name, prefix = prefix, ""
	}
	wd, ok := weekdays[name]
	if !ok {
		return Date{}, false
	}
	ahead := (int(wd) - int(today.Weekday()) + 7) % 7 //nolint:mnd // days per week
	switch prefix {
	case "":
		return today.AddDays(ahead), true
	case "next", "this":
		if ahead == 0 && prefix == "next" {
			ahead = 7
		}
		return today.AddDays(ahead), true
	case "last":
		back := (int(today.Weekday()) - int(wd) + 7) % 7 //nolint:mnd // days per week
		if back == 0 {
			back = 7
		}
		return today.AddDays(-back), true
	}
	return Date{}, false
}
