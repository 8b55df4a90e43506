// Package recurrence parses recurrence rules and expands them into
// calendar-date occurrences.
//
// Two text forms are accepted: a subset of RFC 5545 RRULE (with an optional
// DTSTART prefix) and shorthand such as "weekly" or "every 3 days".
package recurrence

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/twiced-technology-gmbh/taskvault/internal/date"
)

// Frequency is the base unit a rule repeats in.
type Frequency int

// Frequencies.
const (
	Daily Frequency = iota + 1
	Weekly
	Monthly
	Yearly
)

var freqNames = map[Frequency]string{
	Daily:   "DAILY",
	Weekly:  "WEEKLY",
	Monthly: "MONTHLY",
	Yearly:  "YEARLY",
}

// String returns the RRULE name of the frequency.
func (f Frequency) String() string {
	return freqNames[f]
}

// Weekday is a BYDAY entry. N selects the Nth such weekday of the month
// (negative counts from the end); zero means every such weekday.
type Weekday struct {
	Day time.Weekday
	N   int
}

// Rule is a parsed recurrence rule.
type Rule struct {
	Freq       Frequency
	Interval   int
	ByDay      []Weekday
	ByMonthDay []int
	ByMonth    []time.Month
	Start      date.Date // DTSTART; zero when the rule carries none
	Count      int       // zero means unbounded
	Until      date.Date // zero means unbounded
}

// ErrUnsupported is returned for rule parts this package does not evaluate.
var ErrUnsupported = errors.New("unsupported recurrence rule")

var dayCodes = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var (
	everyRe = regexp.MustCompile(`^every (\d+|other) (day|week|month|year)s?$`)
	bydayRe = regexp.MustCompile(`^([+-]?\d{1,2})?([A-Z]{2})$`)
)

var unsupportedParts = []string{
	"BYSETPOS", "BYWEEKNO", "BYYEARDAY", "BYHOUR", "BYMINUTE", "BYSECOND", "BYEASTER",
}

// Parse parses an RRULE-subset or shorthand rule.
func Parse(s string) (*Rule, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return nil, errors.New("empty recurrence rule")
	}
	if r, ok := parseShorthand(text); ok {
		return r, nil
	}
	return parseRRule(text)
}

func parseShorthand(text string) (*Rule, bool) {
	lower := strings.ToLower(strings.Join(strings.Fields(text), " "))
	switch lower {
	case "daily", "every day":
		return &Rule{Freq: Daily, Interval: 1}, true
	case "weekly", "every week":
		return &Rule{Freq: Weekly, Interval: 1}, true
	case "monthly", "every month":
		return &Rule{Freq: Monthly, Interval: 1}, true
	case "yearly", "annually", "every year":
		return &Rule{Freq: Yearly, Interval: 1}, true
	case "weekdays", "every weekday":
		return &Rule{Freq: Weekly, Interval: 1, ByDay: []Weekday{
			{Day: time.Monday}, {Day: time.Tuesday}, {Day: time.Wednesday},
			{Day: time.Thursday}, {Day: time.Friday},
		}}, true
	}
	m := everyRe.FindStringSubmatch(lower)
	if m == nil {
		return nil, false
	}
	n := 2
	if m[1] != "other" {
		n, _ = strconv.Atoi(m[1])
	}
	if n < 1 {
		return nil, false
	}
	freq := map[string]Frequency{"day": Daily, "week": Weekly, "month": Monthly, "year": Yearly}[m[2]]
	return &Rule{Freq: freq, Interval: n}, true
}

func parseRRule(text string) (*Rule, error) {
	r := &Rule{Interval: 1}
	lines := strings.FieldsFunc(text, func(c rune) bool { return c == '\n' || c == '\r' })
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToUpper(line), "DTSTART") {
			// DTSTART[;TZID=...]:value, optionally followed by ;RULE-PARTS on one line.
			colon := strings.Index(line, ":")
			if colon < 0 {
				return nil, fmt.Errorf("invalid DTSTART %q", line)
			}
			value, rest, _ := strings.Cut(line[colon+1:], ";")
			d, err := parseCompactDate(value)
			if err != nil {
				return nil, fmt.Errorf("invalid DTSTART: %w", err)
			}
			r.Start = d
			line = rest
		}
		line = strings.TrimPrefix(strings.ToUpper(line), "RRULE:")
		for _, part := range strings.Split(line, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			key, value, ok := strings.Cut(part, "=")
			if !ok {
				return nil, fmt.Errorf("invalid rule part %q", part)
			}
			if err := r.setPart(key, value); err != nil {
				return nil, err
			}
		}
	}
	if r.Freq == 0 {
		return nil, errors.New("recurrence rule has no FREQ")
	}
	return r, nil
}

func (r *Rule) setPart(key, value string) error {
	switch key {
	case "FREQ":
		for f, name := range freqNames {
			if name == value {
				r.Freq = f
				return nil
			}
		}
		return fmt.Errorf("%w: FREQ=%s", ErrUnsupported, value)
	case "INTERVAL":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid INTERVAL %q", value)
		}
		r.Interval = n
	case "COUNT":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid COUNT %q", value)
		}
		r.Count = n
	case "UNTIL":
		d, err := parseCompactDate(value)
		if err != nil {
			return fmt.Errorf("invalid UNTIL: %w", err)
		}
		r.Until = d
	case "BYDAY":
		for _, code := range strings.Split(value, ",") {
			m := bydayRe.FindStringSubmatch(code)
			if m == nil {
				return fmt.Errorf("invalid BYDAY %q", code)
			}
			wd, ok := dayCodes[m[2]]
			if !ok {
				return fmt.Errorf("invalid BYDAY %q", code)
			}
			n := 0
			if m[1] != "" {
				n, _ = strconv.Atoi(m[1])
				if n == 0 || n < -5 || n > 5 {
					return fmt.Errorf("invalid BYDAY ordinal %q", code)
				}
			}
			r.ByDay = append(r.ByDay, Weekday{Day: wd, N: n})
		}
	case "BYMONTHDAY":
		for _, v := range strings.Split(value, ",") {
			n, err := strconv.Atoi(v)
			if err != nil || n == 0 || n < -31 || n > 31 {
				return fmt.Errorf("invalid BYMONTHDAY %q", v)
			}
			r.ByMonthDay = append(r.ByMonthDay, n)
		}
	case "BYMONTH":
		for _, v := range strings.Split(value, ",") {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 12 {
				return fmt.Errorf("invalid BYMONTH %q", v)
			}
			r.ByMonth = append(r.ByMonth, time.Month(n))
		}
	case "WKST":
		// Week offsets are always Monday-based.
	default:
		if slices.Contains(unsupportedParts, key) {
			return fmt.Errorf("%w: %s", ErrUnsupported, key)
		}
		return fmt.Errorf("unknown rule part %q", key)
	}
	return nil
}

// parseCompactDate accepts YYYYMMDD, optionally followed by a THHMMSS[Z] time,
// and also plain YYYY-MM-DD.
func parseCompactDate(s string) (date.Date, error) {
	s = strings.TrimSpace(s)
	if d, err := date.Parse(s); err == nil {
		return d, nil
	}
	if len(s) < 8 { //nolint:mnd // YYYYMMDD
		return date.Date{}, fmt.Errorf("invalid date %q", s)
	}
	t, err := time.Parse("20060102", s[:8])
	if err != nil {
		return date.Date{}, fmt.Errorf("invalid date %q", s)
	}
	return date.Of(t), nil
}

// WithStart returns a copy of r whose DTSTART is d.
func (r *Rule) WithStart(d date.Date) *Rule {
	c := r.clone()
	c.Start = d
	return c
}

func (r *Rule) clone() *Rule {
	c := *r
	c.ByDay = slices.Clone(r.ByDay)
	c.ByMonthDay = slices.Clone(r.ByMonthDay)
	c.ByMonth = slices.Clone(r.ByMonth)
	return &c
}

// String formats the rule in RRULE form, with a DTSTART prefix when set.
func (r *Rule) String() string {
	var parts []string
	if !r.Start.IsZero() {
		parts = append(parts, "DTSTART:"+r.Start.Format("20060102"))
	}
	parts = append(parts, "FREQ="+r.Freq.String())
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if len(r.ByDay) > 0 {
		codes := make([]string, len(r.ByDay))
		for i, wd := range r.ByDay {
			codes[i] = wd.code()
		}
		parts = append(parts, "BYDAY="+strings.Join(codes, ","))
	}
	if len(r.ByMonthDay) > 0 {
		parts = append(parts, "BYMONTHDAY="+joinInts(r.ByMonthDay))
	}
	if len(r.ByMonth) > 0 {
		months := make([]int, len(r.ByMonth))
		for i, m := range r.ByMonth {
			months[i] = int(m)
		}
		parts = append(parts, "BYMONTH="+joinInts(months))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if !r.Until.IsZero() {
		parts = append(parts, "UNTIL="+r.Until.Format("20060102"))
	}
	return strings.Join(parts, ";")
}

func (wd Weekday) code() string {
	for code, d := range dayCodes {
		if d == wd.Day {
			if wd.N != 0 {
				return strconv.Itoa(wd.N) + code
			}
			return code
		}
	}
	return ""
}

func joinInts(ns []int) string {
	s := make([]string, len(ns))
	for i, n := range ns {
		s[i] = strconv.Itoa(n)
	}
	return strings.Join(s, ",")
}

var unitNames = map[Frequency]string{Daily: "day", Weekly: "week", Monthly: "month", Yearly: "year"}

// Describe renders the rule in short English, e.g. "every 2 weeks on Mon, Wed".
func (r *Rule) Describe() string {
	var b strings.Builder
	b.WriteString("every ")
	if r.Interval > 1 {
		b.WriteString(strconv.Itoa(r.Interval) + " " + unitNames[r.Freq] + "s")
	} else {
		b.WriteString(unitNames[r.Freq])
	}
	if len(r.ByDay) > 0 {
		names := make([]string, len(r.ByDay))
		for i, wd := range r.ByDay {
			names[i] = wd.Day.String()[:3]
			if wd.N != 0 {
				names[i] = ordinal(wd.N) + " " + names[i]
			}
		}
		b.WriteString(" on " + strings.Join(names, ", "))
	}
	if len(r.ByMonthDay) > 0 {
		b.WriteString(" on day " + joinInts(r.ByMonthDay))
	}
	if len(r.ByMonth) > 0 {
		names := make([]string, len(r.ByMonth))
		for i, m := range r.ByMonth {
			names[i] = m.String()[:3]
		}
		b.WriteString(" in " + strings.Join(names, ", "))
	}
	if r.Count > 0 {
		b.WriteString(", " + strconv.Itoa(r.Count) + " times")
	}
	if !r.Until.IsZero() {
		b.WriteString(", until " + r.Until.String())
	}
	return b.String()
}

func ordinal(n int) string {
	if n == -1 {
		return "last"
	}
	if n < 0 {
		return strconv.Itoa(-n) + "th-last"
	}
	switch n {
	case 1:
		return "1st"
	case 2: //nolint:mnd // ordinal suffix
		return "2nd"
	case 3: //nolint:mnd // ordinal suffix
		return "3rd"
	}
	return strconv.Itoa(n) + "th"
}
