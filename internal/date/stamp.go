package date

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

const clockFormat = "15:04"

// Stamp is a calendar date with an optional wall-clock time (HH:MM).
// A zero Clock means the stamp covers the whole day.
type Stamp struct {
	Date
	Clock string
}

// stampLayouts lists the accepted date-time layouts that carry no zone.
var stampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseStamp parses a date or date-time. Values with a zone offset are
// converted to the local calendar day before the date is taken.
func ParseStamp(s string) (Stamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Stamp{}, fmt.Errorf("invalid date: empty")
	}
	if d, err := Parse(s); err == nil {
		return Stamp{Date: d}, nil
	}
	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Stamp{Date: Of(t), Clock: t.Format(clockFormat)}, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		local := t.In(time.Local)
		return Stamp{Date: Of(local), Clock: local.Format(clockFormat)}, nil
	}
	return Stamp{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or YYYY-MM-DDTHH:MM", s)
}

// StampOf returns the stamp of d without a time of day.
func StampOf(d Date) Stamp {
	return Stamp{Date: d}
}

// HasTime reports whether the stamp carries a time of day.
func (s Stamp) HasTime() bool {
	return s.Clock != ""
}

// String formats the stamp as YYYY-MM-DD or YYYY-MM-DDTHH:MM.
func (s Stamp) String() string {
	if s.IsZero() {
		return ""
	}
	if s.Clock == "" {
		return s.Date.String()
	}
	return s.Date.String() + "T" + s.Clock
}

// Compare orders stamps by date, then by time. An all-day stamp sorts
// before any timed stamp on the same day.
func (s Stamp) Compare(other Stamp) int {
	if c := s.Date.Compare(other.Date); c != 0 {
		return c
	}
	switch {
	case s.Clock == other.Clock:
		return 0
	case s.Clock == "":
		return -1
	case other.Clock == "":
		return 1
	}
	return strings.Compare(s.Clock, other.Clock)
}

// MarshalYAML implements yaml.Marshaler.
func (s Stamp) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML implements yaml.v3 Unmarshaler.
func (s *Stamp) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseStamp(value.Value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Stamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Stamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStamp(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
