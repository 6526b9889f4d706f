// Package temporal converts heterogeneous source timestamps into the
// canonical calendar-day keys every join in the pipeline runs on. All
// sources must be normalized into the same reference zone before they
// are joinable; the zone is a configuration constant, never per-row.
package temporal

import (
	"time"

	"cardpulse/internal/errors"
)

// DayFormat is the canonical calendar-day key layout.
const DayFormat = "2006-01-02"

// DefaultTimezone matches the market's operating zone.
const DefaultTimezone = "US/Eastern"

// Normalizer maps timestamps to calendar-day keys in one fixed zone.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer loads the reference zone by IANA name.
func NewNormalizer(tz string) (*Normalizer, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "loading reference timezone "+tz)
	}
	return &Normalizer{loc: loc}, nil
}

// Location returns the reference zone.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// DayKey drops the time-of-day component of t in the reference zone.
// The date is preserved exactly; only intra-day precision is lost.
func (n *Normalizer) DayKey(t time.Time) string {
	return t.In(n.loc).Format(DayFormat)
}

// ParseDay parses a calendar-day key into midnight in the reference zone.
func (n *Normalizer) ParseDay(day string) (time.Time, error) {
	t, err := time.ParseInLocation(DayFormat, day, n.loc)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.CodeConfig, "parsing calendar day "+day)
	}
	return t, nil
}

// Days expands the inclusive [start, end] window into ordered day keys.
func (n *Normalizer) Days(start, end string) ([]string, error) {
	from, err := n.ParseDay(start)
	if err != nil {
		return nil, err
	}
	to, err := n.ParseDay(end)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, errors.ErrWindowInverted
	}

	var days []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DayFormat))
	}
	return days, nil
}
