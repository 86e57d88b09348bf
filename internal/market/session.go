package market

import (
	"fmt"
	"sync"
	"time"

	_ "time/tzdata"
)

// Calendar names accepted in the registry.
const (
	CalendarUS  = "US"
	CalendarKRX = "KRX"
)

// Calendar holds one exchange's trading-day boundaries. Boundaries are
// minutes since local midnight; a negative PreOpen/PostClose means the
// exchange has no pre/post session (it is either REGULAR or CLOSED).
// DST is handled by the IANA zone, never by per-year offsets.
type Calendar struct {
	Name      string
	TZ        string
	PreOpen   int
	Open      int
	Close     int
	PostClose int
	Holidays  map[int][]string

	locOnce sync.Once
	loc     *time.Location
	locErr  error
}

var calendars = map[string]*Calendar{
	CalendarUS: {
		Name:      CalendarUS,
		TZ:        "America/New_York",
		PreOpen:   4 * 60,        // 04:00
		Open:      9*60 + 30,     // 09:30
		Close:     16 * 60,       // 16:00
		PostClose: 20 * 60,       // 20:00
		Holidays:  usMarketHolidays,
	},
	CalendarKRX: {
		Name:      CalendarKRX,
		TZ:        "Asia/Seoul",
		PreOpen:   -1,
		Open:      9 * 60,        // 09:00
		Close:     15*60 + 30,    // 15:30
		PostClose: -1,
		Holidays:  krxMarketHolidays,
	},
}

// CalendarByName resolves a registry calendar reference.
func CalendarByName(name string) (*Calendar, error) {
	cal, ok := calendars[name]
	if !ok {
		return nil, fmt.Errorf("unknown calendar %q", name)
	}
	return cal, nil
}

// Location returns the exchange's IANA location.
func (c *Calendar) Location() (*time.Location, error) {
	c.locOnce.Do(func() {
		c.loc, c.locErr = time.LoadLocation(c.TZ)
	})
	return c.loc, c.locErr
}

// IsHoliday reports whether the exchange-local date of t is in the holiday
// table for that year.
func (c *Calendar) IsHoliday(t time.Time) bool {
	days, ok := c.Holidays[t.Year()]
	if !ok {
		return false
	}
	date := t.Format("2006-01-02")
	for _, d := range days {
		if d == date {
			return true
		}
	}
	return false
}

// CloseAt returns the session-close instant for the exchange-local day of t.
func (c *Calendar) CloseAt(t time.Time) (time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	lt := t.In(loc)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return midnight.Add(time.Duration(c.Close) * time.Minute), nil
}

// Classify maps an instant to the exchange's session state. Pure and total:
// weekends and listed holidays are CLOSED regardless of time of day, and
// every other instant falls into exactly one of the four states by comparing
// local minutes-since-midnight against the ordered boundaries.
func (c *Calendar) Classify(now time.Time) Session {
	loc, err := c.Location()
	if err != nil {
		// Zone data is compiled in via time/tzdata; treat a load failure
		// like a closed market rather than guessing an offset.
		return SessionClosed
	}
	lt := now.In(loc)

	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return SessionClosed
	}
	if c.IsHoliday(lt) {
		return SessionClosed
	}

	min := lt.Hour()*60 + lt.Minute()
	switch {
	case c.PreOpen >= 0 && min >= c.PreOpen && min < c.Open:
		return SessionPre
	case min >= c.Open && min < c.Close:
		return SessionRegular
	case c.PostClose >= 0 && min >= c.Close && min < c.PostClose:
		return SessionPost
	default:
		return SessionClosed
	}
}

// ClassifySymbol resolves a symbol's session state from its registry entry.
// Continuously-traded assets have no session concept and return SessionNone.
func ClassifySymbol(info Info, now time.Time) Session {
	if info.Calendar == "" {
		return SessionNone
	}
	cal, err := CalendarByName(info.Calendar)
	if err != nil {
		return SessionNone
	}
	return cal.Classify(now)
}
