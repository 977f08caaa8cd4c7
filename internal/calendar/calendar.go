// Package calendar provides trading-day and trading-hours predicates.
package calendar

import "time"

// Session is an intraday trading window with inclusive bounds.
type Session struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// contains reports whether the wall-clock minutes fall inside the session.
func (s Session) contains(hour, minute int) bool {
	cur := hour*60 + minute
	open := s.OpenHour*60 + s.OpenMinute
	close := s.CloseHour*60 + s.CloseMinute
	return cur >= open && cur <= close
}

// Calendar answers trading-day and trading-hours questions for one exchange
// locale. It is pure and stateless: predicates evaluate the time value they
// are handed, without timezone conversion. Callers pass local wall clock.
type Calendar struct {
	Name     string
	Sessions []Session
	Holidays []time.Time // date-only values, zero time of day
}

// ChinaA returns the calendar for mainland A-share exchanges: a morning
// session 09:30-11:30 and an afternoon session 13:00-15:00, weekdays only.
// The holiday list starts empty; operators append exchange closures.
func ChinaA() *Calendar {
	return &Calendar{
		Name: "cn",
		Sessions: []Session{
			{OpenHour: 9, OpenMinute: 30, CloseHour: 11, CloseMinute: 30},
			{OpenHour: 13, OpenMinute: 0, CloseHour: 15, CloseMinute: 0},
		},
	}
}

// ForLocale resolves a locale string from configuration to a calendar.
// Unknown locales fall back to the A-share calendar.
func ForLocale(locale string) *Calendar {
	switch locale {
	case "cn", "":
		return ChinaA()
	default:
		return ChinaA()
	}
}

// WithHolidays returns the calendar with the holiday list replaced.
func (c *Calendar) WithHolidays(holidays []time.Time) *Calendar {
	c.Holidays = holidays
	return c
}

// IsTradingDay reports whether t falls on a trading day: weekdays that are
// not on the holiday list.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	for _, h := range c.Holidays {
		if h.Year() == t.Year() && h.Month() == t.Month() && h.Day() == t.Day() {
			return false
		}
	}
	return true
}

// IsTradingHours reports whether t is a trading day and the clock falls
// inside one of the sessions. Session bounds are inclusive, so 11:30:00 and
// 15:00:00 still count as trading hours.
func (c *Calendar) IsTradingHours(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	for _, s := range c.Sessions {
		if s.contains(t.Hour(), t.Minute()) {
			return true
		}
	}
	return false
}
