package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/earnings_spread/internal/broker"
)

// SessionStatus classifies a trading day.
type SessionStatus string

// Session classifications. Phases only run under SessionNormal.
const (
	SessionNormal       SessionStatus = "normal"
	SessionEarlyClosure SessionStatus = "early_closure"
	SessionHoliday      SessionStatus = "holiday"
	SessionWeekend      SessionStatus = "weekend"
)

// Tradable reports whether the strategy may run in this session.
func (s SessionStatus) Tradable() bool {
	return s == SessionNormal
}

// MarketCalendarService answers whether a date is a normal trading session.
type MarketCalendarService interface {
	SessionStatus(ctx context.Context, date time.Time) (SessionStatus, error)
}

// ClockSource is the slice of the brokerage API the session check needs.
type ClockSource interface {
	GetClock(ctx context.Context) (*broker.Clock, error)
}

// ClockCalendar derives session status from the brokerage market clock.
type ClockCalendar struct {
	clock ClockSource
	loc   *time.Location
}

// Ensure ClockCalendar implements MarketCalendarService at compile time.
var _ MarketCalendarService = (*ClockCalendar)(nil)

// NewClockCalendar creates a session service backed by the broker clock.
// loc is the exchange timezone.
func NewClockCalendar(clock ClockSource, loc *time.Location) *ClockCalendar {
	if loc == nil {
		loc = time.UTC
	}
	return &ClockCalendar{clock: clock, loc: loc}
}

// regularCloseHour is the regular-session close in exchange time (16:00).
const regularCloseHour = 16

// SessionStatus classifies the given date. Weekends are decided locally;
// weekdays consult the clock: a closed market whose next open falls on a
// later day is a holiday, and an open market closing before the regular
// close is an early closure.
func (c *ClockCalendar) SessionStatus(ctx context.Context, date time.Time) (SessionStatus, error) {
	date = date.In(c.loc)
	if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return SessionWeekend, nil
	}

	clock, err := c.clock.GetClock(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching market clock: %w", err)
	}

	if !clock.IsOpen {
		nextOpen := clock.NextOpen.In(c.loc)
		if !sameDay(nextOpen, date) {
			return SessionHoliday, nil
		}
		// Market opens later today; regular session expected.
		return SessionNormal, nil
	}

	nextClose := clock.NextClose.In(c.loc)
	if sameDay(nextClose, date) && nextClose.Hour() < regularCloseHour {
		return SessionEarlyClosure, nil
	}
	return SessionNormal, nil
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
