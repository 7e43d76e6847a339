// Package calendar computes market-hours status for a fixed daily trading
// window. There is no holiday calendar; weekends are closed.
package calendar

import "time"

// Status reports whether the market is open at a given instant and the
// nearest open/close boundaries.
type Status struct {
	IsOpen    bool      `json:"isOpen"`
	NextOpen  time.Time `json:"nextOpen"`
	NextClose time.Time `json:"nextClose"`
}

// Calendar evaluates a fixed 09:15-15:30 session in a fixed location. The
// session is a closed interval on both ends: 09:15:00 and 15:30:00 are open.
type Calendar struct {
	loc       *time.Location
	openHour  int
	openMin   int
	closeHour int
	closeMin  int
}

// New returns a calendar for the given location. A nil location defaults to
// Asia/Kolkata, matching the exchange hours the session window models.
func New(loc *time.Location) *Calendar {
	if loc == nil {
		var err error
		loc, err = time.LoadLocation("Asia/Kolkata")
		if err != nil {
			loc = time.FixedZone("IST", 5*3600+1800)
		}
	}
	return &Calendar{
		loc:       loc,
		openHour:  9,
		openMin:   15,
		closeHour: 15,
		closeMin:  30,
	}
}

func (c *Calendar) sessionOpen(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), c.openHour, c.openMin, 0, 0, c.loc)
}

func (c *Calendar) sessionClose(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), c.closeHour, c.closeMin, 0, 0, c.loc)
}

func isTradingDay(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// Status evaluates the calendar at the given instant.
func (c *Calendar) Status(now time.Time) Status {
	local := now.In(c.loc)
	open := c.sessionOpen(local)
	closeAt := c.sessionClose(local)

	if isTradingDay(local) && !local.Before(open) && !local.After(closeAt) {
		return Status{
			IsOpen:    true,
			NextOpen:  c.nextSessionOpen(local.AddDate(0, 0, 1)),
			NextClose: closeAt,
		}
	}

	var nextOpen time.Time
	if isTradingDay(local) && local.Before(open) {
		nextOpen = open
	} else {
		nextOpen = c.nextSessionOpen(local.AddDate(0, 0, 1))
	}
	return Status{
		IsOpen:    false,
		NextOpen:  nextOpen,
		NextClose: c.sessionClose(nextOpen),
	}
}

// nextSessionOpen walks forward from the given day to the next trading day's
// open.
func (c *Calendar) nextSessionOpen(from time.Time) time.Time {
	d := from
	for !isTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return c.sessionOpen(d)
}
