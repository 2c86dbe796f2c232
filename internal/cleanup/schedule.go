package cleanup

import (
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule yields the time of the next sweep after now.
type Schedule interface {
	Next(now time.Time) (time.Time, error)
	String() string
}

type every time.Duration

// Every runs a sweep at a fixed interval.
func Every(d time.Duration) Schedule { return every(d) }

func (e every) Next(now time.Time) (time.Time, error) {
	if e <= 0 {
		return time.Time{}, errors.New("cleanup interval must be positive")
	}
	return now.Add(time.Duration(e)), nil
}

func (e every) String() string { return "every " + time.Duration(e).String() }

type cron string

// Cron runs a sweep on each tick of a cron expression, evaluated in UTC.
func Cron(expr string) (Schedule, error) {
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression %q", expr)
	}
	return cron(expr), nil
}

func (c cron) Next(now time.Time) (time.Time, error) {
	return gronx.NextTickAfter(string(c), now.UTC(), false)
}

func (c cron) String() string { return "cron " + string(c) }
