// Package cron fires callbacks on the minute-resolution subset of cron the
// module manifests are allowed to use: the minute field may be "*", "*/N" or
// a fixed minute, and the remaining four fields must be "*".
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"
)

var parser = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow,
)

// TickFunc is invoked at each firing time. Returned errors are routed to the
// schedule's error callback and do not stop the schedule.
type TickFunc func(at time.Time) error

// ErrFunc receives tick errors and the single error produced by an
// unsupported expression.
type ErrFunc func(err error)

// Validate checks expr against the supported subset without scheduling it.
func Validate(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("cron expression %q: want 5 fields, got %d", expr, len(fields))
	}
	for _, f := range fields[1:] {
		if f != "*" {
			return fmt.Errorf("cron expression %q: only the minute field may differ from *", expr)
		}
	}

	minute := fields[0]
	switch {
	case minute == "*":
	case strings.HasPrefix(minute, "*/"):
		n, err := strconv.Atoi(minute[2:])
		if err != nil || n <= 0 {
			return fmt.Errorf("cron expression %q: invalid minute step %q", expr, minute)
		}
	default:
		n, err := strconv.Atoi(minute)
		if err != nil || n < 0 || n > 59 {
			return fmt.Errorf("cron expression %q: invalid minute %q", expr, minute)
		}
	}

	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("cron expression %q: %w", expr, err)
	}
	return nil
}

// Next returns the smallest firing time strictly after now, truncated to
// seconds. expr must already be valid.
func Next(expr string, now time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now.Truncate(time.Second)), nil
}

// Schedule fires onTick at every time matching expr until the returned stop
// function is called. An unsupported expression produces exactly one onErr
// call and no ticks. Stop is idempotent and drops any pending tick.
func Schedule(expr string, onTick TickFunc, onErr ErrFunc) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	stop = func() { once.Do(func() { close(done) }) }

	if err := Validate(expr); err != nil {
		onErr(err)
		return stop
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		onErr(err)
		return stop
	}

	go func() {
		for {
			nextAt := sched.Next(time.Now().Truncate(time.Second))
			timer := time.NewTimer(time.Until(nextAt))
			select {
			case <-done:
				timer.Stop()
				return
			case <-timer.C:
				if err := onTick(nextAt); err != nil {
					onErr(err)
				}
			}
		}
	}()

	return stop
}
