package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger decides when an idle scheduler looks at its resources again.
type Trigger interface {
	// Wait blocks until the next sweep is due or ctx is done.
	Wait(ctx context.Context) error
	String() string
}

// IntervalTrigger waits a fixed polling interval.
type IntervalTrigger struct {
	Interval time.Duration
}

func (t IntervalTrigger) Wait(ctx context.Context) error {
	timer := time.NewTimer(t.Interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t IntervalTrigger) String() string { return "every " + t.Interval.String() }

// CronTrigger waits for the next activation of a cron schedule. Standard
// five-field expressions, an optional leading seconds field and
// descriptors such as "@every 30s" are accepted.
type CronTrigger struct {
	spec     string
	schedule cron.Schedule
	now      func() time.Time
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewCronTrigger parses spec.
func NewCronTrigger(spec string) (*CronTrigger, error) {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("polling-schedule %q: %w", spec, err)
	}
	return &CronTrigger{spec: spec, schedule: schedule, now: time.Now}, nil
}

// Next returns the first activation after t.
func (t *CronTrigger) Next(after time.Time) time.Time {
	return t.schedule.Next(after)
}

func (t *CronTrigger) Wait(ctx context.Context) error {
	now := t.now()
	return IntervalTrigger{Interval: t.Next(now).Sub(now)}.Wait(ctx)
}

func (t *CronTrigger) String() string { return "cron " + t.spec }
