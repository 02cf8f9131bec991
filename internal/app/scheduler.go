package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Job is one recurring background task.
type Job struct {
	Name string
	// Next returns the first run strictly after the given time.
	Next func(after time.Time) time.Time
	Run  func(context.Context) error
}

// Every schedules a job at a fixed interval.
func Every(interval time.Duration) func(time.Time) time.Time {
	return func(after time.Time) time.Time {
		return after.Add(interval)
	}
}

// DailyAt schedules a job once per day at a wall-clock time in loc.
func DailyAt(at ClockTime, loc *time.Location) func(time.Time) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return func(after time.Time) time.Time {
		local := after.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(), at.Hour, at.Minute, 0, 0, loc)
		if !next.After(local) {
			next = time.Date(local.Year(), local.Month(), local.Day()+1, at.Hour, at.Minute, 0, 0, loc)
		}
		return next
	}
}

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM".
func ParseClockTime(raw string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("%w: clock time %q must be HH:MM", ErrInvalidInput, raw)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return ClockTime{}, fmt.Errorf("%w: invalid hour in %q", ErrInvalidInput, raw)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("%w: invalid minute in %q", ErrInvalidInput, raw)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

// String renders the clock time as HH:MM.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Scheduler runs jobs until its context ends.
type Scheduler struct {
	jobs   []Job
	clock  Clock
	logger Logger
}

// NewScheduler constructs a new value for this package.
func NewScheduler(clock Clock, logger Logger, jobs ...Job) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{jobs: jobs, clock: clock, logger: logger}
}

// Run executes jobs as they come due. Cancelling ctx stops new runs;
// a run already in progress finishes with a detached context.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		<-ctx.Done()
		return nil
	}
	next := make([]time.Time, len(s.jobs))
	now := s.clock()
	for i, job := range s.jobs {
		next[i] = job.Next(now)
		s.logger.Debug("job scheduled", "job", job.Name, "next", next[i])
	}
	for {
		idx := 0
		for i := range next {
			if next[i].Before(next[idx]) {
				idx = i
			}
		}
		wait := next[idx].Sub(s.clock())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return nil
		}

		job := s.jobs[idx]
		started := s.clock()
		if err := job.Run(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("job failed", "job", job.Name, "err", err)
		} else {
			s.logger.Debug("job finished", "job", job.Name, "took", s.clock().Sub(started))
		}
		next[idx] = job.Next(s.clock())
	}
}

// AlertScanJob runs the alert monitor at interval.
func AlertScanJob(monitor *AlertMonitor, interval time.Duration) Job {
	return Job{
		Name: "alert-scan",
		Next: Every(interval),
		Run: func(ctx context.Context) error {
			_, err := monitor.Scan(ctx)
			return err
		},
	}
}

// NightlyRolloverJob runs a cascading rollover once per day.
func NightlyRolloverJob(svc *Service, at ClockTime) Job {
	return Job{
		Name: "nightly-rollover",
		Next: DailyAt(at, svc.Location()),
		Run: func(ctx context.Context) error {
			_, err := svc.Rollover(ctx, RolloverCascade)
			return err
		},
	}
}

// DailyReportJob delivers the day's report once per day.
func DailyReportJob(dispatcher *ReportDispatcher, at ClockTime) Job {
	return Job{
		Name: "daily-report",
		Next: DailyAt(at, dispatcher.svc.Location()),
		Run: func(ctx context.Context) error {
			_, err := dispatcher.Dispatch(ctx)
			return err
		},
	}
}

// ReportDispatcher sends today's report through a notifier at most once per day.
type ReportDispatcher struct {
	mu       sync.Mutex
	svc      *Service
	notifier Notifier
	lastDay  string
}

// NewReportDispatcher constructs a new value for this package.
func NewReportDispatcher(svc *Service, notifier Notifier) *ReportDispatcher {
	return &ReportDispatcher{svc: svc, notifier: notifier}
}

// Dispatch delivers today's report and reports whether anything was sent.
func (d *ReportDispatcher) Dispatch(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	day := d.svc.Today()
	if d.lastDay == day {
		return false, nil
	}
	report, err := d.svc.Report(ctx, day)
	if err != nil {
		return false, err
	}
	if d.notifier != nil {
		if err := d.notifier.DeliverReport(ctx, report, RenderReportMarkdown(report, d.svc.Location())); err != nil {
			return false, fmt.Errorf("deliver report %s: %w", day, err)
		}
	}
	d.lastDay = day
	return true, nil
}
