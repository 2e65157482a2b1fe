package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/robfig/cron/v3"
)

// scheduleShortcuts named schedules accepted in place of a cron expression
var scheduleShortcuts = map[string]string{
	"daily":   "0 0 * * *",
	"weekly":  "0 0 * * 0",
	"monthly": "0 0 1 * *",
}

/*
ParseSchedule parse a five field cron expression, or one of "daily", "weekly", "monthly"

	@param expr string - the schedule
	@returns the parsed schedule
*/
func ParseSchedule(expr string) (cron.Schedule, error) {
	if shortcut, ok := scheduleShortcuts[expr]; ok {
		expr = shortcut
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("snapshot schedule '%s' is not valid [%w]", expr, err)
	}
	return schedule, nil
}

// AutoSnapshotName name of a scheduled snapshot taken at an instant
func AutoSnapshotName(at time.Time) string {
	return "auto-" + at.UTC().Format("20060102T150405Z")
}

// Scheduler takes snapshots on a cron schedule
type Scheduler struct {
	goutils.Component
	manager  Manager
	schedule cron.Schedule
	runner   *cron.Cron
}

/*
NewScheduler define a scheduler creating snapshots through a manager

	@param manager Manager - the snapshot manager
	@param expr string - cron expression or shortcut name
	@returns scheduler
*/
func NewScheduler(manager Manager, expr string) (*Scheduler, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	logTags := log.Fields{"package": "stockpile", "module": "snapshot", "component": "scheduler"}
	return &Scheduler{
		Component: goutils.Component{LogTags: logTags},
		manager:   manager,
		schedule:  schedule,
		runner:    cron.New(),
	}, nil
}

// takeSnapshot one scheduled run
func (s *Scheduler) takeSnapshot() {
	ctx := context.Background()
	logTags := s.GetLogTagsForContext(ctx)

	name := AutoSnapshotName(time.Now())
	if _, err := s.manager.CreateSnapshot(ctx, name); err != nil {
		log.WithError(err).WithFields(logTags).WithField("snapshot", name).Error("Scheduled snapshot failed")
		return
	}
	log.WithFields(logTags).WithField("snapshot", name).Info("Scheduled snapshot taken")
}

// Start begin running the schedule in the background
func (s *Scheduler) Start() {
	s.runner.Schedule(s.schedule, cron.FuncJob(s.takeSnapshot))
	s.runner.Start()
	log.WithFields(s.LogTags).
		WithField("next", s.schedule.Next(time.Now()).UTC().Format(time.RFC3339)).
		Info("Snapshot scheduler started")
}

/*
Stop halt the schedule, waiting for a running snapshot to finish

	@param ctx context.Context - bounds the wait
*/
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.runner.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
