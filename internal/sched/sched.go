// Package sched triggers the daily full-analysis run at a configured local
// time. There is no missed-run compensation: a run skipped while the
// process was down is simply gone.
package sched

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// CronSpec converts an "HH:MM" wall-clock time into a daily cron spec.
func CronSpec(scheduleTime string) (string, error) {
	parts := strings.Split(strings.TrimSpace(scheduleTime), ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("sched: invalid time %q, want HH:MM", scheduleTime)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("sched: invalid hour in %q", scheduleTime)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("sched: invalid minute in %q", scheduleTime)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// Scheduler wraps the cron runner around one daily job.
type Scheduler struct {
	cron       *cron.Cron
	job        func()
	runOnStart bool
}

// New builds a scheduler firing job daily at scheduleTime ("HH:MM", local
// time). When runOnStart is set the job also runs once immediately after
// Start, in its own goroutine.
func New(scheduleTime string, runOnStart bool, job func()) (*Scheduler, error) {
	spec, err := CronSpec(scheduleTime)
	if err != nil {
		return nil, err
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("sched: register job: %w", err)
	}
	s := &Scheduler{cron: c, job: job, runOnStart: runOnStart}
	log.Info().Str("time", scheduleTime).Str("spec", spec).Bool("run_on_start", runOnStart).
		Msg("daily schedule armed")
	return s, nil
}

// Start begins firing. It returns immediately.
func (s *Scheduler) Start() {
	if s.runOnStart {
		go s.job()
	}
	s.cron.Start()
}

// Stop cancels future runs; an in-flight job finishes on its own.
func (s *Scheduler) Stop() { s.cron.Stop() }
