package server

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"revenue-reconciler/internal/gateway"
)

// Janitor prunes old reports from the history on a cron schedule.
type Janitor struct {
	cron      *cron.Cron
	history   *gateway.History
	retention time.Duration
	log       zerolog.Logger
}

// NewJanitor schedules pruning of reports older than retention. An empty
// schedule or a zero retention disables pruning.
func NewJanitor(history *gateway.History, schedule string, retention time.Duration, log zerolog.Logger) (*Janitor, error) {
	j := &Janitor{
		cron:      cron.New(),
		history:   history,
		retention: retention,
		log:       log,
	}
	if schedule == "" || retention <= 0 {
		return j, nil
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.RunOnce() }); err != nil {
		return nil, fmt.Errorf("unable to schedule history pruning: %w", err)
	}
	return j, nil
}

// RunOnce prunes the history immediately and returns how many reports were removed.
func (j *Janitor) RunOnce() int {
	if j.retention <= 0 {
		return 0
	}
	removed, err := j.history.Prune(j.retention)
	if err != nil {
		j.log.Error().Err(err).Str("dir", j.history.Dir()).Msg("history pruning failed")
		return removed
	}
	if removed > 0 {
		j.log.Info().Int("removed", removed).Str("dir", j.history.Dir()).Msg("pruned old reports")
	}
	return removed
}

// Start runs the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
