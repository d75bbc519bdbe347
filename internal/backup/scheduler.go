package backup

import (
	"github.com/robfig/cron/v3"

	"nexus/internal/utils"
)

// Frequency specs accepted by the auto-backup scheduler.
var frequencySpecs = map[string]string{
	"hourly": "@every 1h",
	"daily":  "@every 24h",
	"weekly": "@every 168h",
}

// Scheduler runs a job on a recurring backup frequency.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler builds a scheduler for a named frequency (hourly, daily or
// weekly). The job runs on the scheduler's own goroutine; overlapping runs
// are skipped rather than stacked.
func NewScheduler(frequency string, job func()) (*Scheduler, error) {
	spec, ok := frequencySpecs[frequency]
	if !ok {
		return nil, utils.ValidationError("unknown auto-backup frequency: %q", frequency)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, utils.ValidationError("invalid schedule %q: %v", spec, err)
	}

	return &Scheduler{cron: c}, nil
}

// Start begins the schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
