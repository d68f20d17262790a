package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CycleRunner is one pass of a polling loop.
type CycleRunner interface {
	RunCycle(ctx context.Context) error
}

// Job binds a runner to its cron schedule.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Runner  CycleRunner
}

// EngineScheduler drives the dispatch, cadence and instance sync loops.
// Overlapping runs of the same job are skipped, so each loop is single-threaded.
type EngineScheduler struct {
	cronEngine *cron.Cron
	jobs       []Job
	logger     *logrus.Entry
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewEngineScheduler(loc *time.Location, logger *logrus.Entry, jobs ...Job) *EngineScheduler {
	if loc == nil {
		loc = time.Local
	}
	cronLogger := cron.PrintfLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &EngineScheduler{
		cronEngine: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		jobs:   jobs,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers every job and starts the cron engine.
func (s *EngineScheduler) Start() error {
	for _, job := range s.jobs {
		job := job
		if _, err := s.cronEngine.AddFunc(job.Spec, func() { s.run(job) }); err != nil {
			return fmt.Errorf("could not add %s cron job (%q): %w", job.Name, job.Spec, err)
		}
		s.logger.WithFields(logrus.Fields{"job": job.Name, "spec": job.Spec}).Info("Scheduled job")
	}
	s.cronEngine.Start()
	return nil
}

func (s *EngineScheduler) run(job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	started := time.Now()
	if err := job.Runner.RunCycle(ctx); err != nil {
		s.logger.WithError(err).WithField("job", job.Name).Error("Job cycle failed")
		return
	}
	s.logger.WithFields(logrus.Fields{"job": job.Name, "took": time.Since(started)}).Debug("Job cycle finished")
}

// Stop waits for running jobs, cancelling them if they outlive ctx.
func (s *EngineScheduler) Stop(ctx context.Context) {
	s.logger.Info("Stopping scheduler...")
	done := s.cronEngine.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.cancel()
		<-done.Done()
	}
	s.cancel()
	s.logger.Info("Scheduler stopped")
}
