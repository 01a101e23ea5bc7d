package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"FeedNotifier/internal/logging"
	"FeedNotifier/internal/ports"
)

// CronScheduler runs named jobs on cron expressions. A job still running when
// its next tick fires is skipped rather than overlapped.
type CronScheduler struct {
	mu      sync.Mutex
	loc     *time.Location
	parser  cron.Parser
	logger  *slog.Logger
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler evaluating expressions in loc.
func NewCronScheduler(loc *time.Location, log *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger := logging.OrDiscard(log)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{logger}

	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		loc:    loc,
		parser: parser,
		logger: logger,
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:     ctx,
		cancel:  cancel,
		entries: map[string]cron.EntryID{},
	}
}

// Schedule registers job under name. Registering a name twice replaces the previous entry.
func (s *CronScheduler) Schedule(name, spec string, job func(ctx context.Context)) error {
	if job == nil {
		return fmt.Errorf("job %s is nil", name)
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("job %s: invalid spec %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.c.Remove(id)
	}
	id, err := s.c.AddFunc(spec, func() {
		started := time.Now()
		s.logger.Debug("job started", "job", name)
		job(s.ctx)
		s.logger.Debug("job finished", "job", name, "took", time.Since(started))
	})
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

// Next reports the next activation of a registered job.
func (s *CronScheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.c.Entry(id).Next, true
}

// Start begins firing jobs. Jobs observe ctx cancellation.
func (s *CronScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c.Start()
	s.logger.Info("scheduler started", "jobs", len(s.entries), "tz", s.loc.String())
	return nil
}

// Stop halts new activations and waits for running jobs or ctx expiry.
func (s *CronScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
	cancel()
	s.logger.Info("scheduler stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
