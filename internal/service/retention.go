package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openrelief/responder/internal/config"
	"github.com/openrelief/responder/internal/port/archive"
)

// Sweeper periodically drops terminal workflow records that have aged past
// the retention window, from both the in-memory registry and the archive.
type Sweeper struct {
	agent     *Agent
	store     archive.Store // may be nil
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	log       *slog.Logger
}

// NewSweeper creates a Sweeper from the agent configuration.
func NewSweeper(agent *Agent, store archive.Store, cfg config.Agent, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		agent:     agent,
		store:     store,
		retention: cfg.Retention,
		schedule:  cfg.SweepSchedule,
		log:       log,
	}
}

// Start schedules the sweep. Returns an error only for an invalid schedule.
func (s *Sweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.Sweep); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("retention sweep scheduled", "schedule", s.schedule, "retention", s.retention)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs one retention pass.
func (s *Sweeper) Sweep() {
	removed := s.agent.ClearTerminal(s.retention)

	var archived int64
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := s.store.DeleteOlderThan(ctx, time.Now().Add(-s.retention))
		if err != nil {
			s.log.Warn("archive retention sweep failed", "error", err)
		} else {
			archived = n
		}
	}

	s.log.Info("retention sweep finished", "registry_removed", removed, "archive_removed", archived)
}
