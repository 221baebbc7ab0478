package refresh

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"rangecompare/internal/compare"
)

// Target is the part of the coordinator the scheduler drives
type Target interface {
	Slots() [2]compare.SlotView
	Refresh(slot compare.Slot) bool
}

// Scheduler periodically re-runs every slot whose range has not ended yet,
// so a range covering today keeps picking up new samples.
type Scheduler struct {
	Cron   *cron.Cron
	target Target
	now    func() time.Time
}

// NewScheduler creates a scheduler for target. Specs use six fields with seconds.
func NewScheduler(target Target) *Scheduler {
	return &Scheduler{
		Cron:   cron.New(cron.WithSeconds()),
		target: target,
		now:    time.Now,
	}
}

// Register adds the refresh job on spec
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, func() { s.RunOnce() }); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info("refresh scheduler started")
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info("refresh scheduler stopped")
}

// RunOnce refreshes the live slots now and returns how many were issued
func (s *Scheduler) RunOnce() int {
	now := s.now()
	issued := 0
	for _, view := range s.target.Slots() {
		if !Live(view, now) {
			continue
		}
		if s.target.Refresh(view.Slot) {
			issued++
		}
	}
	if issued > 0 {
		log.WithField("slots", issued).Debug("refreshed live ranges")
	}
	return issued
}

// Live reports whether a slot should be refetched: it has a complete
// selection, is not already fetching, and its range ends after now
func Live(view compare.SlotView, now time.Time) bool {
	if !view.Selection.Complete() || view.Phase == compare.Fetching {
		return false
	}
	return view.Selection.End.After(now)
}
