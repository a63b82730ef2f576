/*
sweeper.go - scheduled grant-expiry sweep

PURPOSE:
  Periodically deactivates credit grants whose expiry has passed, so
  balances and debit eligibility never count dead credits. The ledger
  also filters by expiry at read time; the sweep keeps stored state
  converging with that view and feeds the expiry metrics.

SCHEDULE:
  Driven by a cron expression (default hourly, STUDIO_SWEEP_CRON). The
  sweep also runs once at startup so a long-stopped server catches up
  immediately. Admins can force a run via POST /api/admin/sweep.

USAGE:
  sweeper := NewExpirySweeper(ledgerSvc, clk, "0 * * * *")
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - ledger/ledger.go: ExpireSweep
  - handlers.go: RunSweep endpoint
*/
package api

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/warp/studio-engine/clock"
	"github.com/warp/studio-engine/ledger"
)

// ExpirySweeper runs the grant-expiry sweep on a cron schedule.
type ExpirySweeper struct {
	Ledger *ledger.Service
	Clock  clock.Clock
	Spec   string

	cron *cron.Cron
}

// NewExpirySweeper creates a sweeper with the given cron spec.
func NewExpirySweeper(led *ledger.Service, clk clock.Clock, spec string) *ExpirySweeper {
	return &ExpirySweeper{Ledger: led, Clock: clk, Spec: spec}
}

// Start schedules the sweep and runs it once immediately.
func (s *ExpirySweeper) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.Spec, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("[Sweeper] Started with schedule %q", s.Spec)

	s.sweep()
	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep to finish.
func (s *ExpirySweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	log.Println("[Sweeper] Stopped")
}

func (s *ExpirySweeper) sweep() {
	n, err := s.Ledger.ExpireSweep(context.Background(), s.Clock.Now())
	if err != nil {
		log.Printf("[Sweeper] Sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Sweeper] Expired %d grant(s)", n)
	}
}
