package broker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/external-engine-broker/internal/session"
)

// IdleReaper periodically cancels sessions that have sat Acquired with no
// output for longer than idleBudget, and refreshes the broker's
// SessionsByState gauge. Spec §4.2's rationale for the separate Acquired
// state explicitly anticipates this: "retry policy if acquisition without
// any output exceeds an operator-defined budget" — the distilled spec never
// wires the hook up, this is that wiring.
type IdleReaper struct {
	broker     *Broker
	idleBudget time.Duration
	cron       *cron.Cron
}

// NewIdleReaper builds a reaper that, once started, sweeps every 10 seconds
// (see Start). idleBudget of
// zero disables the idle-acquired cancellation sweep while metrics
// reporting still runs.
func NewIdleReaper(b *Broker, idleBudget time.Duration) *IdleReaper {
	return &IdleReaper{broker: b, idleBudget: idleBudget, cron: cron.New()}
}

// Start schedules the sweep to run every 10 seconds and begins the cron
// scheduler's own goroutine.
func (r *IdleReaper) Start() error {
	_, err := r.cron.AddFunc("@every 10s", r.sweep)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (r *IdleReaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *IdleReaper) sweep() {
	r.broker.ReportMetrics()
	if r.idleBudget <= 0 {
		return
	}

	r.broker.mu.Lock()
	var stale []*session.Session
	now := time.Now()
	for _, sess := range r.broker.sessions {
		if sess.State() == session.Acquired && now.Sub(sess.LastActivity()) > r.idleBudget {
			stale = append(stale, sess)
		}
	}
	r.broker.mu.Unlock()

	for _, sess := range stale {
		sess.Cancel(session.ReasonProviderGone)
		r.broker.logger.LogSessionTransition(context.Background(), sess.JobID, session.Acquired.String(), session.Cancelled.String(), session.ReasonProviderGone)
	}
}
