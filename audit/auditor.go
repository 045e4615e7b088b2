/*
auditor.go - Periodic ledger reconciliation

PURPOSE:
  Re-checks, on an interval, that every child's balance equals the sum of
  its transactions, and reports the number of drifted accounts. The
  auditor only reads; it never repairs a balance.

  Reads take no locks, so a mutation committing mid-pass can show up as
  drift for one pass. Alert on drift that persists across passes.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on Start
  - Each drifted account is logged at error level
  - The drift count goes to an optional Reporter (Prometheus gauge)

USAGE:
  a := audit.New(store)
  a.Reporter = metrics
  a.Start()
  // ... later
  a.Stop()

SEE ALSO:
  - ledger/reconcile.go: Reconcile
  - cmd/server/main.go: one-shot "reconcile" command
*/
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/warp/family-ledger/ledger"
)

// Reporter receives the outcome of every audit pass.
type Reporter interface {
	ObserveAudit(drifted int, err error)
}

type Auditor struct {
	Reader   ledger.Reader
	Interval time.Duration
	Reporter Reporter // optional

	stop chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex
}

func New(r ledger.Reader) *Auditor {
	return &Auditor{
		Reader:   r,
		Interval: time.Hour,
	}
}

// Start begins auditing. A non-positive Interval disables it.
func (a *Auditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Interval <= 0 {
		log.Info().Msg("ledger audit disabled")
		return
	}
	if a.stop != nil {
		return
	}
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.run(a.stop)

	log.Info().Dur("interval", a.Interval).Msg("ledger audit started")
}

// Stop waits for an in-flight pass to finish.
func (a *Auditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stop == nil {
		return
	}
	close(a.stop)
	a.wg.Wait()
	a.stop = nil
	log.Info().Msg("ledger audit stopped")
}

func (a *Auditor) run(stop <-chan struct{}) {
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()

	a.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			a.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one audit pass and returns the drifted accounts.
func (a *Auditor) RunNow(ctx context.Context) ([]ledger.Drift, error) {
	drifts, err := ledger.Reconcile(ctx, a.Reader)
	if a.Reporter != nil {
		a.Reporter.ObserveAudit(len(drifts), err)
	}
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("ledger audit failed")
		}
		return nil, err
	}
	for _, d := range drifts {
		log.Error().
			Str("child_id", string(d.ChildID)).
			Str("balance", ledger.FormatMoney(d.Balance)).
			Str("ledger_sum", ledger.FormatMoney(d.LedgerSum)).
			Msg("ledger drift")
	}
	return drifts, nil
}
