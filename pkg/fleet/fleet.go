// Package fleet implements the fleet balancer (C6): it converts each
// owner's per-stage concurrency target into WAITING/READY promotions and
// demotions, running on a ticker the way the source orchestrator's
// background loops do.
package fleet

import (
	"sync"
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/log"
	"github.com/cisagov/cyhy-orchestrator/pkg/metrics"
	"github.com/cisagov/cyhy-orchestrator/pkg/storage"
	"github.com/cisagov/cyhy-orchestrator/pkg/tally"
	"github.com/cisagov/cyhy-orchestrator/pkg/timewindow"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
	"github.com/rs/zerolog"
)

// PlatformDefaults are the per-stage concurrency limits used when a
// request does not override them, matching the operational defaults of
// the source system.
var PlatformDefaults = map[enums.Stage]int{
	enums.StageNetscan1: 256,
	enums.StageNetscan2: 256,
	enums.StagePortscan: 32,
	enums.StageVulnscan: 32,
	enums.StageBasescan: 512,
}

// Limits computes the per-stage concurrency ceiling for a request at `now`:
// the platform defaults (overridden by the request's own scan_limits) while
// inside a scan window, or zero for every stage outside one.
func Limits(req *types.Request, now time.Time) map[enums.Stage]int {
	limits := make(map[enums.Stage]int, len(enums.Stages))
	inWindow := !req.PeriodStart.After(now) && timewindow.InWindows(toWindows(req.Windows), now)
	for _, stage := range enums.Stages {
		if !inWindow {
			limits[stage] = 0
			continue
		}
		if v, ok := req.ScanLimits[stage]; ok {
			limits[stage] = v
		} else {
			limits[stage] = PlatformDefaults[stage]
		}
	}
	return limits
}

func toWindows(ws []types.ScanWindow) []timewindow.Window {
	out := make([]timewindow.Window, 0, len(ws))
	for _, w := range ws {
		day, ok := parseWeekday(w.Day)
		if !ok {
			continue
		}
		start, err := time.Parse("15:04:05", w.Start)
		if err != nil {
			continue
		}
		offset := time.Duration(start.Hour())*time.Hour + time.Duration(start.Minute())*time.Minute + time.Duration(start.Second())*time.Second
		out = append(out, timewindow.Window{Day: day, Start: offset, Duration: time.Duration(w.Duration) * time.Hour})
	}
	return out
}

func parseWeekday(name string) (time.Weekday, bool) {
	switch name {
	case "Sunday":
		return time.Sunday, true
	case "Monday":
		return time.Monday, true
	case "Tuesday":
		return time.Tuesday, true
	case "Wednesday":
		return time.Wednesday, true
	case "Thursday":
		return time.Thursday, true
	case "Friday":
		return time.Friday, true
	case "Saturday":
		return time.Saturday, true
	}
	return 0, false
}

// Plan is the outcome of reconciling one (owner, stage) cell: which hosts
// to promote to READY and which to demote back to WAITING.
type Plan struct {
	Owner   string
	Stage   enums.Stage
	Promote []*types.Host
	Demote  []*types.Host
}

// Reconcile computes the promotion/demotion plan for one (owner, stage)
// cell, per §4.2: target_ready = max(0, limit - running); waiting hosts
// are promoted, or excess ready hosts demoted, ordered by (priority, r).
//
// This locks in the spec's resolved reading of the source's ambiguous
// active_count computation: only target_ready vs ready drives action.
func Reconcile(owner string, stage enums.Stage, limit int, waiting, ready []*types.Host, running int) Plan {
	targetReady := limit - running
	if targetReady < 0 {
		targetReady = 0
	}
	plan := Plan{Owner: owner, Stage: stage}

	switch {
	case targetReady > len(ready) && len(waiting) > 0:
		need := targetReady - len(ready)
		if need > len(waiting) {
			need = len(waiting)
		}
		plan.Promote = waiting[:need]
	case targetReady < len(ready):
		excess := len(ready) - targetReady
		plan.Demote = ready[:excess]
	}
	return plan
}

// Balancer drives Reconcile across the owner of every non-retired request
// on a fixed interval, the way the source orchestrator's background sweep
// does. Owners are not filtered by request type: Request carries no type
// field, so non-CYHY owners are balanced too.
type Balancer struct {
	store    storage.Store
	logger   zerolog.Logger
	mu       sync.RWMutex
	stopCh   chan struct{}
	interval time.Duration
}

// NewBalancer returns a Balancer that will reconcile every owner's fleet on
// the given interval once Start is called.
func NewBalancer(store storage.Store, interval time.Duration) *Balancer {
	return &Balancer{
		store:    store,
		logger:   log.WithComponent("fleet"),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the balancer's background loop.
func (b *Balancer) Start() {
	go b.run()
}

// Stop halts the background loop.
func (b *Balancer) Stop() {
	close(b.stopCh)
}

func (b *Balancer) run() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := b.BalanceAll(time.Now().UTC()); err != nil {
				b.logger.Error().Err(err).Msg("fleet balance pass failed")
			}
		case <-b.stopCh:
			return
		}
	}
}

// BalanceAll reconciles every owner's fleet at `now`.
func (b *Balancer) BalanceAll(now time.Time) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.FleetBalanceDuration, "all")

	requests, err := b.store.ListRequests()
	if err != nil {
		return err
	}
	for _, req := range requests {
		if req.Retired {
			continue
		}
		if err := b.balanceOwner(req, now); err != nil {
			b.logger.Error().Err(err).Str("owner", req.Owner).Msg("balancing owner failed")
		}
	}
	return nil
}

func (b *Balancer) balanceOwner(req *types.Request, now time.Time) error {
	limits := Limits(req, now)
	t, err := b.store.GetTally(req.Owner)
	if err != nil {
		return err
	}
	if t == nil {
		t = types.NewTally(req.Owner)
	}

	for _, stage := range enums.Stages {
		running := t.Counts[stage][enums.StatusRunning]
		waiting, err := b.store.ListHostsByClaim(storage.ClaimQuery{Owner: req.Owner, Stage: stage, Status: enums.StatusWaiting})
		if err != nil {
			return err
		}
		ready, err := b.store.ListHostsByClaim(storage.ClaimQuery{Owner: req.Owner, Stage: stage, Status: enums.StatusReady})
		if err != nil {
			return err
		}

		plan := Reconcile(req.Owner, stage, limits[stage], waiting, ready, running)
		for _, h := range plan.Promote {
			h.Status = enums.StatusReady
			if err := b.store.UpdateHost(h); err != nil {
				return err
			}
		}
		if len(plan.Promote) > 0 {
			tally.Transfer(t, stage, enums.StatusWaiting, stage, enums.StatusReady, len(plan.Promote))
			metrics.FleetPromotions.WithLabelValues(req.Owner, string(stage)).Add(float64(len(plan.Promote)))
		}
		for _, h := range plan.Demote {
			h.Status = enums.StatusWaiting
			if err := b.store.UpdateHost(h); err != nil {
				return err
			}
		}
		if len(plan.Demote) > 0 {
			tally.Transfer(t, stage, enums.StatusReady, stage, enums.StatusWaiting, len(plan.Demote))
			metrics.FleetDemotions.WithLabelValues(req.Owner, string(stage)).Add(float64(len(plan.Demote)))
		}
	}
	return b.store.SaveTally(t)
}
