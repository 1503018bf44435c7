// Package reconciler drives the periodic rescan sweep: hosts past their
// next_scan time are pulled back out of DONE and returned to scanning,
// on the same ticker-driven Start/Stop loop shape the orchestrator uses
// elsewhere.
package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/log"
	"github.com/cisagov/cyhy-orchestrator/pkg/metrics"
	"github.com/cisagov/cyhy-orchestrator/pkg/storage"
	"github.com/cisagov/cyhy-orchestrator/pkg/tally"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
	"github.com/rs/zerolog"
)

// Reconciler sweeps DONE hosts whose next_scan has arrived back into the
// scanning pipeline: up hosts resume at PORTSCAN, down hosts restart from
// NETSCAN1, matching the source system's check_host_next_scans sweep.
type Reconciler struct {
	store  storage.Store
	logger zerolog.Logger
	mu     sync.RWMutex
	stopCh chan struct{}
}

// NewReconciler returns a Reconciler backed by store.
func NewReconciler(store storage.Store) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: log.WithComponent("reconciler"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop halts the sweep loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("rescan sweep started")

	for {
		select {
		case <-ticker.C:
			if err := r.Sweep(time.Now().UTC()); err != nil {
				r.logger.Error().Err(err).Msg("rescan sweep cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("rescan sweep stopped")
			return
		}
	}
}

// Sweep moves every DONE host whose next_scan is at or before now back
// into WAITING, at NETSCAN1 if down or PORTSCAN if up.
func (r *Reconciler) Sweep(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RescanScheduleDuration)

	for _, up := range []bool{true, false} {
		hosts, err := r.store.ListHostsDueForRescan(now, up)
		if err != nil {
			return fmt.Errorf("listing hosts due for rescan: %w", err)
		}
		for _, h := range hosts {
			fromStage, fromStatus := h.Stage, h.Status
			if up {
				h.Stage = enums.StagePortscan
			} else {
				h.Stage = enums.StageNetscan1
			}
			h.Status = enums.StatusWaiting
			h.NextScan = nil

			t, err := r.store.GetTally(h.Owner)
			if err != nil {
				r.logger.Error().Err(err).Uint32("host_id", h.ID).Msg("failed to load tally for requeued host")
				continue
			}
			if t == nil {
				t = types.NewTally(h.Owner)
			}
			tally.Transfer(t, fromStage, fromStatus, h.Stage, h.Status, 1)

			if err := r.store.UpdateHost(h); err != nil {
				r.logger.Error().Err(err).Uint32("host_id", h.ID).Msg("failed to requeue host for rescan")
				continue
			}
			if err := r.store.SaveTally(t); err != nil {
				r.logger.Error().Err(err).Str("owner", h.Owner).Msg("failed to save tally for requeued host")
				continue
			}
			metrics.HostsDueForRescanTotal.Inc()
		}
	}
	return nil
}
