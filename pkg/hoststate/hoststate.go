// Package hoststate implements the per-host scan-stage state machine: a
// pure function from the current (stage, status) and scan signals to the
// next (stage, status).
package hoststate

import (
	"github.com/cisagov/cyhy-orchestrator/pkg/log"
	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
)

// Signals carries the scan evidence a transition is computed from. Up and
// HasOpenPorts are tri-state: a nil pointer means "not asserted by this
// observation." WasFailure is a plain bool.
type Signals struct {
	Up           *bool
	HasOpenPorts *bool
	WasFailure   bool
}

// Result is the outcome of one transition.
type Result struct {
	Stage         enums.Stage
	Status        enums.Status
	Changed       bool
	FinishedStage bool
}

// Next computes the next (stage, status) for a host currently at
// (stage, status), given the observed signals. It never errors: unmatched
// inputs fall through to a logged no-op, per the degenerate-case
// propagation policy.
func Next(stage enums.Stage, status enums.Status, sig Signals) Result {
	switch {
	case status == enums.StatusDone:
		return Result{Stage: stage, Status: status, Changed: false}

	case sig.WasFailure:
		return Result{Stage: stage, Status: enums.StatusWaiting, Changed: status != enums.StatusWaiting}

	case status == enums.StatusWaiting || status == enums.StatusReady:
		return Result{Stage: stage, Status: enums.StatusRunning, Changed: true}

	case status == enums.StatusRunning:
		switch stage {
		case enums.StageNetscan1:
			if boolVal(sig.Up) {
				return Result{Stage: enums.StagePortscan, Status: enums.StatusWaiting, Changed: true, FinishedStage: true}
			}
			return Result{Stage: enums.StageNetscan2, Status: enums.StatusWaiting, Changed: true, FinishedStage: true}

		case enums.StageNetscan2:
			if boolVal(sig.Up) {
				return Result{Stage: enums.StagePortscan, Status: enums.StatusWaiting, Changed: true, FinishedStage: true}
			}
			return Result{Stage: enums.StageNetscan2, Status: enums.StatusDone, Changed: true, FinishedStage: true}

		case enums.StagePortscan:
			if boolVal(sig.HasOpenPorts) {
				return Result{Stage: enums.StageVulnscan, Status: enums.StatusWaiting, Changed: true, FinishedStage: true}
			}
			return Result{Stage: enums.StagePortscan, Status: enums.StatusDone, Changed: true, FinishedStage: true}

		case enums.StageVulnscan, enums.StageBasescan:
			return Result{Stage: stage, Status: enums.StatusDone, Changed: true, FinishedStage: true}
		}
	}

	log.WithComponent("hoststate").Warn().
		Str("stage", string(stage)).Str("status", string(status)).
		Msg("unexpected (stage, status) combination; no transition applied")
	return Result{Stage: stage, Status: status, Changed: false}
}

func boolVal(b *bool) bool {
	return b != nil && *b
}

// NextState recomputes a host's up/down belief from scan evidence,
// independent of the stage/status transition above. Only has_open_ports
// (PORTSCAN) and an nmap-down result (NETSCAN) ever change the belief; an
// nmap-up result with has_open_ports still unknown leaves currentUp/reason
// untouched, since nmap's "up" only means it got a reply, not that the host
// has any open ports.
func NextState(currentUp bool, nmapSaysUp bool, hasOpenPorts *bool, reason string) (up bool, newReason string) {
	if hasOpenPorts != nil {
		if *hasOpenPorts {
			return true, "open-port"
		}
		return false, "no-open"
	}
	if !nmapSaysUp {
		return false, reason
	}
	return currentUp, reason
}
