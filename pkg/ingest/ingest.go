// Package ingest applies one host's scan observation: advancing its
// (stage, status) per pkg/hoststate, keeping its owner's tally in step via
// pkg/tally, and — when the transition reaches DONE — scheduling its next
// rescan per pkg/rescan. This is the application-layer operation a scan
// result ultimately drives; a network transport (the scanner-worker
// protocol, currently unimplemented — see DESIGN.md's pkg/api entry) would
// call directly into ApplyHostObservation rather than duplicate this logic.
package ingest

import (
	"fmt"
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/hoststate"
	"github.com/cisagov/cyhy-orchestrator/pkg/rescan"
	"github.com/cisagov/cyhy-orchestrator/pkg/storage"
	"github.com/cisagov/cyhy-orchestrator/pkg/tally"
	"github.com/cisagov/cyhy-orchestrator/pkg/ticketing"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
)

// HostObservation carries the scan evidence observed for one host.
type HostObservation struct {
	HostID       uint32
	Up           *bool
	HasOpenPorts *bool
	WasFailure   bool
}

// ApplyHostObservation loads the host named by obs.HostID, computes its
// next (stage, status) via hoststate.Next, and persists the host and its
// owner's tally if the transition changed anything. If the transition
// reaches DONE and the owner's request has a scheduler configured, it
// assigns next_scan via rescan.Schedule using the worst severity among the
// host's open, non-false-positive tickets.
func ApplyHostObservation(store storage.Store, obs HostObservation, now time.Time) error {
	h, err := store.GetHost(obs.HostID)
	if err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("host %d not found", obs.HostID)
	}

	result := hoststate.Next(h.Stage, h.Status, hoststate.Signals{
		Up:           obs.Up,
		HasOpenPorts: obs.HasOpenPorts,
		WasFailure:   obs.WasFailure,
	})
	if !result.Changed {
		return nil
	}

	t, err := store.GetTally(h.Owner)
	if err != nil {
		return err
	}
	if t == nil {
		t = types.NewTally(h.Owner)
	}
	tally.Transfer(t, h.Stage, h.Status, result.Stage, result.Status, 1)

	if result.FinishedStage {
		if h.LatestScan == nil {
			h.LatestScan = map[enums.Stage]time.Time{}
		}
		h.LatestScan[h.Stage] = now
	}
	h.Stage = result.Stage
	h.Status = result.Status

	if obs.HasOpenPorts != nil || obs.Up != nil {
		nmapSaysUp := obs.Up != nil && *obs.Up
		up, reason := hoststate.NextState(h.State.Up, nmapSaysUp, obs.HasOpenPorts, h.State.Reason)
		h.State = types.HostState{Up: up, Reason: reason}
	}

	if result.Status == enums.StatusDone {
		req, err := store.GetRequest(h.Owner)
		if err != nil {
			return err
		}
		if req != nil && req.Scheduler != "" {
			maxSev, err := maxOpenSeverity(store, h.ID)
			if err != nil {
				return err
			}
			priority, nextScan := rescan.Schedule(now, h.Priority, h.State.Up, maxSev)
			h.Priority = priority
			h.NextScan = &nextScan
		}
	}

	if err := store.UpdateHost(h); err != nil {
		return err
	}
	return store.SaveTally(t)
}

// NetscanPass applies one NETSCAN pass's up/down findings: closes every
// open ticket against an ip in scope that did not answer, and clears
// latest-vuln flags for those same ips, via pkg/ticketing's IPManager.
func NetscanPass(store storage.Store, scopeIPs, upIPs []uint32, closingTime time.Time) error {
	m := ticketing.NewIPManager(store)
	m.SetScope(scopeIPs)
	for _, ip := range upIPs {
		m.IPUp(ip)
	}
	if err := m.CloseTickets(closingTime); err != nil {
		return err
	}
	return m.ClearLatestFlags()
}

// PortscanPass applies one PORTSCAN pass: opens/verifies/reopens a ticket
// per open-port finding, then closes any in-scope port ticket not seen,
// via pkg/ticketing's IPPortManager.
func PortscanPass(store storage.Store, scopeIPs []uint32, scopePorts []int, protocols []string, reopenDays int, findings []*types.PortScan, reason string) error {
	m := ticketing.NewIPPortManager(store, protocols, reopenDays)
	m.SetScope(scopeIPs, scopePorts)
	for _, f := range findings {
		m.PortOpen(f.IPInt, f.Port)
		if err := m.Observe(f, reason); err != nil {
			return err
		}
	}
	if err := m.CloseTickets(); err != nil {
		return err
	}
	return m.ClearLatestFlags()
}

// VulnscanPass applies one VULNSCAN pass for source: opens/verifies/
// reopens a ticket per finding, then closes any in-scope vuln ticket not
// seen, via pkg/ticketing's VulnManager.
func VulnscanPass(store storage.Store, source string, manual bool, reopenDays int, scopeIPs []uint32, scopePorts, sourceIDs []int, findings []*types.VulnScan, reason string) error {
	m := ticketing.NewVulnManager(store, source, reopenDays, manual)
	m.SetScope(scopeIPs, scopePorts, sourceIDs)
	for _, f := range findings {
		if err := m.Observe(f, reason); err != nil {
			return err
		}
	}
	if err := m.CloseTickets(); err != nil {
		return err
	}
	return m.ClearLatestFlags()
}

// maxOpenSeverity returns the worst severity among ipInt's open,
// non-false-positive tickets, or 0 if it has none.
func maxOpenSeverity(store storage.Store, ipInt uint32) (int, error) {
	tickets, err := store.ListOpenTicketsByIP(map[uint32]bool{ipInt: true})
	if err != nil {
		return 0, err
	}
	max := 0
	for _, t := range tickets {
		if t.FalsePositive {
			continue
		}
		if t.Details.Severity > max {
			max = t.Details.Severity
		}
	}
	return max, nil
}
