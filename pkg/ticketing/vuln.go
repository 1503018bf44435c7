package ticketing

import (
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/events"
	"github.com/cisagov/cyhy-orchestrator/pkg/metrics"
	"github.com/cisagov/cyhy-orchestrator/pkg/storage"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
	"github.com/google/uuid"
)

// VulnManager opens, verifies, reopens, and closes tickets for one
// VULNSCAN source over the course of a scan pass, per §4.4.
type VulnManager struct {
	store   storage.Store
	source  string
	manual  bool
	reopen  time.Duration
	ips     map[uint32]bool
	ports   map[int]bool
	srcIDs  map[int]bool
	seen    map[string]bool
	closing *time.Time
}

// NewVulnManager returns a VulnManager for source, reopening tickets closed
// within reopenDays. Port 0 is always included in scope, since general
// (non-port-specific) vulnerabilities are ticketed there.
func NewVulnManager(store storage.Store, source string, reopenDays int, manual bool) *VulnManager {
	if reopenDays <= 0 {
		reopenDays = DefaultReopenDays
	}
	return &VulnManager{
		store:  store,
		source: source,
		manual: manual,
		reopen: time.Duration(reopenDays) * 24 * time.Hour,
		ips:    make(map[uint32]bool),
		ports:  map[int]bool{0: true},
		srcIDs: make(map[int]bool),
		seen:   make(map[string]bool),
	}
}

// SetScope records the (ips, ports, source_ids) this manager will consider
// touched by the current scan pass; port 0 is always kept in scope.
func (m *VulnManager) SetScope(ipInts []uint32, ports []int, sourceIDs []int) {
	m.ips = toUint32Set(ipInts)
	m.ports = toIntSet(ports)
	m.ports[0] = true
	m.srcIDs = toIntSet(sourceIDs)
}

// Observe processes one vuln finding, opening, verifying, or reopening a
// ticket as appropriate.
func (m *VulnManager) Observe(vuln *types.VulnScan, reason string) error {
	if m.closing == nil || m.closing.Before(vuln.Time) {
		t := vuln.Time
		m.closing = &t
	}

	prev, err := m.store.FindOpenTicket(vuln.IPInt, vuln.Port, vuln.Protocol, vuln.Source, vuln.PluginID)
	if err != nil {
		return err
	}
	if prev != nil {
		details, delta := synthesizeVulnDetails(m.store, vuln, &prev.Details)
		prev.Details = details
		if len(delta) > 0 {
			appendEvent(prev, enums.TicketEventChanged, "details changed", vuln.ID, vuln.Time, delta, nil)
		}
		checkFalsePositiveExpiration(prev, vuln.Time)
		appendEvent(prev, enums.TicketEventVerified, reason, vuln.ID, vuln.Time, nil, nil)
		if err := m.store.UpdateTicket(prev); err != nil {
			return err
		}
		m.seen[prev.ID] = true
		return nil
	}

	cutoff := time.Now().UTC().Add(-m.reopen)
	reopenCandidate, err := m.store.FindRecentlyClosedTicket(vuln.IPInt, vuln.Port, vuln.Protocol, vuln.Source, vuln.PluginID, cutoff)
	if err != nil {
		return err
	}
	if reopenCandidate != nil {
		details, delta := synthesizeVulnDetails(m.store, vuln, &reopenCandidate.Details)
		reopenCandidate.Details = details
		if len(delta) > 0 {
			appendEvent(reopenCandidate, enums.TicketEventChanged, "details changed", vuln.ID, vuln.Time, delta, nil)
		}
		appendEvent(reopenCandidate, enums.TicketEventReopened, reason, vuln.ID, vuln.Time, nil, nil)
		reopenCandidate.Open = true
		reopenCandidate.TimeClosed = nil
		if err := m.store.UpdateTicket(reopenCandidate); err != nil {
			return err
		}
		m.seen[reopenCandidate.ID] = true
		metrics.TicketsReopenedTotal.WithLabelValues(m.source).Inc()
		publish(events.EventTicketReopened, reopenCandidate)
		return nil
	}

	details, _ := synthesizeVulnDetails(m.store, vuln, nil)
	nt := &types.Ticket{
		ID:         uuid.NewString(),
		IPInt:      vuln.IPInt,
		IP:         vuln.IP,
		Port:       vuln.Port,
		Protocol:   vuln.Protocol,
		Source:     vuln.Source,
		SourceID:   vuln.PluginID,
		Owner:      vuln.Owner,
		Open:       true,
		TimeOpened: vuln.Time,
		Details:    details,
	}
	appendEvent(nt, enums.TicketEventOpened, reason, vuln.ID, vuln.Time, nil, nil)

	if nt.Owner == enums.UnknownOwner {
		closingTime := vuln.Time
		if m.closing != nil {
			closingTime = *m.closing
		}
		appendEvent(nt, enums.TicketEventClosed, "No associated owner", "", vuln.Time, nil, nil)
		nt.Open = false
		nt.TimeClosed = &closingTime
	}

	if err := m.store.CreateTicket(nt); err != nil {
		return err
	}
	m.seen[nt.ID] = true
	metrics.TicketsOpenedTotal.WithLabelValues(m.source).Inc()
	publish(events.EventTicketOpened, nt)

	if nt.Details.Severity > 2 {
		if err := createNotification(m.store, uuid.NewString, nt); err != nil {
			return err
		}
	}
	return nil
}

// CloseTickets closes every open ticket in scope that was not touched by
// Observe during this pass, honoring the false-positive carve-out.
func (m *VulnManager) CloseTickets() error {
	start := time.Now()
	defer recordLifecycle("vuln", start)

	closingTime := time.Now().UTC()
	if m.closing != nil {
		closingTime = *m.closing
	}

	candidates, err := m.store.ListOpenTicketsByScope(m.ips, m.ports, m.srcIDs, nil, m.source)
	if err != nil {
		return err
	}
	for _, t := range candidates {
		if m.seen[t.ID] {
			continue
		}
		closeWithFalsePositiveCarveOut(t, closingTime, "vulnerability not detected")
		if err := m.store.UpdateTicket(t); err != nil {
			return err
		}
		if !t.Open {
			metrics.TicketsClosedTotal.WithLabelValues(m.source, "vulnerability not detected").Inc()
		}
	}
	return nil
}

// ReadyToClearLatestFlags reports whether enough scope has been recorded
// to safely clear stale latest flags (all three scope dimensions must be
// non-empty).
func (m *VulnManager) ReadyToClearLatestFlags() bool {
	return len(m.ips) > 0 && len(m.ports) > 0 && len(m.srcIDs) > 0
}

// ClearLatestFlags marks prior vuln observations in scope as no longer
// latest.
func (m *VulnManager) ClearLatestFlags() error {
	if !m.ReadyToClearLatestFlags() {
		return nil
	}
	return m.store.ClearLatestVulnScansByScope(m.ips, m.ports, m.srcIDs, m.source)
}

func toIntSet(vals []int) map[int]bool {
	out := make(map[int]bool, len(vals))
	for _, v := range vals {
		out[v] = true
	}
	return out
}

func toUint32Set(vals []uint32) map[uint32]bool {
	out := make(map[uint32]bool, len(vals))
	for _, v := range vals {
		out[v] = true
	}
	return out
}
