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

// maxPortsCount is the full TCP port range; when a scan covers every port,
// the IP-port manager gets a one-time opportunity to close port-0 tickets.
const maxPortsCount = 65535

// IPPortManager opens, verifies, reopens, and closes tickets for one
// PORTSCAN pass, per §4.4.
type IPPortManager struct {
	store     storage.Store
	reopen    time.Duration
	ips       map[uint32]bool
	ports     map[int]bool
	protocols map[string]bool
	seen      map[uint32]map[int]bool
	closing   *time.Time
}

// NewIPPortManager returns an IPPortManager scoped to protocols.
func NewIPPortManager(store storage.Store, protocols []string, reopenDays int) *IPPortManager {
	if reopenDays <= 0 {
		reopenDays = DefaultReopenDays
	}
	return &IPPortManager{
		store:     store,
		reopen:    time.Duration(reopenDays) * 24 * time.Hour,
		ips:       make(map[uint32]bool),
		ports:     make(map[int]bool),
		protocols: toStringSet(protocols),
		seen:      make(map[uint32]map[int]bool),
	}
}

// SetScope records the (ips, ports) the current scan pass covers.
func (m *IPPortManager) SetScope(ipInts []uint32, ports []int) {
	m.ips = toUint32Set(ipInts)
	m.ports = toIntSet(ports)
}

// PortOpen records that port was found open on ip during this pass.
func (m *IPPortManager) PortOpen(ipInt uint32, port int) {
	if m.seen[ipInt] == nil {
		m.seen[ipInt] = make(map[int]bool)
	}
	m.seen[ipInt][port] = true
}

// Observe processes one open-port finding.
func (m *IPPortManager) Observe(scan *types.PortScan, reason string) error {
	if m.closing == nil || m.closing.Before(scan.Time) {
		t := scan.Time
		m.closing = &t
	}

	source := scan.Source
	sourceID := 0 // port scans carry no plugin id; identity is (ip,port,protocol,source)

	prev, err := m.store.FindOpenTicket(scan.IPInt, scan.Port, scan.Protocol, source, sourceID)
	if err != nil {
		return err
	}
	if prev != nil {
		checkFalsePositiveExpiration(prev, scan.Time)
		appendEvent(prev, enums.TicketEventVerified, reason, scan.ID, scan.Time, nil, nil)
		return m.store.UpdateTicket(prev)
	}

	cutoff := time.Now().UTC().Add(-m.reopen)
	reopenCandidate, err := m.store.FindRecentlyClosedTicket(scan.IPInt, scan.Port, scan.Protocol, source, sourceID, cutoff)
	if err != nil {
		return err
	}
	if reopenCandidate != nil {
		appendEvent(reopenCandidate, enums.TicketEventReopened, reason, scan.ID, scan.Time, nil, nil)
		reopenCandidate.Open = true
		reopenCandidate.TimeClosed = nil
		if err := m.store.UpdateTicket(reopenCandidate); err != nil {
			return err
		}
		publish(events.EventTicketReopened, reopenCandidate)
		return nil
	}

	nt := &types.Ticket{
		ID:         uuid.NewString(),
		IPInt:      scan.IPInt,
		IP:         scan.IP,
		Port:       scan.Port,
		Protocol:   scan.Protocol,
		Source:     source,
		SourceID:   sourceID,
		Owner:      scan.Owner,
		Open:       true,
		TimeOpened: scan.Time,
		Details: types.TicketDetails{
			Severity: 0,
			Name:     scan.Service,
			Service:  scan.Service,
		},
	}
	appendEvent(nt, enums.TicketEventOpened, reason, scan.ID, scan.Time, nil, nil)

	if nt.Owner == enums.UnknownOwner {
		closingTime := scan.Time
		if m.closing != nil {
			closingTime = *m.closing
		}
		appendEvent(nt, enums.TicketEventClosed, "No associated owner", "", scan.Time, nil, nil)
		nt.Open = false
		nt.TimeClosed = &closingTime
	}

	if err := m.store.CreateTicket(nt); err != nil {
		return err
	}
	metrics.TicketsOpenedTotal.WithLabelValues(source).Inc()
	publish(events.EventTicketOpened, nt)
	return createNotification(m.store, uuid.NewString, nt)
}

// CloseTickets closes every open port ticket in scope whose port was not
// seen open during this pass.
func (m *IPPortManager) CloseTickets() error {
	start := time.Now()
	defer recordLifecycle("ip-port", start)

	closingTime := time.Now().UTC()
	if m.closing != nil {
		closingTime = *m.closing
	}

	allPortsScanned := len(m.ports) == maxPortsCount

	var candidates []*types.Ticket
	var err error
	if allPortsScanned {
		noOpenPorts := make(map[uint32]bool, len(m.ips))
		for ip := range m.ips {
			if len(m.seen[ip]) == 0 {
				noOpenPorts[ip] = true
			}
		}
		closedSilent, err := m.store.ListOpenTicketsByIP(noOpenPorts)
		if err != nil {
			return err
		}
		for _, t := range closedSilent {
			m.closeOne(t, closingTime)
			if err := m.store.UpdateTicket(t); err != nil {
				return err
			}
		}

		candidates, err = m.store.ListOpenTicketsExcludingPortZero(m.ips, m.protocols)
		if err != nil {
			return err
		}
	} else {
		candidates, err = m.store.ListOpenPortTickets(m.ips, m.ports, m.protocols)
		if err != nil {
			return err
		}
	}

	for _, t := range candidates {
		if m.seen[t.IPInt][t.Port] {
			continue
		}
		m.closeOne(t, closingTime)
		if err := m.store.UpdateTicket(t); err != nil {
			return err
		}
	}
	return nil
}

func (m *IPPortManager) closeOne(t *types.Ticket, closingTime time.Time) {
	closeWithFalsePositiveCarveOut(t, closingTime, "port not open")
	if !t.Open {
		metrics.TicketsClosedTotal.WithLabelValues(t.Source, "port not open").Inc()
	}
}

// ClearLatestFlags marks latest=false on any latest vuln document whose
// port wasn't found open for its ip during this pass.
func (m *IPPortManager) ClearLatestFlags() error {
	for ip, keep := range m.seen {
		if err := m.store.ClearLatestVulnScansByIPExceptPorts(ip, keep); err != nil {
			return err
		}
	}
	for ip := range m.ips {
		if _, ok := m.seen[ip]; !ok {
			if err := m.store.ClearLatestVulnScansByIPExceptPorts(ip, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func toStringSet(vals []string) map[string]bool {
	out := make(map[string]bool, len(vals))
	for _, v := range vals {
		out[v] = true
	}
	return out
}
