package ticketing

import (
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/metrics"
	"github.com/cisagov/cyhy-orchestrator/pkg/storage"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
)

// IPManager closes tickets for hosts found down during a NETSCAN pass.
// Unlike the vuln and ip-port managers it never opens tickets of its own —
// a down host simply means every ticket open against its ip should close.
type IPManager struct {
	store storage.Store
	ips   map[uint32]bool
	seen  map[uint32]bool
}

// NewIPManager returns an IPManager with an empty scope.
func NewIPManager(store storage.Store) *IPManager {
	return &IPManager{
		store: store,
		ips:   make(map[uint32]bool),
		seen:  make(map[uint32]bool),
	}
}

// SetScope records the ips the current scan pass covers.
func (m *IPManager) SetScope(ipInts []uint32) {
	m.ips = toUint32Set(ipInts)
}

// IPUp records that ip answered during this pass.
func (m *IPManager) IPUp(ipInt uint32) {
	m.seen[ipInt] = true
}

// CloseTickets closes every open ticket against an ip in scope that did not
// answer during this pass, reason "host down", honoring the false-positive
// carve-out.
func (m *IPManager) CloseTickets(closingTime time.Time) error {
	start := time.Now()
	defer recordLifecycle("ip", start)

	notUp := make(map[uint32]bool, len(m.ips))
	for ip := range m.ips {
		if !m.seen[ip] {
			notUp[ip] = true
		}
	}
	if len(notUp) == 0 {
		return nil
	}

	candidates, err := m.store.ListOpenTicketsByIP(notUp)
	if err != nil {
		return err
	}
	for _, t := range candidates {
		closeWithFalsePositiveCarveOut(t, closingTime, "host down")
		if err := m.store.UpdateTicket(t); err != nil {
			return err
		}
		if !t.Open {
			metrics.TicketsClosedTotal.WithLabelValues(t.Source, "host down").Inc()
		}
	}
	return nil
}

// ClearLatestFlags marks latest=false on any vuln document belonging to an
// ip that did not answer during this pass.
func (m *IPManager) ClearLatestFlags() error {
	notUp := make(map[uint32]bool, len(m.ips))
	for ip := range m.ips {
		if !m.seen[ip] {
			notUp[ip] = true
		}
	}
	if len(notUp) == 0 {
		return nil
	}
	return m.store.ClearLatestVulnScansByIP(notUp)
}
