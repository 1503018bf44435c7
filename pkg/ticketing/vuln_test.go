package ticketing

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/storage"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	s, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mkVuln(ipInt uint32, port, pluginID int, source string, at time.Time) *types.VulnScan {
	return &types.VulnScan{
		ScanDoc: types.ScanDoc{
			ID:     "scan-1",
			Source: source,
			Owner:  "ACME",
			IPInt:  ipInt,
			IP:     net.IPv4(10, 0, 0, 1),
			Time:   at,
		},
		Port:     port,
		Protocol: "tcp",
		PluginID: pluginID,
		Name:     "Some vuln",
		Severity: 3,
	}
}

func TestVulnManagerOpensThenClosesUnseenTicket(t *testing.T) {
	s := newTestStore(t)
	m := NewVulnManager(s, "nessus", 90, false)
	m.SetScope([]uint32{1}, []int{443}, []int{1000})

	require.NoError(t, m.Observe(mkVuln(1, 443, 1000, "nessus", time.Now().UTC()), "new finding"))

	tickets, err := s.ListTicketsByOwner("ACME")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.True(t, tickets[0].Open)

	// Next pass: same scope, but the finding is not observed again.
	m2 := NewVulnManager(s, "nessus", 90, false)
	m2.SetScope([]uint32{1}, []int{443}, []int{1000})
	require.NoError(t, m2.CloseTickets())
	tickets, err = s.ListTicketsByOwner("ACME")
	require.NoError(t, err)
	require.False(t, tickets[0].Open, "ticket not observed this pass should close")
}

func TestVulnManagerVerifiesSeenTicket(t *testing.T) {
	s := newTestStore(t)
	m := NewVulnManager(s, "nessus", 90, false)
	m.SetScope([]uint32{1}, []int{443}, []int{1000})

	now := time.Now().UTC()
	require.NoError(t, m.Observe(mkVuln(1, 443, 1000, "nessus", now), "new finding"))
	require.NoError(t, m.Observe(mkVuln(1, 443, 1000, "nessus", now.Add(time.Minute)), "still present"))
	require.NoError(t, m.CloseTickets())

	tickets, err := s.ListTicketsByOwner("ACME")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.True(t, tickets[0].Open, "ticket observed again this pass should stay open")
}

func TestVulnManagerClosesUdpTicketOutsidePortScope(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	udpTicket := &types.Ticket{
		ID: "udp-1", IPInt: 1, Port: 9999, Protocol: "udp", Source: "nessus", SourceID: 1000,
		Owner: "ACME", Open: true, TimeOpened: now, LastChange: now,
	}
	require.NoError(t, s.CreateTicket(udpTicket))

	m := NewVulnManager(s, "nessus", 90, false)
	m.SetScope([]uint32{1}, []int{443}, []int{1000})
	require.NoError(t, m.CloseTickets())

	got, err := s.GetTicket("udp-1")
	require.NoError(t, err)
	require.False(t, got.Open, "udp ticket's port does not constrain the close scope")
}

func TestVulnManagerUnknownOwnerClosesImmediately(t *testing.T) {
	s := newTestStore(t)
	m := NewVulnManager(s, "nessus", 90, false)
	m.SetScope([]uint32{1}, []int{443}, []int{1000})

	v := mkVuln(1, 443, 1000, "nessus", time.Now().UTC())
	v.Owner = "UNKNOWN"
	require.NoError(t, m.Observe(v, "new finding"))

	tickets, err := s.ListTicketsByOwner("UNKNOWN")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.False(t, tickets[0].Open)
}
