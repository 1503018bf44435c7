package ticketing

import (
	"net"
	"testing"
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/types"
	"github.com/stretchr/testify/require"
)

func mkPortScan(ipInt uint32, port int, source string, at time.Time) *types.PortScan {
	return &types.PortScan{
		ScanDoc: types.ScanDoc{
			ID:     "pscan-1",
			Source: source,
			Owner:  "ACME",
			IPInt:  ipInt,
			IP:     net.IPv4(10, 0, 0, 1),
			Time:   at,
		},
		Protocol: "tcp",
		Port:     port,
		Service:  "https",
		State:    "open",
	}
}

func TestIPPortManagerOpensTicketForNewPort(t *testing.T) {
	s := newTestStore(t)
	m := NewIPPortManager(s, []string{"nmap"}, 90)
	m.SetScope([]uint32{1}, []int{443})
	m.PortOpen(1, 443)

	require.NoError(t, m.Observe(mkPortScan(1, 443, "nmap", time.Now().UTC()), "open port found"))

	tickets, err := s.ListTicketsByOwner("ACME")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.True(t, tickets[0].Open)
}

func TestIPPortManagerClosesPortNotSeenThisPass(t *testing.T) {
	s := newTestStore(t)
	m := NewIPPortManager(s, []string{"tcp"}, 90)
	m.SetScope([]uint32{1}, []int{443})
	m.PortOpen(1, 443)
	require.NoError(t, m.Observe(mkPortScan(1, 443, "nmap", time.Now().UTC()), "open port found"))
	require.NoError(t, m.CloseTickets())

	tickets, err := s.ListTicketsByOwner("ACME")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.True(t, tickets[0].Open, "port seen this pass must stay open")

	// Next pass: scope still includes the port, but it wasn't seen open.
	m2 := NewIPPortManager(s, []string{"tcp"}, 90)
	m2.SetScope([]uint32{1}, []int{443})
	require.NoError(t, m2.CloseTickets())

	tickets, err = s.ListTicketsByOwner("ACME")
	require.NoError(t, err)
	require.False(t, tickets[0].Open, "port missing from this pass should close")
}

func TestIPPortManagerAllPortsScannedClosesSilentHost(t *testing.T) {
	s := newTestStore(t)
	m := NewIPPortManager(s, []string{"nmap"}, 90)
	m.SetScope([]uint32{1}, []int{443})
	m.PortOpen(1, 443)
	require.NoError(t, m.Observe(mkPortScan(1, 443, "nmap", time.Now().UTC()), "open port found"))

	full := make([]int, maxPortsCount)
	for i := range full {
		full[i] = i + 1
	}
	m2 := NewIPPortManager(s, []string{"nmap"}, 90)
	m2.SetScope([]uint32{1}, full)
	require.NoError(t, m2.CloseTickets())

	tickets, err := s.ListTicketsByOwner("ACME")
	require.NoError(t, err)
	require.False(t, tickets[0].Open, "ip with no open ports on a full sweep should close")
}
