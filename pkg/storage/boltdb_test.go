package storage

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHostRoundTrip(t *testing.T) {
	s := newTestStore(t)
	h := types.NewHost(net.ParseIP("10.0.0.1"), "acme", enums.StageNetscan1, 0.5)
	require.NoError(t, s.CreateHost(h))

	got, err := s.GetHost(h.ID)
	require.NoError(t, err)
	require.Equal(t, h.Owner, got.Owner)
	require.Equal(t, h.Stage, got.Stage)
}

func TestListHostsByClaimOrdering(t *testing.T) {
	s := newTestStore(t)
	mk := func(ip string, priority int, r float64) {
		h := types.NewHost(net.ParseIP(ip), "acme", enums.StagePortscan, r)
		h.Status = enums.StatusWaiting
		h.Priority = priority
		require.NoError(t, s.CreateHost(h))
	}
	mk("10.0.0.1", 2, 0.9)
	mk("10.0.0.2", -4, 0.1)
	mk("10.0.0.3", -4, 0.05)

	hosts, err := s.ListHostsByClaim(ClaimQuery{Owner: "acme", Stage: enums.StagePortscan, Status: enums.StatusWaiting})
	require.NoError(t, err)
	require.Len(t, hosts, 3)
	require.Equal(t, -4, hosts[0].Priority)
	require.Equal(t, 0.05, hosts[0].R)
	require.Equal(t, 2, hosts[2].Priority)
}

func TestTicketIdempotentOpenLookup(t *testing.T) {
	s := newTestStore(t)
	tk := &types.Ticket{ID: "t1", IPInt: 1, Port: 0, Protocol: "tcp", Source: "nessus", SourceID: 5, Open: true}
	require.NoError(t, s.CreateTicket(tk))

	found, err := s.FindOpenTicket(1, 0, "tcp", "nessus", 5)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "t1", found.ID)
}
