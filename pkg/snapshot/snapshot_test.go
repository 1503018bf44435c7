package snapshot

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
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

func TestBuildComputesHostAndTicketAggregates(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.SaveRequest(&types.Request{Owner: "ACME"}))

	h := types.NewHost(net.IPv4(10, 0, 0, 1), "ACME", enums.StageVulnscan, 0.5)
	h.State.Up = true
	h.LatestScan[enums.StageVulnscan] = now
	require.NoError(t, s.UpdateHost(h))

	require.NoError(t, s.CreateHostScan(&types.HostScan{
		ScanDoc: types.ScanDoc{ID: "hs1", Source: "nmap", Owner: "ACME", IPInt: h.ID, IP: h.IP, Time: now, Latest: true},
		Name:    "Linux",
	}))
	require.NoError(t, s.CreatePortScan(&types.PortScan{
		ScanDoc:  types.ScanDoc{ID: "ps1", Source: "nmap", Owner: "ACME", IPInt: h.ID, IP: h.IP, Time: now, Latest: true},
		Protocol: "tcp", Port: 443, Service: "https", State: "open",
	}))
	require.NoError(t, s.CreateVulnScan(&types.VulnScan{
		ScanDoc:  types.ScanDoc{ID: "vs1", Source: "nessus", Owner: "ACME", IPInt: h.ID, IP: h.IP, Time: now, Latest: true},
		Port:     443, Protocol: "tcp", PluginID: 1000, Severity: 4,
	}))

	ticket := &types.Ticket{
		ID: "t1", IPInt: h.ID, IP: h.IP, Port: 443, Protocol: "tcp",
		Source: "nessus", SourceID: 1000, Owner: "ACME", Open: true,
		TimeOpened: now.Add(-time.Hour),
		Details:    types.TicketDetails{Severity: 4, CVSSBaseScore: 9.8},
	}
	require.NoError(t, s.CreateTicket(ticket))

	b := NewBuilder(s)
	snap, err := b.Build("ACME", nil, false)
	require.NoError(t, err)

	require.Equal(t, "ACME", snap.Owner)
	require.True(t, snap.Latest)
	require.Equal(t, 1, snap.Stats.HostCount)
	require.Equal(t, 1, snap.Stats.VulnerableHostCount)
	require.Equal(t, 1, snap.Stats.UniqueOperatingSystems)
	require.Equal(t, 1, snap.Stats.PortCount)
	require.Equal(t, 1, snap.Stats.UniquePortCount)
	require.Equal(t, 1, snap.Stats.Vulnerabilities["critical"])
	require.Equal(t, 1, snap.Stats.Vulnerabilities["total"])
	require.Equal(t, 9.8, snap.Stats.CVSSAverageAll)
	require.Equal(t, 1, snap.Services["https"])
	require.Equal(t, 1, snap.AddressesScanned)

	reloaded, err := s.GetLatestSnapshot("ACME")
	require.NoError(t, err)
	require.Equal(t, snap.ID, reloaded.ID)
}

func TestBuildResetsPreviousLatestSnapshot(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveRequest(&types.Request{Owner: "ACME"}))
	b := NewBuilder(s)

	first, err := b.Build("ACME", nil, false)
	require.NoError(t, err)
	second, err := b.Build("ACME", nil, false)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	latest, err := s.GetLatestSnapshot("ACME")
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)
}

func TestBuildRollsUpDescendantsAndWorldStats(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveRequest(&types.Request{Owner: "PARENT", Children: []string{"CHILD"}}))
	require.NoError(t, s.SaveRequest(&types.Request{Owner: "CHILD"}))

	h := types.NewHost(net.IPv4(10, 0, 0, 5), "CHILD", enums.StageVulnscan, 0.1)
	h.State.Up = true
	require.NoError(t, s.UpdateHost(h))

	b := NewBuilder(s)
	parentSnap, err := b.Build("PARENT", []string{"CHILD"}, false)
	require.NoError(t, err)
	require.Equal(t, 1, parentSnap.Stats.HostCount, "descendant's host should roll up into the parent snapshot")
	require.Equal(t, 1, parentSnap.World.HostCount, "the one latest snapshot should be included in its own world stats")
}
