package ingest

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

func boolPtr(b bool) *bool { return &b }

func TestApplyHostObservationAdvancesWaitingToRunning(t *testing.T) {
	s := newTestStore(t)
	h := types.NewHost(net.ParseIP("10.0.0.1"), "acme", enums.StageNetscan1, 0)
	h.Status = enums.StatusWaiting
	require.NoError(t, s.CreateHost(h))

	require.NoError(t, ApplyHostObservation(s, HostObservation{HostID: h.ID}, time.Now().UTC()))

	got, err := s.GetHost(h.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StageNetscan1, got.Stage)
	require.Equal(t, enums.StatusRunning, got.Status)
}

func TestApplyHostObservationUpHostMovesToPortscan(t *testing.T) {
	s := newTestStore(t)
	h := types.NewHost(net.ParseIP("10.0.0.1"), "acme", enums.StageNetscan1, 0)
	h.Status = enums.StatusRunning
	require.NoError(t, s.CreateHost(h))

	require.NoError(t, ApplyHostObservation(s, HostObservation{HostID: h.ID, Up: boolPtr(true)}, time.Now().UTC()))

	got, err := s.GetHost(h.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StagePortscan, got.Stage)
	require.Equal(t, enums.StatusWaiting, got.Status)
	require.False(t, got.State.Up)
}

func TestApplyHostObservationSchedulesRescanOnDoneWhenSchedulerConfigured(t *testing.T) {
	s := newTestStore(t)
	h := types.NewHost(net.ParseIP("10.0.0.1"), "acme", enums.StageVulnscan, 0)
	h.Status = enums.StatusRunning
	h.Priority = 0
	require.NoError(t, s.CreateHost(h))
	require.NoError(t, s.SaveRequest(&types.Request{Owner: "acme", Scheduler: "default"}))

	now := time.Now().UTC()
	require.NoError(t, ApplyHostObservation(s, HostObservation{HostID: h.ID, Up: boolPtr(true)}, now))

	got, err := s.GetHost(h.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StatusDone, got.Status)
	require.NotNil(t, got.NextScan)
	require.True(t, got.NextScan.After(now))
}

func TestApplyHostObservationLeavesNextScanNilWithoutScheduler(t *testing.T) {
	s := newTestStore(t)
	h := types.NewHost(net.ParseIP("10.0.0.1"), "acme", enums.StageVulnscan, 0)
	h.Status = enums.StatusRunning
	require.NoError(t, s.CreateHost(h))
	require.NoError(t, s.SaveRequest(&types.Request{Owner: "acme"}))

	require.NoError(t, ApplyHostObservation(s, HostObservation{HostID: h.ID, Up: boolPtr(true)}, time.Now().UTC()))

	got, err := s.GetHost(h.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StatusDone, got.Status)
	require.Nil(t, got.NextScan)
}

func TestApplyHostObservationDoneIsNoOp(t *testing.T) {
	s := newTestStore(t)
	h := types.NewHost(net.ParseIP("10.0.0.1"), "acme", enums.StageBasescan, 0)
	h.Status = enums.StatusDone
	require.NoError(t, s.CreateHost(h))

	require.NoError(t, ApplyHostObservation(s, HostObservation{HostID: h.ID, Up: boolPtr(true)}, time.Now().UTC()))

	got, err := s.GetHost(h.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StatusDone, got.Status)
}

func TestApplyHostObservationUnknownHostErrors(t *testing.T) {
	s := newTestStore(t)
	err := ApplyHostObservation(s, HostObservation{HostID: 99}, time.Now().UTC())
	require.Error(t, err)
}

func mkPortScan(ipInt uint32, port int, source string, at time.Time) *types.PortScan {
	return &types.PortScan{
		ScanDoc: types.ScanDoc{
			ID:     "pscan-1",
			Source: source,
			Owner:  "acme",
			IPInt:  ipInt,
			IP:     net.IPv4(10, 0, 0, byte(ipInt)),
			Time:   at,
		},
		Protocol: "tcp",
		Port:     port,
		Service:  "https",
		State:    "open",
	}
}

func mkVuln(ipInt uint32, port, pluginID int, source string, at time.Time) *types.VulnScan {
	return &types.VulnScan{
		ScanDoc: types.ScanDoc{
			ID:     "vscan-1",
			Source: source,
			Owner:  "acme",
			IPInt:  ipInt,
			IP:     net.IPv4(10, 0, 0, byte(ipInt)),
			Time:   at,
		},
		Port:     port,
		Protocol: "tcp",
		PluginID: pluginID,
		Name:     "Some vuln",
		Severity: 3,
	}
}

func TestNetscanPassClosesTicketsForHostsThatDidNotAnswer(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	openTicket := &types.Ticket{ID: "t1", IPInt: 1, Port: 443, Protocol: "tcp", Source: "nessus", Owner: "acme", Open: true, TimeOpened: now}
	require.NoError(t, s.CreateTicket(openTicket))

	require.NoError(t, NetscanPass(s, []uint32{1, 2}, []uint32{2}, now))

	got, err := s.GetTicket("t1")
	require.NoError(t, err)
	require.False(t, got.Open)
}

func TestPortscanPassOpensTicketForNewFinding(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, PortscanPass(s, []uint32{1}, []int{443}, []string{"tcp"}, 0, []*types.PortScan{mkPortScan(1, 443, "nmap", now)}, "open port found"))

	tickets, err := s.ListTicketsByOwner("acme")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.True(t, tickets[0].Open)
}

func TestVulnscanPassOpensTicketForNewFinding(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, VulnscanPass(s, "nessus", false, 0, []uint32{1}, []int{443}, []int{1000}, []*types.VulnScan{mkVuln(1, 443, 1000, "nessus", now)}, "new finding"))

	tickets, err := s.ListTicketsByOwner("acme")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, 3, tickets[0].Details.Severity)
}

func TestApplyHostObservationUpdatesTally(t *testing.T) {
	s := newTestStore(t)
	h := types.NewHost(net.ParseIP("10.0.0.1"), "acme", enums.StageNetscan1, 0)
	h.Status = enums.StatusWaiting
	require.NoError(t, s.CreateHost(h))
	startTally := types.NewTally("acme")
	startTally.Counts[enums.StageNetscan1][enums.StatusWaiting] = 1
	require.NoError(t, s.SaveTally(startTally))

	require.NoError(t, ApplyHostObservation(s, HostObservation{HostID: h.ID}, time.Now().UTC()))

	tl, err := s.GetTally("acme")
	require.NoError(t, err)
	require.Equal(t, 1, tl.Counts[enums.StageNetscan1][enums.StatusRunning])
	require.Equal(t, 0, tl.Counts[enums.StageNetscan1][enums.StatusWaiting])
}
