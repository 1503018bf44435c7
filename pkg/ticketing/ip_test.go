package ticketing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIPManagerClosesTicketsForHostsNotUp(t *testing.T) {
	s := newTestStore(t)
	vm := NewVulnManager(s, "nessus", 90, false)
	vm.SetScope([]uint32{1, 2}, []int{443}, []int{1000})
	now := time.Now().UTC()
	require.NoError(t, vm.Observe(mkVuln(1, 443, 1000, "nessus", now), "finding"))
	require.NoError(t, vm.Observe(mkVuln(2, 443, 1000, "nessus", now), "finding"))

	im := NewIPManager(s)
	im.SetScope([]uint32{1, 2})
	im.IPUp(1) // host 2 did not answer this pass

	require.NoError(t, im.CloseTickets(now))

	t1, err := s.ListOpenTicketsByIP(map[uint32]bool{1: true})
	require.NoError(t, err)
	require.Len(t, t1, 1, "host that answered keeps its ticket open")

	t2, err := s.ListOpenTicketsByIP(map[uint32]bool{2: true})
	require.NoError(t, err)
	require.Len(t, t2, 0, "host down should have its tickets closed")
}

func TestIPManagerNoOpWhenAllHostsUp(t *testing.T) {
	s := newTestStore(t)
	im := NewIPManager(s)
	im.SetScope([]uint32{1})
	im.IPUp(1)
	require.NoError(t, im.CloseTickets(time.Now().UTC()))
}
