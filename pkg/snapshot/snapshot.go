// Package snapshot implements the snapshot builder (C9): a point-in-time
// aggregation over one owner's (and optionally its descendants') current
// scan results and tickets.
//
// Building a snapshot is a two-phase tag-then-aggregate process: the scan
// and ticket documents in scope are first tagged with a fresh oid, then the
// scan and open-ticket statistics are computed by reading back the tagged
// documents. Host counts, addresses scanned, silent ports, closed-ticket
// ages and networks are read from the owners' current lists at build time
// instead, so those figures can include results that land mid-build.
package snapshot

import (
	"fmt"
	"math"
	"net"
	"sort"
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/events"
	"github.com/cisagov/cyhy-orchestrator/pkg/metrics"
	"github.com/cisagov/cyhy-orchestrator/pkg/storage"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
	"github.com/google/uuid"
)

// closedTicketHistoryDays bounds how far back closed tickets are considered
// for the tix_msec_to_close statistic.
const closedTicketHistoryDays = 365

// Builder builds snapshots against a Store.
type Builder struct {
	store  storage.Store
	broker *events.Broker
}

// NewBuilder returns a Builder backed by store.
func NewBuilder(store storage.Store) *Builder {
	return &Builder{store: store}
}

// SetBroker wires an events.Broker so completed builds publish a
// snapshot.built event in addition to being saved to the store.
func (b *Builder) SetBroker(broker *events.Broker) { b.broker = broker }

// Build tags the documents in scope for owner and descendants with a fresh
// oid, computes the aggregate statistics over the tagged set, and saves the
// result as owner's new latest snapshot.
func (b *Builder) Build(owner string, descendants []string, excludeFromWorldStats bool) (*types.Snapshot, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SnapshotBuildDuration, owner)

	oid := uuid.NewString()
	owners := append([]string{owner}, descendants...)
	ownerSet := toStringSet(owners)

	if err := b.store.TagLatestScansForOwners(ownerSet, oid); err != nil {
		return nil, fmt.Errorf("tagging latest scans: %w", err)
	}
	if err := b.store.TagOpenTicketsForOwners(ownerSet, oid); err != nil {
		return nil, fmt.Errorf("tagging open tickets: %w", err)
	}

	hostScans, err := b.store.ListHostScansBySnapshot(oid)
	if err != nil {
		return nil, err
	}
	portScans, err := b.store.ListPortScansBySnapshot(oid)
	if err != nil {
		return nil, err
	}
	vulnScans, err := b.store.ListVulnScansBySnapshot(oid)
	if err != nil {
		return nil, err
	}
	tickets, err := b.store.ListTicketsBySnapshot(oid)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	snap := &types.Snapshot{
		ID:                    oid,
		Owner:                 owner,
		Latest:                true,
		DescendantsIncluded:   len(descendants) > 0,
		ExcludeFromWorldStats: excludeFromWorldStats,
		Parents:               []string{oid}, // self-parented: prevents deletion if ever adopted as a child
	}

	networks, err := b.networksFor(owners)
	if err != nil {
		return nil, err
	}
	snap.Networks = networks

	startTime, endTime, ok := scanTimespan(hostScans, portScans, vulnScans)
	if !ok {
		startTime, endTime, ok = b.hostTimespan(owners)
	}
	if !ok {
		startTime, endTime = now, now
	}
	snap.StartTime = startTime
	snap.EndTime = endTime

	if conflict, err := b.store.FindSnapshotByWindow(owner, startTime, endTime); err != nil {
		return nil, err
	} else if conflict != nil && conflict.ID != oid {
		// Start/end time collides with an existing snapshot for this owner;
		// advance end_time to now rather than fail the build.
		snap.EndTime = now
	}

	hosts, err := b.hostsFor(owners)
	if err != nil {
		return nil, err
	}

	snap.AddressesScanned = countAddressesScanned(hosts)
	snap.Stats.HostCount = countUpHosts(hosts)
	snap.Stats.VulnerableHostCount = countDistinctVulnerableIPs(tickets)
	cvssSum := sumHostMaxCVSS(tickets)
	snap.Stats.CVSSAverageAll = safeDivide(cvssSum, float64(snap.Stats.HostCount))
	snap.Stats.CVSSAverageVulnerable = safeDivide(cvssSum, float64(snap.Stats.VulnerableHostCount))
	snap.Stats.UniqueOperatingSystems = countUniqueOperatingSystems(hostScans)
	snap.Stats.PortCount = countPortPairs(portScans)
	snap.Stats.UniquePortCount = countUniquePorts(portScans)

	silentPortCount, err := b.countSilentPorts(owners)
	if err != nil {
		return nil, err
	}
	snap.SilentPortCount = silentPortCount

	snap.Stats.Vulnerabilities = severityCounts(tickets, false)
	snap.Stats.UniqueVulnerabilities = uniqueSeverityCounts(tickets)
	snap.FalsePositives = severityCounts(tickets, true)
	snap.Services = serviceCounts(portScans)

	snap.TixOpenAsOfDate = now
	snap.TixMsecOpen = openTicketAge(tickets, now)

	cutoff := now.AddDate(0, 0, -closedTicketHistoryDays)
	snap.TixClosedAfterDate = cutoff
	closedTickets, err := b.closedTicketsSince(owners, cutoff)
	if err != nil {
		return nil, err
	}
	snap.TixMsecToClose = closedTicketAge(closedTickets)

	if err := b.store.ResetLatestSnapshotFlag(owner); err != nil {
		return nil, err
	}
	if err := b.store.SaveSnapshot(snap); err != nil {
		return nil, err
	}

	if err := b.updateWorldStats(); err != nil {
		return nil, err
	}
	snap, err = b.reloadSelf(oid, owner)
	if err != nil {
		return nil, err
	}

	metrics.SnapshotsBuiltTotal.Inc()
	if b.broker != nil {
		b.broker.Publish(&events.Event{
			Type:     events.EventSnapshotBuilt,
			Message:  snap.ID,
			Metadata: map[string]string{"owner": snap.Owner},
		})
	}
	return snap, nil
}

// updateWorldStats recomputes the cross-owner World statistics carried on
// every latest, non-excluded, non-descendant snapshot. A snapshot whose
// parents list doesn't contain its own id is a descendant snapshot (it was
// tagged with its parent's oid as part of a larger build) and is skipped so
// its totals aren't double-counted against the parent's.
func (b *Builder) updateWorldStats() error {
	all, err := b.store.ListLatestSnapshots()
	if err != nil {
		return err
	}

	var world types.AggregateStats
	world.Vulnerabilities = map[string]int{}
	world.UniqueVulnerabilities = map[string]int{}
	for _, snap := range all {
		if snap.ExcludeFromWorldStats || !containsString(snap.Parents, snap.ID) {
			continue
		}
		world.HostCount += snap.Stats.HostCount
		world.VulnerableHostCount += snap.Stats.VulnerableHostCount
		for _, k := range []string{"low", "medium", "high", "critical", "total"} {
			world.Vulnerabilities[k] += snap.Stats.Vulnerabilities[k]
			world.UniqueVulnerabilities[k] += snap.Stats.UniqueVulnerabilities[k]
		}
	}

	for _, snap := range all {
		snap.World = world
		if err := b.store.SaveSnapshot(snap); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) reloadSelf(oid, owner string) (*types.Snapshot, error) {
	snap, err := b.store.GetLatestSnapshot(owner)
	if err != nil {
		return nil, err
	}
	if snap == nil || snap.ID != oid {
		return nil, fmt.Errorf("snapshot %s not found after save", oid)
	}
	return snap, nil
}

func (b *Builder) hostsFor(owners []string) ([]*types.Host, error) {
	var out []*types.Host
	for _, o := range owners {
		hosts, err := b.store.ListHostsByOwner(o)
		if err != nil {
			return nil, err
		}
		out = append(out, hosts...)
	}
	return out, nil
}

func (b *Builder) hostTimespan(owners []string) (time.Time, time.Time, bool) {
	hosts, err := b.hostsFor(owners)
	if err != nil || len(hosts) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, end := hosts[0].LastChange, hosts[0].LastChange
	for _, h := range hosts[1:] {
		if h.LastChange.Before(start) {
			start = h.LastChange
		}
		if h.LastChange.After(end) {
			end = h.LastChange
		}
	}
	return start, end, true
}

func (b *Builder) countSilentPorts(owners []string) (int, error) {
	count := 0
	for _, o := range owners {
		scans, err := b.store.ListLatestPortScansByOwner(o)
		if err != nil {
			return 0, err
		}
		for _, sc := range scans {
			if sc.State == "silent" {
				count++
			}
		}
	}
	return count, nil
}

func (b *Builder) closedTicketsSince(owners []string, since time.Time) ([]*types.Ticket, error) {
	var out []*types.Ticket
	for _, o := range owners {
		tickets, err := b.store.ListTicketsByOwner(o)
		if err != nil {
			return nil, err
		}
		for _, t := range tickets {
			if !t.Open && t.TimeClosed != nil && !t.TimeClosed.Before(since) {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (b *Builder) networksFor(owners []string) ([]net.IPNet, error) {
	var out []net.IPNet
	for _, o := range owners {
		req, err := b.store.GetRequest(o)
		if err != nil {
			return nil, err
		}
		if req == nil {
			continue
		}
		out = append(out, req.Networks...)
	}
	return out, nil
}

func scanTimespan(hostScans []*types.HostScan, portScans []*types.PortScan, vulnScans []*types.VulnScan) (time.Time, time.Time, bool) {
	var start, end time.Time
	set := false
	consider := func(t time.Time) {
		if !set {
			start, end, set = t, t, true
			return
		}
		if t.Before(start) {
			start = t
		}
		if t.After(end) {
			end = t
		}
	}
	for _, sc := range hostScans {
		consider(sc.Time)
	}
	for _, sc := range portScans {
		consider(sc.Time)
	}
	for _, sc := range vulnScans {
		consider(sc.Time)
	}
	return start, end, set
}

// countAddressesScanned counts hosts that have completed at least one full
// scan stage, i.e. have a non-empty latest_scan record.
func countAddressesScanned(hosts []*types.Host) int {
	n := 0
	for _, h := range hosts {
		if len(h.LatestScan) > 0 {
			n++
		}
	}
	return n
}

func countUpHosts(hosts []*types.Host) int {
	n := 0
	for _, h := range hosts {
		if h.State.Up {
			n++
		}
	}
	return n
}

func countDistinctVulnerableIPs(tickets []*types.Ticket) int {
	ips := map[uint32]bool{}
	for _, t := range tickets {
		ips[t.IPInt] = true
	}
	return len(ips)
}

func sumHostMaxCVSS(tickets []*types.Ticket) float64 {
	maxByIP := map[uint32]float64{}
	for _, t := range tickets {
		if t.Details.CVSSBaseScore > maxByIP[t.IPInt] {
			maxByIP[t.IPInt] = t.Details.CVSSBaseScore
		}
	}
	sum := 0.0
	for _, v := range maxByIP {
		sum += v
	}
	return sum
}

func countUniqueOperatingSystems(hostScans []*types.HostScan) int {
	type key struct {
		ip uint32
		os string
	}
	seenPairs := map[key]bool{}
	for _, sc := range hostScans {
		if sc.Name == "" {
			continue
		}
		seenPairs[key{sc.IPInt, sc.Name}] = true
	}
	os := map[string]bool{}
	for k := range seenPairs {
		os[k.os] = true
	}
	return len(os)
}

func countPortPairs(portScans []*types.PortScan) int {
	type key struct {
		ip   uint32
		port int
	}
	seen := map[key]bool{}
	for _, sc := range portScans {
		seen[key{sc.IPInt, sc.Port}] = true
	}
	return len(seen)
}

func countUniquePorts(portScans []*types.PortScan) int {
	ports := map[int]bool{}
	for _, sc := range portScans {
		ports[sc.Port] = true
	}
	return len(ports)
}

func severityCounts(tickets []*types.Ticket, falsePositiveOnly bool) map[string]int {
	out := map[string]int{"low": 0, "medium": 0, "high": 0, "critical": 0, "total": 0}
	for _, t := range tickets {
		if t.FalsePositive != falsePositiveOnly {
			continue
		}
		switch t.Details.Severity {
		case 1:
			out["low"]++
		case 2:
			out["medium"]++
		case 3:
			out["high"]++
		case 4:
			out["critical"]++
		}
		out["total"]++
	}
	return out
}

func uniqueSeverityCounts(tickets []*types.Ticket) map[string]int {
	type key struct {
		sourceID int
		severity int
	}
	seen := map[key]bool{}
	for _, t := range tickets {
		if t.FalsePositive {
			continue
		}
		seen[key{t.SourceID, t.Details.Severity}] = true
	}
	out := map[string]int{"low": 0, "medium": 0, "high": 0, "critical": 0, "total": 0}
	for k := range seen {
		switch k.severity {
		case 1:
			out["low"]++
		case 2:
			out["medium"]++
		case 3:
			out["high"]++
		case 4:
			out["critical"]++
		}
		out["total"]++
	}
	return out
}

func serviceCounts(portScans []*types.PortScan) map[string]int {
	type key struct {
		ip      uint32
		port    int
		service string
	}
	seen := map[key]bool{}
	for _, sc := range portScans {
		if sc.Service == "" || sc.Service == "unknown" {
			continue
		}
		seen[key{sc.IPInt, sc.Port, sc.Service}] = true
	}
	counts := map[string]int{}
	for k := range seen {
		counts[k.service]++
	}
	return counts
}

func openTicketAge(tickets []*types.Ticket, asOf time.Time) map[string]types.SeverityBucket {
	return ticketAge(tickets, func(t *types.Ticket) (float64, bool) {
		if t.FalsePositive {
			return 0, false
		}
		return float64(asOf.Sub(t.TimeOpened).Milliseconds()), true
	})
}

func closedTicketAge(tickets []*types.Ticket) map[string]types.SeverityBucket {
	return ticketAge(tickets, func(t *types.Ticket) (float64, bool) {
		if t.TimeClosed == nil {
			return 0, false
		}
		return float64(t.TimeClosed.Sub(t.TimeOpened).Milliseconds()), true
	})
}

func ticketAge(tickets []*types.Ticket, age func(*types.Ticket) (float64, bool)) map[string]types.SeverityBucket {
	buckets := map[int][]float64{1: nil, 2: nil, 3: nil, 4: nil}
	for _, t := range tickets {
		ms, ok := age(t)
		if !ok {
			continue
		}
		buckets[t.Details.Severity] = append(buckets[t.Details.Severity], ms)
	}
	names := map[int]string{1: "low", 2: "medium", 3: "high", 4: "critical"}
	out := map[string]types.SeverityBucket{}
	for sev, name := range names {
		vals := buckets[sev]
		if len(vals) == 0 {
			out[name] = types.SeverityBucket{}
			continue
		}
		out[name] = types.SeverityBucket{Median: median(vals), Max: maxOf(vals)}
	}
	return out
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func safeDivide(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0.0
	}
	return math.Round(numerator/denominator*10) / 10
}

func toStringSet(vals []string) map[string]bool {
	out := make(map[string]bool, len(vals))
	for _, v := range vals {
		out[v] = true
	}
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
