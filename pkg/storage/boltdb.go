package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketHosts         = []byte("hosts")
	bucketTallies       = []byte("tallies")
	bucketRequests      = []byte("requests")
	bucketTickets       = []byte("tickets")
	bucketHostScans     = []byte("host_scans")
	bucketPortScans     = []byte("port_scans")
	bucketVulnScans     = []byte("vuln_scans")
	bucketSnapshots     = []byte("snapshots")
	bucketControl       = []byte("control")
	bucketCVEs          = []byte("cves")
	bucketNotifications = []byte("notifications")
)

var allBuckets = [][]byte{
	bucketHosts, bucketTallies, bucketRequests, bucketTickets,
	bucketHostScans, bucketPortScans, bucketVulnScans, bucketSnapshots,
	bucketControl, bucketCVEs, bucketNotifications,
}

// BoltStore is the BoltDB-backed implementation of Store. One bucket holds
// each collection named in the store contract; keys are the entity's
// natural id and values are JSON-encoded records. Queries that the source
// system answers with an indexed server-side cursor (claim order, due
// rescans, ticket scope) are answered here by a full bucket scan followed
// by an in-memory filter/sort, which the aggregation design note permits
// as long as the result matches.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a BoltDB file at path and
// ensures every collection bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func hostKey(id uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, id)
	return b
}

func (s *BoltStore) CreateHost(h *types.Host) error { return s.UpdateHost(h) }

func (s *BoltStore) UpdateHost(h *types.Host) error {
	h.LastChange = time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(h)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHosts).Put(hostKey(h.ID), data)
	})
}

func (s *BoltStore) GetHost(id uint32) (*types.Host, error) {
	var h types.Host
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHosts).Get(hostKey(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &h)
	})
	if err != nil || !found {
		return nil, err
	}
	return &h, nil
}

func (s *BoltStore) ListHostsByOwner(owner string) ([]*types.Host, error) {
	return s.scanHosts(func(h *types.Host) bool { return h.Owner == owner })
}

func (s *BoltStore) ListHostsByClaim(q ClaimQuery) ([]*types.Host, error) {
	hosts, err := s.scanHosts(func(h *types.Host) bool {
		return h.Owner == q.Owner && h.Stage == q.Stage && h.Status == q.Status
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Priority != hosts[j].Priority {
			return hosts[i].Priority < hosts[j].Priority
		}
		return hosts[i].R < hosts[j].R
	})
	return hosts, nil
}

func (s *BoltStore) ListHostsDueForRescan(before time.Time, up bool) ([]*types.Host, error) {
	return s.scanHosts(func(h *types.Host) bool {
		return h.Status == enums.StatusDone && h.State.Up == up && h.NextScan != nil && !h.NextScan.After(before)
	})
}

func (s *BoltStore) scanHosts(match func(*types.Host) bool) ([]*types.Host, error) {
	var out []*types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHosts).ForEach(func(_, v []byte) error {
			var h types.Host
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			if match(&h) {
				out = append(out, &h)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) GetTally(owner string) (*types.Tally, error) {
	var t types.Tally
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTallies).Get([]byte(owner))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &t)
	})
	if err != nil || !found {
		return nil, err
	}
	return &t, nil
}

func (s *BoltStore) SaveTally(t *types.Tally) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketTallies, t.Owner, t) })
}

func (s *BoltStore) ListTallies() ([]*types.Tally, error) {
	var out []*types.Tally
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTallies).ForEach(func(_, v []byte) error {
			var t types.Tally
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, &t)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) GetRequest(owner string) (*types.Request, error) {
	var r types.Request
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRequests).Get([]byte(owner))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &r)
	})
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) SaveRequest(r *types.Request) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketRequests, r.Owner, r) })
}

func (s *BoltStore) ListRequests() ([]*types.Request, error) {
	var out []*types.Request
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(_, v []byte) error {
			var r types.Request
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteRequest(owner string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).Delete([]byte(owner))
	})
}

func (s *BoltStore) CreateTicket(t *types.Ticket) error { return s.UpdateTicket(t) }

func (s *BoltStore) UpdateTicket(t *types.Ticket) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketTickets, t.ID, t) })
}

func (s *BoltStore) GetTicket(id string) (*types.Ticket, error) {
	var t types.Ticket
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTickets).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &t)
	})
	if err != nil || !found {
		return nil, err
	}
	return &t, nil
}

func (s *BoltStore) scanTickets(match func(*types.Ticket) bool) ([]*types.Ticket, error) {
	var out []*types.Ticket
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTickets).ForEach(func(_, v []byte) error {
			var t types.Ticket
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if match(&t) {
				out = append(out, &t)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) FindOpenTicket(ipInt uint32, port int, protocol, source string, sourceID int) (*types.Ticket, error) {
	matches, err := s.scanTickets(func(t *types.Ticket) bool {
		return t.Open && t.IPInt == ipInt && t.Port == port && t.Protocol == protocol &&
			t.Source == source && t.SourceID == sourceID
	})
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return matches[0], nil
}

func (s *BoltStore) FindRecentlyClosedTicket(ipInt uint32, port int, protocol, source string, sourceID int, closedAfter time.Time) (*types.Ticket, error) {
	matches, err := s.scanTickets(func(t *types.Ticket) bool {
		return !t.Open && t.IPInt == ipInt && t.Port == port && t.Protocol == protocol &&
			t.Source == source && t.SourceID == sourceID &&
			t.TimeClosed != nil && t.TimeClosed.After(closedAfter)
	})
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return matches[0], nil
}

func (s *BoltStore) ListOpenTicketsByScope(ipInts map[uint32]bool, ports map[int]bool, sourceIDs map[int]bool, protocols map[string]bool, source string) ([]*types.Ticket, error) {
	return s.scanTickets(func(t *types.Ticket) bool {
		if !t.Open || t.Source != source {
			return false
		}
		if len(ipInts) > 0 && !ipInts[t.IPInt] {
			return false
		}
		// udp tickets are never port-constrained: the close query's port
		// check only ever applied to tcp findings in the source system.
		if len(ports) > 0 && t.Protocol != "udp" && !ports[t.Port] {
			return false
		}
		if len(sourceIDs) > 0 && !sourceIDs[t.SourceID] {
			return false
		}
		if len(protocols) > 0 && !protocols[t.Protocol] {
			return false
		}
		return true
	})
}

// ListOpenPortTickets answers the IP-port manager's ordinary close scope,
// which (unlike the vuln manager's) is not restricted to one source: any
// open ticket on one of ipInts/ports/protocols regardless of who opened it.
func (s *BoltStore) ListOpenPortTickets(ipInts map[uint32]bool, ports map[int]bool, protocols map[string]bool) ([]*types.Ticket, error) {
	return s.scanTickets(func(t *types.Ticket) bool {
		if !t.Open {
			return false
		}
		if len(ipInts) > 0 && !ipInts[t.IPInt] {
			return false
		}
		if len(ports) > 0 && !ports[t.Port] {
			return false
		}
		if len(protocols) > 0 && !protocols[t.Protocol] {
			return false
		}
		return true
	})
}

// ListOpenTicketsByIP answers the IP manager's and the IP-port manager's
// all-ports-scanned close paths, neither of which filter by source or
// protocol: every open ticket on one of ipInts.
func (s *BoltStore) ListOpenTicketsByIP(ipInts map[uint32]bool) ([]*types.Ticket, error) {
	return s.scanTickets(func(t *types.Ticket) bool {
		return t.Open && ipInts[t.IPInt]
	})
}

// ListOpenTicketsExcludingPortZero answers the IP-port manager's
// all-ports-scanned close path: every open ticket on one of ipInts whose
// port is not 0, restricted to protocols (any protocol if empty).
func (s *BoltStore) ListOpenTicketsExcludingPortZero(ipInts map[uint32]bool, protocols map[string]bool) ([]*types.Ticket, error) {
	return s.scanTickets(func(t *types.Ticket) bool {
		if !t.Open || t.Port == 0 {
			return false
		}
		if len(ipInts) > 0 && !ipInts[t.IPInt] {
			return false
		}
		if len(protocols) > 0 && !protocols[t.Protocol] {
			return false
		}
		return true
	})
}

func (s *BoltStore) ListTicketsByOwner(owner string) ([]*types.Ticket, error) {
	return s.scanTickets(func(t *types.Ticket) bool { return t.Owner == owner })
}

func put(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func (s *BoltStore) CreateHostScan(sc *types.HostScan) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketHostScans, sc.ID, sc) })
}

func (s *BoltStore) CreatePortScan(sc *types.PortScan) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketPortScans, sc.ID, sc) })
}

func (s *BoltStore) CreateVulnScan(sc *types.VulnScan) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketVulnScans, sc.ID, sc) })
}

func (s *BoltStore) ListLatestHostScansByOwner(owner string) ([]*types.HostScan, error) {
	var out []*types.HostScan
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHostScans).ForEach(func(_, v []byte) error {
			var sc types.HostScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if sc.Latest && sc.Owner == owner {
				out = append(out, &sc)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListLatestPortScansByOwner(owner string) ([]*types.PortScan, error) {
	var out []*types.PortScan
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPortScans).ForEach(func(_, v []byte) error {
			var sc types.PortScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if sc.Latest && sc.Owner == owner {
				out = append(out, &sc)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListLatestVulnScansByOwner(owner string) ([]*types.VulnScan, error) {
	var out []*types.VulnScan
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVulnScans).ForEach(func(_, v []byte) error {
			var sc types.VulnScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if sc.Latest && sc.Owner == owner {
				out = append(out, &sc)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ClearLatestHostScansByIP(ipInts map[uint32]bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHostScans)
		return b.ForEach(func(_, v []byte) error {
			var sc types.HostScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if sc.Latest && ipInts[sc.IPInt] {
				sc.Latest = false
				return put(tx, bucketHostScans, sc.ID, &sc)
			}
			return nil
		})
	})
}

func (s *BoltStore) ClearLatestPortScansByIPExceptPorts(ipInt uint32, keepPorts map[int]bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPortScans)
		return b.ForEach(func(_, v []byte) error {
			var sc types.PortScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if sc.Latest && sc.IPInt == ipInt && !keepPorts[sc.Port] {
				sc.Latest = false
				return put(tx, bucketPortScans, sc.ID, &sc)
			}
			return nil
		})
	})
}

func (s *BoltStore) ClearLatestVulnScansByIPExceptPorts(ipInt uint32, keepPorts map[int]bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVulnScans)
		return b.ForEach(func(_, v []byte) error {
			var sc types.VulnScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if sc.Latest && sc.IPInt == ipInt && !keepPorts[sc.Port] {
				sc.Latest = false
				return put(tx, bucketVulnScans, sc.ID, &sc)
			}
			return nil
		})
	})
}

// ClearLatestVulnScansByIP clears the latest flag on every vuln scan
// document belonging to one of ipInts, regardless of port; grounds the IP
// ticket manager's clear_vuln_latest_flags for hosts that went down.
func (s *BoltStore) ClearLatestVulnScansByIP(ipInts map[uint32]bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVulnScans)
		return b.ForEach(func(_, v []byte) error {
			var sc types.VulnScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if sc.Latest && ipInts[sc.IPInt] {
				sc.Latest = false
				return put(tx, bucketVulnScans, sc.ID, &sc)
			}
			return nil
		})
	})
}

// ClearLatestVulnScansByScope clears the latest flag on every vuln scan
// document matching the given (ip, port, source_id) scope; grounds the
// vuln ticket manager's own clear_vuln_latest_flags.
func (s *BoltStore) ClearLatestVulnScansByScope(ipInts map[uint32]bool, ports map[int]bool, sourceIDs map[int]bool, source string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVulnScans)
		return b.ForEach(func(_, v []byte) error {
			var sc types.VulnScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if !sc.Latest || sc.Source != source {
				return nil
			}
			if len(ipInts) > 0 && !ipInts[sc.IPInt] {
				return nil
			}
			if len(ports) > 0 && !ports[sc.Port] {
				return nil
			}
			if len(sourceIDs) > 0 && !sourceIDs[sc.PluginID] {
				return nil
			}
			sc.Latest = false
			return put(tx, bucketVulnScans, sc.ID, &sc)
		})
	})
}

func (s *BoltStore) SaveSnapshot(snap *types.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketSnapshots, snap.ID, snap) })
}

func (s *BoltStore) GetLatestSnapshot(owner string) (*types.Snapshot, error) {
	var latest *types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(_, v []byte) error {
			var snap types.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			if snap.Owner == owner && snap.Latest {
				latest = &snap
			}
			return nil
		})
	})
	return latest, err
}

func (s *BoltStore) ListLatestSnapshots() ([]*types.Snapshot, error) {
	var out []*types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(_, v []byte) error {
			var snap types.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			if snap.Latest {
				out = append(out, &snap)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) FindSnapshotByWindow(owner string, start, end time.Time) (*types.Snapshot, error) {
	var found *types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(_, v []byte) error {
			var snap types.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			if snap.Owner == owner && snap.StartTime.Equal(start) && snap.EndTime.Equal(end) {
				found = &snap
			}
			return nil
		})
	})
	return found, err
}

func (s *BoltStore) ResetLatestSnapshotFlag(owner string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		return b.ForEach(func(_, v []byte) error {
			var snap types.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			if snap.Latest && snap.Owner == owner {
				snap.Latest = false
				return put(tx, bucketSnapshots, snap.ID, &snap)
			}
			return nil
		})
	})
}

// TagLatestScansForOwners tags the latest host, open port, and vuln scan
// documents belonging to owners with oid, mirroring tag_latest's per-family
// rules: every latest host scan, only open latest port scans, and every
// latest vuln scan.
func (s *BoltStore) TagLatestScansForOwners(owners map[string]bool, oid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		hb := tx.Bucket(bucketHostScans)
		if err := hb.ForEach(func(_, v []byte) error {
			var sc types.HostScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if sc.Latest && owners[sc.Owner] {
				sc.Snapshots = append(sc.Snapshots, oid)
				return put(tx, bucketHostScans, sc.ID, &sc)
			}
			return nil
		}); err != nil {
			return err
		}

		pb := tx.Bucket(bucketPortScans)
		if err := pb.ForEach(func(_, v []byte) error {
			var sc types.PortScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if sc.Latest && owners[sc.Owner] && sc.State == "open" {
				sc.Snapshots = append(sc.Snapshots, oid)
				return put(tx, bucketPortScans, sc.ID, &sc)
			}
			return nil
		}); err != nil {
			return err
		}

		vb := tx.Bucket(bucketVulnScans)
		return vb.ForEach(func(_, v []byte) error {
			var sc types.VulnScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if sc.Latest && owners[sc.Owner] {
				sc.Snapshots = append(sc.Snapshots, oid)
				return put(tx, bucketVulnScans, sc.ID, &sc)
			}
			return nil
		})
	})
}

// TagOpenTicketsForOwners tags every open ticket belonging to owners with
// oid, mirroring tag_open.
func (s *BoltStore) TagOpenTicketsForOwners(owners map[string]bool, oid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTickets)
		return b.ForEach(func(_, v []byte) error {
			var t types.Ticket
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Open && owners[t.Owner] {
				t.Snapshots = append(t.Snapshots, oid)
				return put(tx, bucketTickets, t.ID, &t)
			}
			return nil
		})
	})
}

func (s *BoltStore) ListHostScansBySnapshot(oid string) ([]*types.HostScan, error) {
	var out []*types.HostScan
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHostScans).ForEach(func(_, v []byte) error {
			var sc types.HostScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if containsString(sc.Snapshots, oid) {
				out = append(out, &sc)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListPortScansBySnapshot(oid string) ([]*types.PortScan, error) {
	var out []*types.PortScan
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPortScans).ForEach(func(_, v []byte) error {
			var sc types.PortScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if containsString(sc.Snapshots, oid) {
				out = append(out, &sc)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListVulnScansBySnapshot(oid string) ([]*types.VulnScan, error) {
	var out []*types.VulnScan
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVulnScans).ForEach(func(_, v []byte) error {
			var sc types.VulnScan
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			if containsString(sc.Snapshots, oid) {
				out = append(out, &sc)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListTicketsBySnapshot(oid string) ([]*types.Ticket, error) {
	var out []*types.Ticket
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTickets).ForEach(func(_, v []byte) error {
			var t types.Ticket
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if containsString(t.Snapshots, oid) {
				out = append(out, &t)
			}
			return nil
		})
	})
	return out, err
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func (s *BoltStore) SaveControl(c *types.SystemControl) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketControl, c.ID, c) })
}

func (s *BoltStore) GetControl(id string) (*types.SystemControl, error) {
	var c types.SystemControl
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketControl).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &c)
	})
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) ListOpenControl(target enums.ControlTarget) ([]*types.SystemControl, error) {
	var out []*types.SystemControl
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketControl).ForEach(func(_, v []byte) error {
			var c types.SystemControl
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if !c.Completed && c.Target == target {
				out = append(out, &c)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) GetCVE(id string) (*types.CVE, error) {
	var c types.CVE
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCVEs).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &c)
	})
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) CreateNotification(n *types.Notification) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketNotifications, n.ID, n) })
}

// RenameOwner renames an owner across every collection: the request and
// tally documents move to the new key, every host/scan/ticket/snapshot
// document's owner field is rewritten in place, a CHANGED event records
// the rename on every affected ticket, and any parent request's children
// list is updated to reference the new owner.
func (s *BoltStore) RenameOwner(oldOwner, newOwner string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		requests := tx.Bucket(bucketRequests)
		if requests.Get([]byte(newOwner)) != nil {
			return fmt.Errorf("owner %q already exists", newOwner)
		}
		oldReqData := requests.Get([]byte(oldOwner))
		if oldReqData == nil {
			return fmt.Errorf("owner %q not found", oldOwner)
		}

		var req types.Request
		if err := json.Unmarshal(oldReqData, &req); err != nil {
			return err
		}
		req.Owner = newOwner
		req.Acronym = newOwner
		if err := put(tx, bucketRequests, newOwner, &req); err != nil {
			return err
		}
		if err := requests.Delete([]byte(oldOwner)); err != nil {
			return err
		}

		if err := requests.ForEach(func(k, v []byte) error {
			var parent types.Request
			if err := json.Unmarshal(v, &parent); err != nil {
				return err
			}
			changed := false
			for i, child := range parent.Children {
				if child == oldOwner {
					parent.Children[i] = newOwner
					changed = true
				}
			}
			if !changed {
				return nil
			}
			return put(tx, bucketRequests, parent.Owner, &parent)
		}); err != nil {
			return err
		}

		if tallyData := tx.Bucket(bucketTallies).Get([]byte(oldOwner)); tallyData != nil {
			var t types.Tally
			if err := json.Unmarshal(tallyData, &t); err != nil {
				return err
			}
			t.Owner = newOwner
			if err := put(tx, bucketTallies, newOwner, &t); err != nil {
				return err
			}
			if err := tx.Bucket(bucketTallies).Delete([]byte(oldOwner)); err != nil {
				return err
			}
		}

		if err := tx.Bucket(bucketHosts).ForEach(func(k, v []byte) error {
			var h types.Host
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			if h.Owner != oldOwner {
				return nil
			}
			h.Owner = newOwner
			data, err := json.Marshal(&h)
			if err != nil {
				return err
			}
			return tx.Bucket(bucketHosts).Put(k, data)
		}); err != nil {
			return err
		}

		if err := renameHostScanOwners(tx, oldOwner, newOwner); err != nil {
			return err
		}
		if err := renamePortScanOwners(tx, oldOwner, newOwner); err != nil {
			return err
		}
		if err := renameVulnScanOwners(tx, oldOwner, newOwner); err != nil {
			return err
		}

		if err := tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			var snap types.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			if snap.Owner != oldOwner {
				return nil
			}
			snap.Owner = newOwner
			data, err := json.Marshal(&snap)
			if err != nil {
				return err
			}
			return tx.Bucket(bucketSnapshots).Put(k, data)
		}); err != nil {
			return err
		}

		now := time.Now().UTC()
		return tx.Bucket(bucketTickets).ForEach(func(k, v []byte) error {
			var t types.Ticket
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Owner != oldOwner {
				return nil
			}
			t.Owner = newOwner
			t.LastChange = now
			t.Events = append(t.Events, types.TicketEventEntry{
				Time:   now,
				Action: enums.TicketEventChanged,
				Reason: fmt.Sprintf("owner renamed from %s to %s", oldOwner, newOwner),
				Delta:  []types.TicketDelta{{Key: "owner", From: oldOwner, To: newOwner}},
			})
			data, err := json.Marshal(&t)
			if err != nil {
				return err
			}
			return tx.Bucket(bucketTickets).Put(k, data)
		})
	})
}

func renameHostScanOwners(tx *bolt.Tx, oldOwner, newOwner string) error {
	return tx.Bucket(bucketHostScans).ForEach(func(k, v []byte) error {
		var sc types.HostScan
		if err := json.Unmarshal(v, &sc); err != nil {
			return err
		}
		if sc.Owner != oldOwner {
			return nil
		}
		sc.Owner = newOwner
		data, err := json.Marshal(&sc)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHostScans).Put(k, data)
	})
}

func renamePortScanOwners(tx *bolt.Tx, oldOwner, newOwner string) error {
	return tx.Bucket(bucketPortScans).ForEach(func(k, v []byte) error {
		var sc types.PortScan
		if err := json.Unmarshal(v, &sc); err != nil {
			return err
		}
		if sc.Owner != oldOwner {
			return nil
		}
		sc.Owner = newOwner
		data, err := json.Marshal(&sc)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPortScans).Put(k, data)
	})
}

func renameVulnScanOwners(tx *bolt.Tx, oldOwner, newOwner string) error {
	return tx.Bucket(bucketVulnScans).ForEach(func(k, v []byte) error {
		var sc types.VulnScan
		if err := json.Unmarshal(v, &sc); err != nil {
			return err
		}
		if sc.Owner != oldOwner {
			return nil
		}
		sc.Owner = newOwner
		data, err := json.Marshal(&sc)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketVulnScans).Put(k, data)
	})
}
