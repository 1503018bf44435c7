// Package storage defines the Store contract (C3): an abstract indexed
// collection interface per entity, backed by a BoltDB-based implementation.
package storage

import (
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
)

// ClaimQuery selects hosts for the fleet balancer's ordered promotion and
// demotion scans: all hosts of one owner/stage/status, ordered by
// (priority asc, r asc) as the source's claim index does.
type ClaimQuery struct {
	Owner  string
	Stage  enums.Stage
	Status enums.Status
}

// Store is the storage contract every orchestrator subsystem depends on.
// It never performs aggregation server-side; components that need
// aggregate computation (tally sync, snapshot builder) scan and reduce
// client-side, per the design note permitting pipeline substitution.
type Store interface {
	// Hosts
	CreateHost(h *types.Host) error
	GetHost(id uint32) (*types.Host, error)
	UpdateHost(h *types.Host) error
	ListHostsByOwner(owner string) ([]*types.Host, error)
	ListHostsByClaim(q ClaimQuery) ([]*types.Host, error)
	ListHostsDueForRescan(before time.Time, up bool) ([]*types.Host, error)

	// Tallies
	GetTally(owner string) (*types.Tally, error)
	SaveTally(t *types.Tally) error
	ListTallies() ([]*types.Tally, error)

	// Requests
	GetRequest(owner string) (*types.Request, error)
	SaveRequest(r *types.Request) error
	ListRequests() ([]*types.Request, error)
	DeleteRequest(owner string) error

	// Tickets
	CreateTicket(t *types.Ticket) error
	UpdateTicket(t *types.Ticket) error
	GetTicket(id string) (*types.Ticket, error)
	FindOpenTicket(ipInt uint32, port int, protocol, source string, sourceID int) (*types.Ticket, error)
	FindRecentlyClosedTicket(ipInt uint32, port int, protocol, source string, sourceID int, closedAfter time.Time) (*types.Ticket, error)
	ListOpenTicketsByScope(ipInts map[uint32]bool, ports map[int]bool, sourceIDs map[int]bool, protocols map[string]bool, source string) ([]*types.Ticket, error)
	ListOpenTicketsByIP(ipInts map[uint32]bool) ([]*types.Ticket, error)
	ListOpenTicketsExcludingPortZero(ipInts map[uint32]bool, protocols map[string]bool) ([]*types.Ticket, error)
	ListOpenPortTickets(ipInts map[uint32]bool, ports map[int]bool, protocols map[string]bool) ([]*types.Ticket, error)
	ListTicketsByOwner(owner string) ([]*types.Ticket, error)

	// Scan documents
	CreateHostScan(s *types.HostScan) error
	CreatePortScan(s *types.PortScan) error
	CreateVulnScan(s *types.VulnScan) error
	ListLatestHostScansByOwner(owner string) ([]*types.HostScan, error)
	ListLatestPortScansByOwner(owner string) ([]*types.PortScan, error)
	ListLatestVulnScansByOwner(owner string) ([]*types.VulnScan, error)
	ClearLatestHostScansByIP(ipInts map[uint32]bool) error
	ClearLatestPortScansByIPExceptPorts(ipInt uint32, keepPorts map[int]bool) error
	ClearLatestVulnScansByIPExceptPorts(ipInt uint32, keepPorts map[int]bool) error
	ClearLatestVulnScansByIP(ipInts map[uint32]bool) error
	ClearLatestVulnScansByScope(ipInts map[uint32]bool, ports map[int]bool, sourceIDs map[int]bool, source string) error

	// Snapshots
	SaveSnapshot(s *types.Snapshot) error
	GetLatestSnapshot(owner string) (*types.Snapshot, error)
	ListLatestSnapshots() ([]*types.Snapshot, error)
	FindSnapshotByWindow(owner string, start, end time.Time) (*types.Snapshot, error)
	ResetLatestSnapshotFlag(owner string) error

	// Snapshot tagging: the snapshot builder tags the documents an
	// in-progress snapshot covers with its oid, then aggregates by reading
	// back only the tagged documents, the same two-phase shape the source
	// system's tag_latest/create_snapshot split uses.
	TagLatestScansForOwners(owners map[string]bool, oid string) error
	TagOpenTicketsForOwners(owners map[string]bool, oid string) error
	ListHostScansBySnapshot(oid string) ([]*types.HostScan, error)
	ListPortScansBySnapshot(oid string) ([]*types.PortScan, error)
	ListVulnScansBySnapshot(oid string) ([]*types.VulnScan, error)
	ListTicketsBySnapshot(oid string) ([]*types.Ticket, error)

	// Control channel
	SaveControl(c *types.SystemControl) error
	GetControl(id string) (*types.SystemControl, error)
	ListOpenControl(target enums.ControlTarget) ([]*types.SystemControl, error)

	// CVE overrides
	GetCVE(id string) (*types.CVE, error)

	// Notifications
	CreateNotification(n *types.Notification) error

	// RenameOwner renames an owner across every collection: the request
	// and tally documents, every host/scan/snapshot/ticket document's
	// owner field, and any parent request's children list. It refuses if
	// newOwner already has a request document.
	RenameOwner(oldOwner, newOwner string) error

	Close() error
}
