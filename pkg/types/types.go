// Package types holds the typed records the orchestrator persists. Each
// type here corresponds to a dynamic document in the source system; optional
// fields are made explicit (pointers or zero-value sentinels) rather than
// relying on presence/absence.
package types

import (
	"net"
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
)

// HostState records why a host is currently believed up or down.
type HostState struct {
	Up     bool
	Reason string
}

// Host is a single scan target, keyed by the integer form of its IP address.
type Host struct {
	ID         uint32 // integer form of IP; also the storage key
	IP         net.IP
	Owner      string
	Stage      enums.Stage
	Status     enums.Status
	State      HostState
	Priority   int     // [-16, 1], lower is more urgent
	R          float64 // random tiebreaker in [0, 1)
	Latitude   float64
	Longitude  float64
	NextScan   *time.Time // nil until a scheduler sets it
	LastChange time.Time
	// LatestScan records the last time each stage finished for this host.
	LatestScan map[enums.Stage]time.Time
}

// NewHost returns a Host in its initial scan state for the given IP and
// owner, matching the defaults of the source document model.
func NewHost(ip net.IP, owner string, initStage enums.Stage, r float64) *Host {
	return &Host{
		ID:         ipToUint32(ip),
		IP:         ip,
		Owner:      owner,
		Stage:      initStage,
		Status:     enums.StatusWaiting,
		State:      HostState{Up: false, Reason: "new"},
		Priority:   0,
		R:          r,
		LastChange: time.Now().UTC(),
		LatestScan: map[enums.Stage]time.Time{},
	}
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}

// Tally holds per-(stage,status) host counts for a single owner. The
// invariant Σ counts[*][*] == count(hosts where owner==Owner) is maintained
// by always pairing a Host save with the corresponding Transfer.
type Tally struct {
	Owner      string
	Counts     map[enums.Stage]map[enums.Status]int
	LastChange time.Time
}

// NewTally returns a zeroed Tally for owner.
func NewTally(owner string) *Tally {
	counts := make(map[enums.Stage]map[enums.Status]int, len(enums.Stages))
	for _, s := range enums.Stages {
		counts[s] = make(map[enums.Status]int, len(enums.Statuses))
	}
	return &Tally{Owner: owner, Counts: counts, LastChange: time.Now().UTC()}
}

// Contact is a point of contact for an agency.
type Contact struct {
	Name  string
	Email string
	Phone string
	Type  string
}

// ScanWindow is one weekly scan window belonging to a Request.
type ScanWindow struct {
	Day      string // e.g. "Sunday"
	Start    string // "HH:MM:SS"
	Duration int    // hours
}

// Request is the per-owner scanning agreement: scope, schedule, and
// organizational hierarchy.
type Request struct {
	Owner        string // _id
	AgencyName   string
	Acronym      string
	AgencyType   enums.AgencyType
	Contacts     []Contact
	PeriodStart  time.Time
	Windows      []ScanWindow
	Networks     []net.IPNet
	InitStage    enums.Stage
	ScanLimits   map[enums.Stage]int // overrides platform defaults when set
	Scheduler    string              // non-empty enables rescan scheduling
	Stakeholder  bool
	Children     []string
	Retired      bool
}

// Descendants returns the transitive closure of owner's children across
// requests, in breadth-first discovery order with no duplicates. requests
// is keyed by owner.
func Descendants(requests map[string]*Request, owner string) []string {
	var out []string
	seen := map[string]bool{owner: true}
	queue := []string{owner}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		req, ok := requests[cur]
		if !ok {
			continue
		}
		for _, child := range req.Children {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// TicketDelta records a single changed field within a CHANGED ticket event.
type TicketDelta struct {
	Key  string
	From interface{}
	To   interface{}
}

// TicketEventEntry is one append-only entry in a ticket's history.
type TicketEventEntry struct {
	Time      time.Time
	Action    enums.TicketEvent
	Reason    string
	Reference string // id of the referenced scan document, if any
	Delta     []TicketDelta
	Expires   *time.Time
}

// TicketDetails is the synthesized finding payload attached to a ticket.
type TicketDetails struct {
	CVE          string
	ScoreSource  string
	CVSSBaseScore float64
	Severity     int
	Name         string
	Service      string
}

// Ticket is a durable record of one (ip, port, protocol, source, source_id)
// finding, logically keyed by those five fields plus Open.
type Ticket struct {
	ID            string
	IPInt         uint32
	IP            net.IP
	Port          int
	Protocol      string
	Source        string
	SourceID      int
	Owner         string
	Latitude      float64
	Longitude     float64
	Open          bool
	FalsePositive bool
	TimeOpened    time.Time
	TimeClosed    *time.Time
	LastChange    time.Time
	Details       TicketDetails
	Events        []TicketEventEntry
	Snapshots     []string
}

// Key returns the logical identity tuple used for idempotent matching.
func (t *Ticket) Key() (uint32, int, string, string, int, bool) {
	return t.IPInt, t.Port, t.Protocol, t.Source, t.SourceID, t.Open
}

// ScanDoc carries the fields common to every scan-result family.
type ScanDoc struct {
	ID        string
	Source    string
	Owner     string
	IPInt     uint32
	IP        net.IP
	Time      time.Time
	Latest    bool
	Snapshots []string
}

// HostScan is an nmap host-discovery observation.
type HostScan struct {
	ScanDoc
	Name     string
	Accuracy int
}

// PortScan is a single port's observed state from a port scan.
type PortScan struct {
	ScanDoc
	Protocol string
	Port     int
	Service  string
	State    string // "open", "closed", "silent", ...
	Reason   string
}

// VulnScan is a single vulnerability finding from a vuln scan.
type VulnScan struct {
	ScanDoc
	Port     int
	Protocol string
	PluginID int
	Name     string
	Severity int
	CVE      string
	CVSSBaseScore float64
}

// SeverityBucket holds a median/max statistic for one severity tier.
type SeverityBucket struct {
	Median float64
	Max    float64
}

// AggregateStats is the set of computed metrics shared by both an owner's
// own snapshot and the cross-owner world snapshot.
type AggregateStats struct {
	PortCount               int
	UniquePortCount         int
	UniqueOperatingSystems  int
	HostCount               int
	VulnerableHostCount     int
	Vulnerabilities         map[string]int // "critical","high","medium","low","total"
	UniqueVulnerabilities   map[string]int
	CVSSAverageAll          float64
	CVSSAverageVulnerable   float64
}

// Snapshot is an immutable point-in-time aggregation for an owner and its
// included descendants, unique by (Owner, StartTime, EndTime).
type Snapshot struct {
	ID                    string
	Owner                 string
	DescendantsIncluded   bool
	Latest                bool
	StartTime             time.Time
	EndTime               time.Time
	Parents               []string
	Networks              []net.IPNet
	Stats                 AggregateStats
	World                 AggregateStats
	Services              map[string]int
	AddressesScanned      int
	SilentPortCount       int
	FalsePositives        map[string]int
	TixMsecOpen           map[string]SeverityBucket
	TixOpenAsOfDate       time.Time
	TixMsecToClose        map[string]SeverityBucket
	TixClosedAfterDate    time.Time
	ExcludeFromWorldStats bool
}

// SystemControl is an operator-issued pause/stop request, acknowledged by
// the orchestrator flipping Completed to true.
type SystemControl struct {
	ID        string
	Action    enums.ControlAction
	Sender    string
	Target    enums.ControlTarget
	Reason    string
	Time      time.Time
	Completed bool
}

// CVE is a reference record used to override synthesized ticket details.
type CVE struct {
	ID            string
	CVSSBaseScore float64
	Severity      int
}

// Notification is a lightweight record created for high-severity vuln
// tickets and every new ip-port ticket, for downstream notifiers to pick up.
type Notification struct {
	ID        string
	TicketID  string
	Owner     string
	Generated time.Time
}
