// Package enums holds the fixed, bit-exact string vocabularies shared across
// the orchestrator: scan status and stage, ticket event kinds, agency types,
// and control-channel actions/targets.
package enums

// Status is the micro-state of a host within its current scan stage.
type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusReady   Status = "READY"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
)

// Statuses lists every valid Status value, in tally-matrix column order.
var Statuses = []Status{StatusWaiting, StatusReady, StatusRunning, StatusDone}

// Stage is the macro scanning step a host is currently in.
type Stage string

const (
	StageNetscan1 Stage = "NETSCAN1"
	StageNetscan2 Stage = "NETSCAN2"
	StagePortscan Stage = "PORTSCAN"
	StageVulnscan Stage = "VULNSCAN"
	StageBasescan Stage = "BASESCAN"
)

// Stages lists every valid Stage value, in tally-matrix row order.
var Stages = []Stage{StageNetscan1, StageNetscan2, StagePortscan, StageVulnscan, StageBasescan}

// TicketEvent names an entry in a ticket's append-only event log.
type TicketEvent string

const (
	TicketEventOpened    TicketEvent = "OPENED"
	TicketEventReopened  TicketEvent = "REOPENED"
	TicketEventVerified  TicketEvent = "VERIFIED"
	TicketEventUnverified TicketEvent = "UNVERIFIED"
	TicketEventClosed    TicketEvent = "CLOSED"
	TicketEventChanged   TicketEvent = "CHANGED"
)

// ValidTicketEvent reports whether action is a recognized TicketEvent.
func ValidTicketEvent(action TicketEvent) bool {
	switch action {
	case TicketEventOpened, TicketEventReopened, TicketEventVerified,
		TicketEventUnverified, TicketEventClosed, TicketEventChanged:
		return true
	}
	return false
}

// AgencyType classifies a Request's owning organization.
type AgencyType string

const (
	AgencyFederal      AgencyType = "FEDERAL"
	AgencyState        AgencyType = "STATE"
	AgencyLocal        AgencyType = "LOCAL"
	AgencyPrivate      AgencyType = "PRIVATE"
	AgencyTribal       AgencyType = "TRIBAL"
	AgencyTerritorial  AgencyType = "TERRITORIAL"
	AgencyInternational AgencyType = "INTERNATIONAL"
)

// AgencyTypes lists every valid AgencyType value.
var AgencyTypes = []AgencyType{
	AgencyFederal, AgencyState, AgencyLocal, AgencyPrivate,
	AgencyTribal, AgencyTerritorial, AgencyInternational,
}

// ControlAction names an operator-issued orchestrator control request.
type ControlAction string

const (
	ControlActionPause ControlAction = "PAUSE"
	ControlActionStop  ControlAction = "STOP"
)

// ControlTarget names the recipient of a control action. Only one target
// exists today, but the type keeps the door open for addressed control of
// individual subsystems.
type ControlTarget string

// ControlTargetCommander is the sole recognized control-channel target: the
// orchestrator's main scheduling loop.
const ControlTargetCommander ControlTarget = "COMMANDER"

// UnknownOwner is the sentinel owner assigned to findings that cannot be
// attributed to any Request.
const UnknownOwner = "UNKNOWN"
