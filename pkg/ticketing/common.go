// Package ticketing implements the ticket lifecycle (C8): three managers —
// vuln, ip-port, and ip — that open, verify, reopen, and close tickets as
// scan passes complete, sharing a common idempotent protocol.
package ticketing

import (
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/events"
	"github.com/cisagov/cyhy-orchestrator/pkg/metrics"
	"github.com/cisagov/cyhy-orchestrator/pkg/storage"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
)

// Broker, when set via SetBroker, receives a ticket.opened, ticket.reopened
// or ticket.closed event for every ticket opened, reopened or closed. This
// is separate from the durable Notification records, which are written only
// for new vuln tickets above severity 2 and for every new ip-port ticket.
var Broker *events.Broker

// SetBroker wires an events.Broker for live ticket-event fanout; downstream
// notifiers can subscribe instead of polling the notification collection.
func SetBroker(b *events.Broker) { Broker = b }

func publish(eventType events.EventType, t *types.Ticket) {
	if Broker == nil {
		return
	}
	Broker.Publish(&events.Event{
		Type:     eventType,
		Message:  t.ID,
		Metadata: map[string]string{"owner": t.Owner, "source": t.Source},
	})
}

// DefaultReopenDays is how far back a closed ticket's time_closed may be
// and still be eligible for reopening instead of recreating.
const DefaultReopenDays = 90

// falsePositiveExpireDays is a 90-day false-positive validity window. It is
// not referenced: checkFalsePositiveExpiration takes the expiration from
// the ticket's most recent false_positive CHANGED event.
const falsePositiveExpireDays = 90

// checkFalsePositiveExpiration flips a false-positive ticket back to
// normal handling once the expiration recorded on its most recent
// false_positive CHANGED event has passed, per §4.4.
func checkFalsePositiveExpiration(t *types.Ticket, at time.Time) {
	if !t.FalsePositive {
		return
	}
	for i := len(t.Events) - 1; i >= 0; i-- {
		e := t.Events[i]
		if e.Action != enums.TicketEventChanged || e.Expires == nil {
			continue
		}
		flipsFalsePositive := false
		for _, d := range e.Delta {
			if d.Key == "false_positive" {
				flipsFalsePositive = true
				break
			}
		}
		if !flipsFalsePositive {
			continue
		}
		if !at.Before(*e.Expires) {
			t.FalsePositive = false
			appendEvent(t, enums.TicketEventChanged, "False positive expired", "", at, []types.TicketDelta{
				{Key: "false_positive", From: true, To: false},
			}, nil)
		}
		return
	}
}

func appendEvent(t *types.Ticket, action enums.TicketEvent, reason, reference string, at time.Time, delta []types.TicketDelta, expires *time.Time) {
	t.Events = append(t.Events, types.TicketEventEntry{
		Time:      at,
		Action:    action,
		Reason:    reason,
		Reference: reference,
		Delta:     delta,
		Expires:   expires,
	})
}

// synthesizeVulnDetails builds the details payload for a vuln observation,
// overriding from a CVE record when one is known, and returns the delta
// against the ticket's previously stored details (nil if this is a new
// ticket or nothing changed).
func synthesizeVulnDetails(store storage.Store, vuln *types.VulnScan, existing *types.TicketDetails) (types.TicketDetails, []types.TicketDelta) {
	details := types.TicketDetails{
		CVE:           vuln.CVE,
		ScoreSource:   vuln.Source,
		CVSSBaseScore: vuln.CVSSBaseScore,
		Severity:      vuln.Severity,
		Name:          vuln.Name,
	}
	if vuln.CVE != "" {
		if cve, err := store.GetCVE(vuln.CVE); err == nil && cve != nil {
			details.ScoreSource = "nvd"
			details.CVSSBaseScore = cve.CVSSBaseScore
			details.Severity = cve.Severity
		}
	}

	if existing == nil {
		return details, nil
	}
	return details, diffDetails(*existing, details)
}

func diffDetails(from, to types.TicketDetails) []types.TicketDelta {
	var delta []types.TicketDelta
	if from.CVE != to.CVE {
		delta = append(delta, types.TicketDelta{Key: "cve", From: from.CVE, To: to.CVE})
	}
	if from.ScoreSource != to.ScoreSource {
		delta = append(delta, types.TicketDelta{Key: "score_source", From: from.ScoreSource, To: to.ScoreSource})
	}
	if from.CVSSBaseScore != to.CVSSBaseScore {
		delta = append(delta, types.TicketDelta{Key: "cvss_base_score", From: from.CVSSBaseScore, To: to.CVSSBaseScore})
	}
	if from.Severity != to.Severity {
		delta = append(delta, types.TicketDelta{Key: "severity", From: from.Severity, To: to.Severity})
	}
	if from.Name != to.Name {
		delta = append(delta, types.TicketDelta{Key: "name", From: from.Name, To: to.Name})
	}
	if from.Service != to.Service {
		delta = append(delta, types.TicketDelta{Key: "service", From: from.Service, To: to.Service})
	}
	return delta
}

// createNotification records a notification for downstream notifiers.
func createNotification(store storage.Store, id func() string, t *types.Ticket) error {
	return store.CreateNotification(&types.Notification{
		ID:        id(),
		TicketID:  t.ID,
		Owner:     t.Owner,
		Generated: time.Now().UTC(),
	})
}

func closeWithFalsePositiveCarveOut(t *types.Ticket, at time.Time, reason string) {
	checkFalsePositiveExpiration(t, at)
	if t.FalsePositive {
		appendEvent(t, enums.TicketEventUnverified, reason, "", at, nil, nil)
		return
	}
	t.Open = false
	t.TimeClosed = &at
	appendEvent(t, enums.TicketEventClosed, reason, "", at, nil, nil)
	publish(events.EventTicketClosed, t)
}

func recordLifecycle(manager string, start time.Time) {
	metrics.TicketLifecycleDuration.WithLabelValues(manager).Observe(time.Since(start).Seconds())
}
