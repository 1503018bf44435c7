// Package control implements the system control channel (C10): a small
// collection of documents used to ask the orchestrator to pause or stop,
// and to poll for that request's completion.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/events"
	"github.com/cisagov/cyhy-orchestrator/pkg/metrics"
	"github.com/cisagov/cyhy-orchestrator/pkg/storage"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
	"github.com/google/uuid"
)

// PollInterval is how often Wait re-reads a control document's Completed
// flag while waiting for it to be serviced.
const PollInterval = 5 * time.Second

// Broker, when set via SetBroker, receives a control.pause/control.stop
// event whenever ShouldPause/ShouldStop services a request.
var Broker *events.Broker

// SetBroker wires an events.Broker for live control-event fanout.
func SetBroker(b *events.Broker) { Broker = b }

func publish(eventType events.EventType, doc *types.SystemControl) {
	if Broker == nil {
		return
	}
	Broker.Publish(&events.Event{
		Type:     eventType,
		Message:  doc.ID,
		Metadata: map[string]string{"sender": doc.Sender, "reason": doc.Reason},
	})
}

// Request files a control action (pause or stop) against the commander
// target, returning the document that callers can pass to Wait to watch
// for completion. There is no cancel operation: the document stays open
// until ShouldPause (with applyActions) or ShouldStop marks it completed.
func Request(store storage.Store, action enums.ControlAction, sender, reason string) (*types.SystemControl, error) {
	doc := &types.SystemControl{
		ID:     uuid.NewString(),
		Action: action,
		Sender: sender,
		Target: enums.ControlTargetCommander,
		Reason: reason,
		Time:   time.Now().UTC(),
	}
	if err := store.SaveControl(doc); err != nil {
		return nil, fmt.Errorf("saving control request: %w", err)
	}
	return doc, nil
}

// Wait polls store until doc is marked completed or ctx is done, returning
// true if it observed completion.
func Wait(ctx context.Context, store storage.Store, doc *types.SystemControl) (bool, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		current, err := store.GetControl(doc.ID)
		if err != nil {
			return false, err
		}
		if current != nil && current.Completed {
			return true, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false, nil
		}
	}
}

// ShouldPause reports whether the commander has an open PAUSE request
// targeting it. When applyActions is true, every open PAUSE request found
// is marked completed as a side effect, mirroring the source system's
// should_commander_pause.
func ShouldPause(store storage.Store, applyActions bool) (bool, error) {
	docs, err := store.ListOpenControl(enums.ControlTargetCommander)
	if err != nil {
		return false, err
	}

	var paused bool
	for _, d := range docs {
		if d.Action != enums.ControlActionPause {
			continue
		}
		paused = true
		if applyActions {
			d.Completed = true
			if err := store.SaveControl(d); err != nil {
				return false, err
			}
			publish(events.EventControlPause, d)
		}
	}
	if paused {
		metrics.ControlPollsTotal.WithLabelValues(string(enums.ControlActionPause)).Inc()
	}
	return paused, nil
}

// ShouldStop reports whether the commander has an open STOP request
// targeting it, marking every one found completed.
func ShouldStop(store storage.Store) (bool, error) {
	docs, err := store.ListOpenControl(enums.ControlTargetCommander)
	if err != nil {
		return false, err
	}

	var stop bool
	for _, d := range docs {
		if d.Action != enums.ControlActionStop {
			continue
		}
		stop = true
		d.Completed = true
		if err := store.SaveControl(d); err != nil {
			return false, err
		}
		publish(events.EventControlStop, d)
	}
	if stop {
		metrics.ControlPollsTotal.WithLabelValues(string(enums.ControlActionStop)).Inc()
	}
	return stop, nil
}
