// Package tally implements the per-owner (stage, status) host counters and
// their atomic-with-respect-to-save transfer operation.
package tally

import (
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
)

// Transfer moves delta hosts from (fromStage, fromStatus) to
// (toStage, toStatus) within a single tally, updating LastChange. Negative
// results are not prevented here; callers are expected to pass a delta that
// corresponds to an actual host transition.
func Transfer(t *types.Tally, fromStage enums.Stage, fromStatus enums.Status, toStage enums.Stage, toStatus enums.Status, delta int) {
	ensureCell(t, fromStage, fromStatus)
	ensureCell(t, toStage, toStatus)
	t.Counts[fromStage][fromStatus] -= delta
	t.Counts[toStage][toStatus] += delta
	t.LastChange = time.Now().UTC()
}

func ensureCell(t *types.Tally, stage enums.Stage, status enums.Status) {
	if t.Counts == nil {
		t.Counts = map[enums.Stage]map[enums.Status]int{}
	}
	if t.Counts[stage] == nil {
		t.Counts[stage] = map[enums.Status]int{}
	}
}

// Total sums every cell in the tally, the quantity that must equal the
// owner's host count.
func Total(t *types.Tally) int {
	sum := 0
	for _, byStatus := range t.Counts {
		for _, n := range byStatus {
			sum += n
		}
	}
	return sum
}

// Sync recomputes every cell of t from an authoritative count function and
// overwrites the tally without advancing LastChange, mirroring the
// reconciliation path used when hosts and tallies have drifted.
func Sync(t *types.Tally, count func(stage enums.Stage, status enums.Status) int) {
	lastChange := t.LastChange
	for _, stage := range enums.Stages {
		for _, status := range enums.Statuses {
			ensureCell(t, stage, status)
			t.Counts[stage][status] = count(stage, status)
		}
	}
	t.LastChange = lastChange
}
