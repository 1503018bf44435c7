package tally

import (
	"testing"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestTransferConservesTotal(t *testing.T) {
	ta := types.NewTally("acme")
	ta.Counts[enums.StagePortscan][enums.StatusWaiting] = 10
	before := Total(ta)

	Transfer(ta, enums.StagePortscan, enums.StatusWaiting, enums.StagePortscan, enums.StatusReady, 4)

	assert.Equal(t, before, Total(ta))
	assert.Equal(t, 6, ta.Counts[enums.StagePortscan][enums.StatusWaiting])
	assert.Equal(t, 4, ta.Counts[enums.StagePortscan][enums.StatusReady])
}

func TestSyncPreservesLastChange(t *testing.T) {
	ta := types.NewTally("acme")
	stamp := ta.LastChange
	Sync(ta, func(stage enums.Stage, status enums.Status) int {
		if stage == enums.StageNetscan1 && status == enums.StatusWaiting {
			return 3
		}
		return 0
	})
	assert.Equal(t, stamp, ta.LastChange)
	assert.Equal(t, 3, ta.Counts[enums.StageNetscan1][enums.StatusWaiting])
}
