package hoststate

import (
	"testing"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestDoneIsAbsorbing(t *testing.T) {
	for _, stage := range enums.Stages {
		r := Next(stage, enums.StatusDone, Signals{WasFailure: true, Up: boolPtr(true), HasOpenPorts: boolPtr(true)})
		assert.False(t, r.Changed)
		assert.Equal(t, enums.StatusDone, r.Status)
	}
}

func TestFailureReturnsToWaiting(t *testing.T) {
	r := Next(enums.StagePortscan, enums.StatusRunning, Signals{WasFailure: true})
	assert.Equal(t, enums.StatusWaiting, r.Status)
	assert.True(t, r.Changed)
}

func TestWaitingAndReadyPromoteToRunning(t *testing.T) {
	for _, s := range []enums.Status{enums.StatusWaiting, enums.StatusReady} {
		r := Next(enums.StageNetscan1, s, Signals{})
		assert.Equal(t, enums.StatusRunning, r.Status)
		assert.True(t, r.Changed)
	}
}

func TestRunningTransitions(t *testing.T) {
	up := boolPtr(true)
	down := boolPtr(false)
	hasPorts := boolPtr(true)
	noPorts := boolPtr(false)

	r := Next(enums.StageNetscan1, enums.StatusRunning, Signals{Up: up})
	assert.Equal(t, enums.StagePortscan, r.Stage)
	assert.Equal(t, enums.StatusWaiting, r.Status)
	assert.True(t, r.FinishedStage)

	r = Next(enums.StageNetscan1, enums.StatusRunning, Signals{Up: down})
	assert.Equal(t, enums.StageNetscan2, r.Stage)
	assert.Equal(t, enums.StatusWaiting, r.Status)

	r = Next(enums.StageNetscan2, enums.StatusRunning, Signals{Up: up})
	assert.Equal(t, enums.StagePortscan, r.Stage)

	r = Next(enums.StageNetscan2, enums.StatusRunning, Signals{Up: down})
	assert.Equal(t, enums.StageNetscan2, r.Stage)
	assert.Equal(t, enums.StatusDone, r.Status)

	r = Next(enums.StagePortscan, enums.StatusRunning, Signals{HasOpenPorts: hasPorts})
	assert.Equal(t, enums.StageVulnscan, r.Stage)
	assert.Equal(t, enums.StatusWaiting, r.Status)

	r = Next(enums.StagePortscan, enums.StatusRunning, Signals{HasOpenPorts: noPorts})
	assert.Equal(t, enums.StagePortscan, r.Stage)
	assert.Equal(t, enums.StatusDone, r.Status)

	for _, stage := range []enums.Stage{enums.StageVulnscan, enums.StageBasescan} {
		r = Next(stage, enums.StatusRunning, Signals{})
		assert.Equal(t, stage, r.Stage)
		assert.Equal(t, enums.StatusDone, r.Status)
	}
}

func TestNextStateReasons(t *testing.T) {
	up, reason := NextState(false, true, boolPtr(true), "")
	assert.True(t, up)
	assert.Equal(t, "open-port", reason)

	up, reason = NextState(true, true, boolPtr(false), "")
	assert.False(t, up)
	assert.Equal(t, "no-open", reason)

	up, reason = NextState(false, false, nil, "host down")
	assert.False(t, up)
	assert.Equal(t, "host down", reason)
}

// nmap reporting up with has_open_ports still unknown (PORTSCAN pending)
// must leave the current belief untouched, not flip it to up.
func TestNextStateNmapUpPortscanPendingLeavesStateUnchanged(t *testing.T) {
	up, reason := NextState(false, true, nil, "new")
	assert.False(t, up)
	assert.Equal(t, "new", reason)

	up, reason = NextState(true, true, nil, "open-port")
	assert.True(t, up)
	assert.Equal(t, "open-port", reason)
}
