package fleet

import (
	"testing"
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestReconcilePromotesUpToTarget(t *testing.T) {
	waiting := []*types.Host{{Priority: -4, R: 0.2}, {Priority: -2, R: 0.1}, {Priority: 0, R: 0.9}}
	plan := Reconcile("acme", enums.StagePortscan, 2, waiting, nil, 0)
	require.Len(t, plan.Promote, 2)
	require.Empty(t, plan.Demote)
}

func TestReconcileDemotesExcess(t *testing.T) {
	ready := []*types.Host{{Priority: -4}, {Priority: -2}, {Priority: 0}}
	plan := Reconcile("acme", enums.StagePortscan, 1, nil, ready, 0)
	require.Len(t, plan.Demote, 2)
	require.Empty(t, plan.Promote)
}

func TestReconcileRunningCountsAgainstLimit(t *testing.T) {
	waiting := []*types.Host{{Priority: 0}}
	plan := Reconcile("acme", enums.StagePortscan, 5, waiting, nil, 5)
	require.Empty(t, plan.Promote)
	require.Empty(t, plan.Demote)
}

func TestLimitsZeroOutsideWindow(t *testing.T) {
	req := &types.Request{
		Owner:       "acme",
		PeriodStart: time.Now().Add(24 * time.Hour),
		ScanLimits:  map[enums.Stage]int{},
	}
	limits := Limits(req, time.Now())
	for _, stage := range enums.Stages {
		require.Equal(t, 0, limits[stage])
	}
}

// allWeekWindow returns a window set covering every day of the week so
// tests don't depend on which weekday they happen to run on.
func allWeekWindow() []types.ScanWindow {
	days := []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	out := make([]types.ScanWindow, 0, len(days))
	for _, d := range days {
		out = append(out, types.ScanWindow{Day: d, Start: "00:00:00", Duration: 24})
	}
	return out
}

func TestLimitsUsesPlatformDefaultWhenUnset(t *testing.T) {
	req := &types.Request{Owner: "acme", ScanLimits: map[enums.Stage]int{}, Windows: allWeekWindow()}
	limits := Limits(req, time.Now())
	require.Equal(t, PlatformDefaults[enums.StagePortscan], limits[enums.StagePortscan])
}

func TestLimitsHonorsOverride(t *testing.T) {
	req := &types.Request{Owner: "acme", ScanLimits: map[enums.Stage]int{enums.StagePortscan: 7}, Windows: allWeekWindow()}
	limits := Limits(req, time.Now())
	require.Equal(t, 7, limits[enums.StagePortscan])
}
