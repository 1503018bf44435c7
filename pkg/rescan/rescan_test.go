package rescan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDownHostRestingPriorityUnchanged(t *testing.T) {
	now := time.Now().UTC()
	p, _ := Schedule(now, RestingDownPriority, false, 0)
	assert.Equal(t, RestingDownPriority, p)
}

func TestVulnHostSnapsToSeverity(t *testing.T) {
	now := time.Now().UTC()
	p, next := Schedule(now, RestingUpPriority, true, 4)
	assert.Equal(t, -16, p)
	assert.WithinDuration(t, now.Add(12*time.Hour), next, time.Second)
}

func TestRelaxationFromHighUrgency(t *testing.T) {
	now := time.Now().UTC()
	p, next := Schedule(now, -16, true, 0)
	assert.Equal(t, -15, p)
	expectedHours := HoursForPriority(-15)
	assert.WithinDuration(t, now.Add(time.Duration(expectedHours*float64(time.Hour))), next, time.Second)
}

func TestHoursForPriorityInterpolates(t *testing.T) {
	assert.Equal(t, 2160.0, HoursForPriority(1))
	assert.Equal(t, 12.0, HoursForPriority(-16))
	assert.Equal(t, 12.0, HoursForPriority(-20)) // clamps
	// Midpoint between -1 (168h) and -4 (96h) should interpolate.
	mid := HoursForPriority(-2)
	assert.True(t, mid < 168 && mid > 96)
}
