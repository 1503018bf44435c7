package metrics

import (
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/storage"
)

// LeaderChecker reports whether this orchestrator instance currently holds
// Raft leadership. pkg/manager satisfies this.
type LeaderChecker interface {
	IsLeader() bool
}

// Collector periodically samples store-wide gauges that cannot be
// maintained incrementally at the point of mutation, such as the total
// host count per stage/status.
type Collector struct {
	store  storage.Store
	leader LeaderChecker
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(store storage.Store, leader LeaderChecker) *Collector {
	return &Collector{
		store:  store,
		leader: leader,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15-second interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectHostMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectHostMetrics() {
	requests, err := c.store.ListRequests()
	if err != nil {
		return
	}

	counts := make(map[enums.Stage]map[enums.Status]int)
	for _, stage := range enums.Stages {
		counts[stage] = make(map[enums.Status]int)
	}

	for _, req := range requests {
		hosts, err := c.store.ListHostsByOwner(req.Owner)
		if err != nil {
			continue
		}
		for _, h := range hosts {
			counts[h.Stage][h.Status]++
		}
	}

	for stage, statuses := range counts {
		for _, status := range enums.Statuses {
			HostsTotal.WithLabelValues(string(stage), string(status)).Set(float64(statuses[status]))
		}
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.leader == nil {
		return
	}
	if c.leader.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
}
