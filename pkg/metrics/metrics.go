package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	HostsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cyhy_hosts_total",
			Help: "Total number of hosts by stage and status",
		},
		[]string{"stage", "status"},
	)

	FleetBalanceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cyhy_fleet_balance_duration_seconds",
			Help:    "Time taken to balance the fleet across all owners",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope"},
	)

	FleetPromotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyhy_fleet_promotions_total",
			Help: "Total number of hosts promoted WAITING->READY by owner and stage",
		},
		[]string{"owner", "stage"},
	)

	FleetDemotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyhy_fleet_demotions_total",
			Help: "Total number of hosts demoted READY->WAITING by owner and stage",
		},
		[]string{"owner", "stage"},
	)

	// Tally metrics
	TallyTransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyhy_tally_transfers_total",
			Help: "Total number of tally cell transfers",
		},
		[]string{"owner"},
	)

	// Rescan scheduler metrics
	RescanScheduleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cyhy_rescan_schedule_duration_seconds",
			Help:    "Time taken by one rescan sweep pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	HostsDueForRescanTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cyhy_hosts_due_for_rescan_total",
			Help: "Total number of hosts moved from DONE back into scanning by the rescan sweep",
		},
	)

	// Ticket lifecycle metrics
	TicketsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyhy_tickets_opened_total",
			Help: "Total number of tickets opened, by source",
		},
		[]string{"source"},
	)

	TicketsReopenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyhy_tickets_reopened_total",
			Help: "Total number of tickets reopened, by source",
		},
		[]string{"source"},
	)

	TicketsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyhy_tickets_closed_total",
			Help: "Total number of tickets closed, by source and reason",
		},
		[]string{"source", "reason"},
	)

	TicketLifecycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cyhy_ticket_lifecycle_duration_seconds",
			Help:    "Time taken to process a ticket lifecycle pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"manager"},
	)

	// Snapshot builder metrics
	SnapshotBuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cyhy_snapshot_build_duration_seconds",
			Help:    "Time taken to build a snapshot",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"owner"},
	)

	SnapshotsBuiltTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cyhy_snapshots_built_total",
			Help: "Total number of snapshots built",
		},
	)

	// Control channel metrics
	ControlPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyhy_control_polls_total",
			Help: "Total number of control channel polls that found an open request, by action",
		},
		[]string{"action"},
	)

	// Raft metrics (multi-orchestrator leader election)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cyhy_raft_is_leader",
			Help: "Whether this orchestrator instance is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cyhy_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics (scanner-worker gRPC protocol)
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyhy_api_requests_total",
			Help: "Total number of scanner-worker API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cyhy_api_request_duration_seconds",
			Help:    "Scanner-worker API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		HostsTotal,
		FleetBalanceDuration,
		FleetPromotions,
		FleetDemotions,
		TallyTransfersTotal,
		RescanScheduleDuration,
		HostsDueForRescanTotal,
		TicketsOpenedTotal,
		TicketsReopenedTotal,
		TicketsClosedTotal,
		TicketLifecycleDuration,
		SnapshotBuildDuration,
		SnapshotsBuiltTotal,
		ControlPollsTotal,
		RaftLeader,
		RaftApplyDuration,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
