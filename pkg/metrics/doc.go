/*
Package metrics defines and registers the orchestrator's Prometheus
metrics: fleet gauges and counters, rescan scheduler histograms, ticket
lifecycle counters, snapshot build duration, control channel polls, Raft
leadership, and the scanner-worker API surface.

All metrics are package-level variables registered once in init(); the
Timer helper times an operation and observes the elapsed duration to a
histogram or histogram vec. Handler exposes the registry over HTTP for
scraping.
*/
package metrics
