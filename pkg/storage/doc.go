/*
Package storage provides BoltDB-backed state persistence for the
orchestrator's hosts, tallies, requests, tickets, scan documents,
snapshots, and control channel.

Every collection named in the store contract maps to one bucket; records
are JSON-encoded. BoltDB gives ACID transactions with zero external
dependencies, which matters here since multiple orchestrator instances may
run for availability (see pkg/manager) while only the elected leader
drives the fleet balancer and rescan sweep against this store.

Queries the source system answers with a server-side index (claim order,
due-for-rescan, ticket scope) are answered here with a full bucket scan
followed by an in-memory filter and sort. The design notes this module is
built against explicitly permit substituting any correct execution for an
aggregation pipeline, and at the host/ticket volumes this system targets a
full scan is simpler than maintaining secondary-index buckets and produces
an identical result.
*/
package storage
