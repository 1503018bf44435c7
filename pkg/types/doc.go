/*
Package types defines the typed records the orchestrator persists and
exchanges: hosts, tallies, requests, tickets, the scan-doc family, snapshots,
and system control documents.

Each type here corresponds to one collection in the store contract. Optional
fields are explicit (pointers, or a documented zero-value sentinel) instead
of relying on a field's presence or absence, since the store adapter no
longer has a schema-permissive document layer underneath it.
*/
package types
