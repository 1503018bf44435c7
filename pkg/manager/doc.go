/*
Package manager provides Raft-based leader election for a cluster of
orchestrator instances.

The fleet balancer and the rescan sweep must run on exactly one instance
at a time even when
several orchestrator processes are deployed for availability. Manager
bootstraps or joins a Raft cluster purely to elect that instance; it does
not replicate cyhy state through the Raft log. Each instance keeps its
own BoltDB store, and callers gate their periodic loops on IsLeader
before doing any work (see runWhileLeader in cmd/cyhy-orchestrator).

A Manager is safe for concurrent use once Bootstrap or Join returns.
*/
package manager
