/*
Package reconciler drives the rescan sweep.

A host that reaches DONE is given a next_scan time by pkg/rescan when its
owner's request has a scheduler set; hosts without one keep a nil
next_scan and are never picked up by the sweep. The sweep runs on a fixed interval, independent of
the fleet balancer, and moves any host whose next_scan has arrived back to
WAITING: down hosts restart at NETSCAN1, up hosts resume at PORTSCAN. From
there the fleet balancer picks the host back up on its own next pass.

Only the elected Raft leader should run the sweep; see pkg/manager.
*/
package reconciler
