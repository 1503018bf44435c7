package manager

import (
	"io"

	"github.com/hashicorp/raft"
)

// electionFSM is a Raft finite state machine that carries no application
// state. Manager uses Raft only to elect a leader among orchestrator
// instances, so there is nothing to apply, snapshot, or restore; the FSM
// exists solely to satisfy raft.NewRaft's constructor.
type electionFSM struct{}

func newElectionFSM() *electionFSM {
	return &electionFSM{}
}

func (f *electionFSM) Apply(log *raft.Log) interface{} {
	return nil
}

func (f *electionFSM) Snapshot() (raft.FSMSnapshot, error) {
	return emptySnapshot{}, nil
}

func (f *electionFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type emptySnapshot struct{}

func (emptySnapshot) Persist(sink raft.SnapshotSink) error {
	return sink.Close()
}

func (emptySnapshot) Release() {}
