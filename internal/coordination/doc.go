// Package coordination decides which peer runs each task and wires a peer
// together.
//
// Peers share no lock and no leader. A [Coordinator] contests a task by
// ticking its Merkle clock and broadcasting a claim stamped with the new
// entry. After the gossip window it applies clock.Winner to every claim it
// has heard: the winner claims the task locally, losers hold it back at a
// lower priority until the winner's claim could have expired. A claim that
// arrives late but ranks higher makes the local winner yield its
// uncommitted attempt, so every peer ends up agreeing on one owner.
// Started, completed, failed and released transitions are gossiped too, and
// the receiving peers mirror them through the task manager's Adopt methods.
//
// A [Hub] runs the coordinator, a worker pool, the messenger delivery loop
// and a sweeper for stale remote claims under one errgroup:
//
//	hub, err := coordination.NewHub(coordination.Config{
//	    Manager:   tm,
//	    Clock:     clock.New(peerID),
//	    Messenger: mailbox.NewMailbox(dir, peerID),
//	}, coordination.FromConfig(cfg)...)
//	if err != nil {
//	    return err
//	}
//	defer hub.Close()
//	return hub.Run(ctx)
//
// [MemoryNetwork] connects peers inside one process, which is how the tests
// exercise contention.
package coordination
