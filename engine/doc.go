// Package engine implements the checkpoint creation state machine.
//
// Every checkpoint round walks the same steps, and validators vote their
// stake at each one:
//
//	AGREE_VALIDATOR → AGREE_HASH → AGREE_CONTENT → COMMITTED
//
// A step ends when more than two thirds of the stake snapshot backs one
// outcome. A PASS majority, or a step that runs out of time, moves to
// AGREE_VALIDATOR of the next round. A committed checkpoint starts round 0
// on top of itself.
//
// # Core Components
//
// Engine: Owns the handlers and the vote registry of the current state.
// Hosts feed it items through HandleItem and the clock through Tick.
//
// ConsensusState: The current CreationState, the transition rules and the
// creation timer. Transitions are written to the WAL before they apply.
//
// VoteRegistry: Collects the votes of one state and weighs them by stake.
// A key with two different votes counts as PASS.
//
// Schedule: Named deadlines in a btree. Step windows, retries and the
// periodic gossip tasks all run from it.
//
// Sync: Pulls checkpoints the local DAG is missing and injects them once
// their origin is known.
//
// Replay: Restores the last state and the engine's own votes and proposals
// from the WAL after a restart.
//
// # Usage Example
//
//	eng, err := engine.NewEngine(cfg, agent, svc, relay, w,
//	    engine.WithMetrics(engine.NewMetrics(prometheus.DefaultRegisterer)))
//	if err != nil {
//	    return err
//	}
//	if err := eng.Start(time.Now()); err != nil {
//	    return err
//	}
//
//	// network side
//	eng.HandleItem(item)
//
//	// clock side
//	if err := eng.Tick(time.Now()); errors.Is(err, engine.ErrCreationTimedOut) {
//	    eng.Resume(time.Now())
//	}
//
// # Thread Safety
//
// All public methods are safe for concurrent use and share one lock. The
// engine starts no goroutines; a Messenger must queue what it is given
// rather than call back into the engine.
package engine
