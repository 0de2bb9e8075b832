package submitter

import (
	"github.com/Actexpler/ray/internal/rpcclient"
	"github.com/Actexpler/ray/internal/submitqueue"
	"github.com/Actexpler/ray/internal/wire"
	"github.com/Actexpler/ray/pkg/ids"
)

// State is the lifecycle state of one actor's ClientQueue.
type State int

const (
	// StatePending is the initial state: no lifecycle event has been
	// observed for this actor yet.
	StatePending State = iota
	// StateAlive means an RPC client to the actor's current incarnation is
	// connected.
	StateAlive
	// StateRestarting means the previous incarnation disconnected and a new
	// one has not yet connected.
	StateRestarting
	// StateDead is terminal: the actor will never run again.
	StateDead
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateAlive:
		return "ALIVE"
	case StateRestarting:
		return "RESTARTING"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// clientQueue is the per-actor aggregate of lifecycle state, restart epoch,
// RPC client handle, submit queue, in-flight callbacks, death-info wait
// list, and pending force-kill. It is exclusively owned by the submitter
// and always accessed under the submitter's mu.
type clientQueue struct {
	actorID ids.ActorID

	state State
	// numRestarts starts at -1, not 0, to indicate "actor not yet created"
	// so that the first ConnectActor (epoch 0) always supersedes it. Kept
	// from the original's RAY_CHECK-guarded invariant that a live actor's
	// num_restarts is never negative.
	numRestarts int64

	address   ids.Address
	rpcClient rpcclient.Client

	submitQueue *submitqueue.ActorSubmitQueue

	inflightTaskCallbacks map[ids.TaskID]rpcclient.ReplyCallback

	waitForDeathInfoTasks []wire.DeathInfoEntry

	pendingForceKill *wire.KillActorRequest

	creationTaskException error
}

func newClientQueue(actorID ids.ActorID) *clientQueue {
	return &clientQueue{
		actorID:               actorID,
		state:                 StatePending,
		numRestarts:           -1,
		submitQueue:           submitqueue.New(actorID),
		inflightTaskCallbacks: make(map[ids.TaskID]rpcclient.ReplyCallback),
	}
}

// disconnectRPC drops the current RPC client (if any) and clears
// everything tied to that connection's identity, mirroring
// DisconnectRpcClient in the original: worker_id and pending_force_kill
// are both scoped to a single connection's lifetime.
func (q *clientQueue) disconnectRPC(pool rpcclient.Pool) {
	if q.rpcClient == nil {
		return
	}
	workerID := q.address.WorkerID
	q.rpcClient = nil
	q.address = ids.Address{}
	q.pendingForceKill = nil
	pool.Disconnect(workerID)
}

// evictInflightCallbacks moves the in-flight callback map out from under
// the queue and returns it, leaving the queue's map empty. The caller must
// release the submitter's lock before invoking any of the returned
// callbacks.
func (q *clientQueue) evictInflightCallbacks() map[ids.TaskID]rpcclient.ReplyCallback {
	evicted := q.inflightTaskCallbacks
	q.inflightTaskCallbacks = make(map[ids.TaskID]rpcclient.ReplyCallback)
	return evicted
}
