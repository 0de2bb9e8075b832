// Package rpcclient defines the transport the submitter multiplexes
// through: one ActorRpcClient per connected worker, obtained from a pooled
// CoreWorkerClientPool. The RPC transport itself, and the wire format of
// PushActorTask and KillActor, are specified only by the interface below;
// this package fixes that interface and ships two implementations: an
// in-memory Fake for tests, and a gRPC-backed client for real deployments.
package rpcclient

import (
	"github.com/Actexpler/ray/internal/wire"
	"github.com/Actexpler/ray/pkg/ids"
)

// ReplyCallback is invoked exactly once with the outcome of a PushActorTask
// call: a non-nil err models a network or remote error (a "status"); a nil
// err means the actor processed the request.
type ReplyCallback func(err error, reply wire.PushTaskReply)

// Client is a connection to one remote worker. Implementations must invoke
// the PushActorTask callback exactly once, and must tolerate a nil callback
// on KillActor, since fire-and-forget null-callback semantics are left
// transport-defined.
type Client interface {
	// Addr returns the address this client is connected to.
	Addr() ids.Address

	// PushActorTask sends one task. skipQueue bypasses the transport's own
	// ordering queue, used only for skip_execution resends.
	PushActorTask(req wire.PushTaskRequest, skipQueue bool, cb ReplyCallback)

	// KillActor asks the remote actor to exit. cb may be nil.
	KillActor(req wire.KillActorRequest, cb ReplyCallback)

	// ClientProcessedUpToSeqno reports the highest sequence number the
	// remote side has acknowledged processing, used only for the
	// excess-queueing warning heuristic.
	ClientProcessedUpToSeqno() int64

	// Close tears down the underlying connection.
	Close() error
}

// Pool obtains and shares Client connections by worker address, exactly as
// ray::rpc::CoreWorkerClientPool does: the submitter holds at most one
// handle per ClientQueue and returns it via Disconnect on every eviction.
type Pool interface {
	GetOrConnect(addr ids.Address) (Client, error)
	Disconnect(workerID ids.WorkerID)
}
