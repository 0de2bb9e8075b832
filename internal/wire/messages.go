// Package wire defines the messages the submitter exchanges with the
// external RPC transport and the shapes it stages internally. The wire
// format of PushActorTask and KillActor belongs to the transport; this
// package fixes only the fields the core reads or sets.
package wire

import (
	"github.com/Actexpler/ray/pkg/ids"
)

// TaskSpec is an immutable-by-contract description of one actor-method
// invocation. SkipExecution is the one mutable field: it is flipped when the
// submitter builds a resend copy for an out-of-order-completed task, never
// on the original.
type TaskSpec struct {
	TaskID  ids.TaskID
	ActorID ids.ActorID

	// ActorCounter is the caller-assigned monotone sequence number for this
	// actor, starting at 0 and strictly increasing across the caller's
	// submissions to that actor. It doubles as the submit queue's send_pos
	// and the wire sequence number.
	ActorCounter int64

	// SkipExecution, when true, tells the remote actor to advance its
	// completion counter for this sequence number without re-executing the
	// method body. Only ever set on a resend copy built by
	// ResendOutOfOrderTasks; never on the originally submitted spec.
	SkipExecution bool

	// MethodName and Args are opaque to the submitter; it only forwards
	// them. Kept so the demo binary and tests have something to print.
	MethodName string
	Args       []byte
}

// Copy returns a deep-enough copy of the spec for building a resend: the
// caller flips SkipExecution on the returned value, never on the original.
func (t TaskSpec) Copy() TaskSpec {
	out := t
	if t.Args != nil {
		out.Args = make([]byte, len(t.Args))
		copy(out.Args, t.Args)
	}
	return out
}

// PushTaskRequest is what PushActorTask sends to the remote worker.
type PushTaskRequest struct {
	IntendedWorkerID ids.WorkerID
	SequenceNumber   int64
	Task             TaskSpec
}

// PushTaskReply is the transport's reply to a PushTaskRequest.
type PushTaskReply struct {
	Body []byte
}

// KillActorRequest asks the remote actor to exit.
type KillActorRequest struct {
	IntendedActorID ids.ActorID
	ForceKill       bool
	NoRestart       bool
}

// Upgrade applies the coalescing rule: force_kill only ever turns on, and
// no_restart only ever turns on when force_kill is being set.
func (r *KillActorRequest) Upgrade(next KillActorRequest) {
	if next.ForceKill {
		r.ForceKill = true
		if next.NoRestart {
			r.NoRestart = true
		}
	}
}

// DeathInfoEntry is one task parked in a ClientQueue's
// wait_for_death_info_tasks list: the task spec plus the absolute deadline
// (ms since epoch) after which it is failed even without a definitive death
// notification.
type DeathInfoEntry struct {
	DeadlineMs int64
	Task       TaskSpec
}

// DeadlineFrom computes the absolute deadline for a task that just failed
// with a network error, given the current time and the configured grace
// period.
func DeadlineFrom(nowMs int64, graceMs int64) int64 {
	return nowMs + graceMs
}
