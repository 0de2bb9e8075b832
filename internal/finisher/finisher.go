// Package finisher provides the TaskFinisher the submitter reports task
// outcomes to. Like the RPC transport and dependency resolver, the finisher
// is an external collaborator: it decides retries and surfaces failures to
// the caller, and the submitter only calls it. This package fixes the
// interface and a reference implementation usable for tests and the demo
// binary.
package finisher

import (
	log "github.com/sirupsen/logrus"

	"github.com/Actexpler/ray/internal/wire"
	"github.com/Actexpler/ray/pkg/ids"
)

// Finisher records task outcomes and decides whether a transport failure
// should be retried. None of its methods may be called while the
// submitter's lock is held.
type Finisher interface {
	// CompletePendingTask records a successful reply.
	CompletePendingTask(taskID ids.TaskID, reply wire.PushTaskReply, addr ids.Address)

	// PendingTaskFailed records a failure and returns whether the caller
	// should retry submission at the same actor_counter. immediatelyMarkObjectFail
	// is set when the actor is already known dead, so no grace period is
	// needed.
	PendingTaskFailed(
		taskID ids.TaskID,
		kind ids.ErrorKind,
		creationException error,
		immediatelyMarkObjectFail bool,
	) (willRetry bool)

	// MarkPendingTaskFailed finalizes a task parked in wait_for_death_info
	// once its deadline elapses or the actor is confirmed dead.
	MarkPendingTaskFailed(task wire.TaskSpec, kind ids.ErrorKind, creationException error)

	// MarkTaskCanceled records that a task will not complete because its
	// actor is dead: it was submitted against an already-dead actor, or it
	// was still staged in the submit queue when the actor died.
	MarkTaskCanceled(taskID ids.TaskID)
}

// Outcome is one terminal report recorded by the Recording finisher, kept
// for tests that want to assert on exactly what was reported.
type Outcome struct {
	TaskID    ids.TaskID
	Kind      ids.ErrorKind
	Completed bool
	Canceled  bool
}

// Recording is a Finisher that records every outcome in memory and never
// asks for a retry, unless RetryTaskIDs has been primed for the task. It is the "reference
// implementation" SPEC_FULL.md calls for: simple enough to reason about in
// tests, faithful to the documented contract that a will_retry=true caller
// is responsible for resubmission.
type Recording struct {
	Outcomes []Outcome

	// RetryTaskIDs, if a task id is present with a true value, makes the
	// next PendingTaskFailed call for that task id return willRetry=true
	// instead of recording a terminal failure.
	RetryTaskIDs map[ids.TaskID]bool
}

// NewRecording returns an empty Recording finisher.
func NewRecording() *Recording {
	return &Recording{RetryTaskIDs: make(map[ids.TaskID]bool)}
}

// CompletePendingTask implements Finisher.
func (f *Recording) CompletePendingTask(taskID ids.TaskID, _ wire.PushTaskReply, addr ids.Address) {
	log.WithField("task_id", taskID).WithField("worker_id", addr.WorkerID).
		Debug("task completed")
	f.Outcomes = append(f.Outcomes, Outcome{TaskID: taskID, Completed: true})
}

// PendingTaskFailed implements Finisher.
func (f *Recording) PendingTaskFailed(
	taskID ids.TaskID,
	kind ids.ErrorKind,
	_ error,
	immediatelyMarkObjectFail bool,
) bool {
	if f.RetryTaskIDs[taskID] {
		delete(f.RetryTaskIDs, taskID)
		return true
	}
	log.WithField("task_id", taskID).WithField("kind", kind).
		WithField("immediate", immediatelyMarkObjectFail).
		Info("task failed")
	f.Outcomes = append(f.Outcomes, Outcome{TaskID: taskID, Kind: kind})
	return false
}

// MarkPendingTaskFailed implements Finisher.
func (f *Recording) MarkPendingTaskFailed(task wire.TaskSpec, kind ids.ErrorKind, _ error) {
	log.WithField("task_id", task.TaskID).WithField("kind", kind).
		Info("death-info task failed")
	f.Outcomes = append(f.Outcomes, Outcome{TaskID: task.TaskID, Kind: kind})
}

// MarkTaskCanceled implements Finisher.
func (f *Recording) MarkTaskCanceled(taskID ids.TaskID) {
	f.Outcomes = append(f.Outcomes, Outcome{TaskID: taskID, Canceled: true})
}
