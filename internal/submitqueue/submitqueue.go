// Package submitqueue implements the per-actor ordered staging queue that
// holds tasks between submission and send, between send and completion, and
// enforces that they reach the transport in strict send_pos order. It owns
// no locks of its own: every ClientQueue serializes access to its submit
// queue under the submitter's single mutex, so this type's methods assume
// single-threaded use.
package submitqueue

import (
	"github.com/emirpasic/gods/sets/treeset"

	"github.com/Actexpler/ray/internal/wire"
	"github.com/Actexpler/ray/pkg/ids"
)

type slot struct {
	task     wire.TaskSpec
	resolved bool
	sent     bool
	// completed marks a slot that has been acknowledged done (successfully
	// or not) by the transport. Completed slots are reaped eagerly from the
	// head of the ordered set so Contains reflects only outstanding work, but
	// a slot that completes out of order (see PopAllOutOfOrderCompletedTasks)
	// is kept around, flagged, until its predecessors catch up.
	completed bool
}

func sendPosComparator(a, b interface{}) int {
	x, y := a.(int64), b.(int64)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// ActorSubmitQueue is the ordered staging queue for one actor's pending-to-
// send and in-flight tasks.
//
// Staged send_pos values are kept in two structures, mirroring the
// taskByTime/taskByID split in determined-ai/determined's TaskList
// (master/internal/rm/tasklist/task_list.go): order is a treeset.Set
// holding send_pos ascending, for every operation that needs to walk staged
// slots in sequence order (draining, reaping, resending); slots is a plain
// map for O(1) existence/lookup by send_pos.
type ActorSubmitQueue struct {
	actorID ids.ActorID
	slots   map[int64]*slot
	order   *treeset.Set

	// nextToSend is the lowest send_pos not yet handed to PopNextTaskToSend.
	// Maintaining it directly (rather than rescanning the ordered set from
	// the head every call) is what makes PopNextTaskToSend's "preceded only
	// by already-sent slots" check O(1) amortized instead of O(n) per call.
	nextToSend int64

	// nextToComplete is the lowest send_pos not yet reaped by
	// MarkTaskCompleted's contiguous-trailing-completions sweep.
	nextToComplete int64

	// highestEmplaced is the highest send_pos ever staged via Emplace, or -1
	// if none yet. It lets PopNextTaskToSend tell "this send_pos was removed
	// by a dependency failure, skip it" apart from "this send_pos has not
	// been submitted yet, stop here"; both look like a missing map entry.
	highestEmplaced int64
}

// New returns an empty submit queue for the given actor.
func New(actorID ids.ActorID) *ActorSubmitQueue {
	return &ActorSubmitQueue{
		actorID:         actorID,
		slots:           make(map[int64]*slot),
		order:           treeset.NewWith(sendPosComparator),
		highestEmplaced: -1,
	}
}

// Emplace inserts a task at send_pos. It returns false if a slot at that
// position already exists.
func (q *ActorSubmitQueue) Emplace(sendPos int64, task wire.TaskSpec) bool {
	if _, exists := q.slots[sendPos]; exists {
		return false
	}
	q.slots[sendPos] = &slot{task: task}
	q.order.Add(sendPos)
	if sendPos > q.highestEmplaced {
		q.highestEmplaced = sendPos
	}
	return true
}

// Contains reports whether a slot is still staged at send_pos.
func (q *ActorSubmitQueue) Contains(sendPos int64) bool {
	_, ok := q.slots[sendPos]
	return ok
}

// Get returns the task spec staged at send_pos and whether its dependencies
// have been marked resolved. The second return is false if no such slot
// exists.
func (q *ActorSubmitQueue) Get(sendPos int64) (wire.TaskSpec, bool) {
	s, ok := q.slots[sendPos]
	if !ok {
		return wire.TaskSpec{}, false
	}
	return s.task, s.resolved
}

// MarkDependencyResolved flags the slot at send_pos as ready to send. A
// no-op if the slot no longer exists; the caller is responsible for checking
// Contains first if it needs to distinguish that case.
func (q *ActorSubmitQueue) MarkDependencyResolved(sendPos int64) {
	if s, ok := q.slots[sendPos]; ok {
		s.resolved = true
	}
}

// MarkDependencyFailed removes the slot at send_pos; subsequent Contains
// calls for that position return false.
func (q *ActorSubmitQueue) MarkDependencyFailed(sendPos int64) {
	delete(q.slots, sendPos)
	q.order.Remove(sendPos)
}

// ResetForRetry removes the slot at send_pos so that a caller's
// resubmission of the same task via SubmitTask (same actor_counter) can
// Emplace it again. Used when TaskFinisher.PendingTaskFailed reports
// will_retry=true for a transport failure: the caller is responsible for
// resubmitting at the same sequence number, which is only safe if the slot
// doesn't still look occupied to Emplace.
//
// send_pos was already marked sent (PopNextTaskToSend only hands a slot to
// the transport once), which had advanced nextToSend past it; resetting the
// slot alone would otherwise leave the re-Emplaced task permanently
// unreachable, since the scan in PopNextTaskToSend never walks backward.
func (q *ActorSubmitQueue) ResetForRetry(sendPos int64) {
	delete(q.slots, sendPos)
	q.order.Remove(sendPos)
	if sendPos < q.nextToSend {
		q.nextToSend = sendPos
	}
}

// PopNextTaskToSend returns the lowest send_pos slot that is resolved, not
// yet sent, and preceded only by already-sent or already-removed slots, and
// marks it sent. It returns ok=false if no further slot can be sent yet.
//
// A missing slot at or below highestEmplaced was removed by
// MarkDependencyFailed (or ResetForRetry): the wire sequence is monotone,
// not dense, so a dependency failure does not block later sends. A missing
// slot above highestEmplaced simply has not been submitted yet, and stops
// the scan. Slots already marked sent (carried
// over from a prior connection, e.g. an out-of-order completion that
// ResendOutOfOrderTasks will handle separately) are skipped rather than
// treated as a blocker, so a reconnect's reset of nextToSend back to the
// oldest unreaped slot doesn't get wedged on work that doesn't need a
// normal resend.
func (q *ActorSubmitQueue) PopNextTaskToSend() (task wire.TaskSpec, ok bool) {
	for {
		if q.nextToSend > q.highestEmplaced {
			return wire.TaskSpec{}, false
		}
		s, exists := q.slots[q.nextToSend]
		if !exists {
			q.nextToSend++
			continue
		}
		if s.sent {
			q.nextToSend++
			continue
		}
		if !s.resolved {
			return wire.TaskSpec{}, false
		}
		s.sent = true
		q.nextToSend++
		return s.task, true
	}
}

// PopAllOutOfOrderCompletedTasks returns every task that was acknowledged
// complete before an earlier sibling was, in ascending send_pos order. This
// is only observable after a restart replayed tasks out of order; used by
// ResendOutOfOrderTasks to inform the new incarnation it may skip
// re-execution. A slot can only be completed-but-still-present here if
// something below it is still outstanding, by construction of
// MarkTaskCompleted's reap sweep.
func (q *ActorSubmitQueue) PopAllOutOfOrderCompletedTasks() []wire.TaskSpec {
	var out []wire.TaskSpec
	for _, v := range q.order.Values() {
		s := q.slots[v.(int64)]
		if s.completed {
			out = append(out, s.task)
		}
	}
	return out
}

// MarkTaskCompleted records that the slot at sendPos finished (successfully
// or not). If sendPos is the lowest outstanding sent slot, it and every
// contiguous completed slot after it are reaped from the queue together;
// otherwise the slot is left in place, flagged completed, so a later reap
// (or a restart's PopAllOutOfOrderCompletedTasks) can account for it.
func (q *ActorSubmitQueue) MarkTaskCompleted(sendPos int64, task wire.TaskSpec) {
	s, ok := q.slots[sendPos]
	if !ok {
		return
	}
	s.task = task
	s.completed = true

	if sendPos != q.nextToComplete {
		return
	}
	for {
		if q.nextToComplete > q.highestEmplaced {
			break
		}
		s, ok := q.slots[q.nextToComplete]
		if !ok {
			// A dependency-failed (or retry-reset) slot: already gone,
			// treat it as already past and keep reaping beyond it.
			q.nextToComplete++
			continue
		}
		if !s.completed {
			break
		}
		delete(q.slots, q.nextToComplete)
		q.order.Remove(q.nextToComplete)
		q.nextToComplete++
	}
}

// GetSequenceNumber returns the wire sequence number for a task, which is
// always its actor_counter.
func (q *ActorSubmitQueue) GetSequenceNumber(task wire.TaskSpec) int64 {
	return task.ActorCounter
}

// ClearAllTasks drains every staged task, in ascending send_pos order, and
// returns their ids, for the caller to report as failed. Used on the dead
// transition.
func (q *ActorSubmitQueue) ClearAllTasks() []ids.TaskID {
	values := q.order.Values()
	out := make([]ids.TaskID, 0, len(values))
	for _, v := range values {
		out = append(out, q.slots[v.(int64)].task.TaskID)
	}
	q.slots = make(map[int64]*slot)
	q.order.Clear()
	q.nextToSend = 0
	q.nextToComplete = 0
	q.highestEmplaced = -1
	return out
}

// OnClientConnected resets the "sent but unacknowledged" bit on every slot
// so that, after a reconnect, unacknowledged tasks are re-sent from the
// head. Slots already reaped as completed stay gone; slots still pending
// dependency resolution are untouched (they were never sent).
func (q *ActorSubmitQueue) OnClientConnected() {
	q.nextToSend = q.nextToComplete
	for _, v := range q.order.Values() {
		pos := v.(int64)
		s := q.slots[pos]
		if pos >= q.nextToComplete && !s.completed {
			s.sent = false
		}
	}
}

// Len reports the number of slots currently staged, used for the
// excess-queueing warning in PushActorTask.
func (q *ActorSubmitQueue) Len() int {
	return q.order.Size()
}
