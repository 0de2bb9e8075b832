// Package submitter implements the client-side actor task submitter: the
// per-worker component that accepts actor-method invocations, enforces
// exact send-order per actor, drives dependency resolution, multiplexes
// through a pooled RPC client, and implements the failure/restart/death
// protocol against each remote actor.
package submitter

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Actexpler/ray/internal/config"
	"github.com/Actexpler/ray/internal/dependency"
	"github.com/Actexpler/ray/internal/finisher"
	"github.com/Actexpler/ray/internal/invariant"
	"github.com/Actexpler/ray/internal/rpcclient"
	"github.com/Actexpler/ray/internal/wire"
	"github.com/Actexpler/ray/pkg/clock"
	"github.com/Actexpler/ray/pkg/ids"
)

// ActorTaskSubmitter owns the mapping actor_id -> ClientQueue and drives
// every state transition and dispatch. It is thread-safe; all shared state
// lives behind a single mu, following the one-mutex-per-instance model with
// no per-actor fine-grained locking.
type ActorTaskSubmitter struct {
	mu sync.Mutex

	clientQueues map[ids.ActorID]*clientQueue

	pool     rpcclient.Pool
	resolver dependency.Resolver
	finisher finisher.Finisher
	clock    clock.Clock
	cfg      *config.Config

	// nextQueueingWarnThreshold is global, not per-actor, matching the
	// original's single next_queueing_warn_threshold_ field.
	nextQueueingWarnThreshold int64

	log *log.Entry
}

// New constructs an ActorTaskSubmitter. cfg may be nil, in which case
// config.GetConfig()'s process-wide default is used.
func New(
	pool rpcclient.Pool,
	resolver dependency.Resolver,
	fin finisher.Finisher,
	clk clock.Clock,
	cfg *config.Config,
) *ActorTaskSubmitter {
	if cfg == nil {
		cfg = config.GetConfig()
	}
	return &ActorTaskSubmitter{
		clientQueues:              make(map[ids.ActorID]*clientQueue),
		pool:                      pool,
		resolver:                  resolver,
		finisher:                  fin,
		clock:                     clk,
		cfg:                       cfg,
		nextQueueingWarnThreshold: cfg.ActorExcessQueueingWarnThreshold,
		log:                       log.WithField("component", "actor_task_submitter"),
	}
}

// AddActorQueueIfNotExists registers a queue for actorID. Idempotent: it is
// normal for a worker to hold multiple references to the same actor.
func (s *ActorTaskSubmitter) AddActorQueueIfNotExists(actorID ids.ActorID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clientQueues[actorID]; !ok {
		s.clientQueues[actorID] = newClientQueue(actorID)
	}
}

// SetCallerCreationTimestamp records when the caller (not the actor) was
// created, for observability only; it has no effect on the state machine.
func (s *ActorTaskSubmitter) SetCallerCreationTimestamp(t time.Time) {
	callerCreationTimestamp.Set(float64(t.Unix()))
}

// IsActorAlive reports whether the actor has a connected RPC client.
func (s *ActorTaskSubmitter) IsActorAlive(actorID ids.ActorID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.clientQueues[actorID]
	return ok && q.rpcClient != nil
}

// SubmitTask stages a task for send and kicks off dependency resolution. It
// always returns nil; a caller invariant violation (an actor that was never
// registered via AddActorQueueIfNotExists, or a duplicate actor_counter)
// panics. A dead actor or a later dependency/transport failure is reported
// asynchronously through the Finisher, never via this return value.
func (s *ActorTaskSubmitter) SubmitTask(task wire.TaskSpec) error {
	actorID := task.ActorID

	var (
		taskQueued            bool
		sendPos               int64
		creationTaskException error
	)

	s.mu.Lock()
	q, ok := s.clientQueues[actorID]
	invariant.Check(ok, "SubmitTask for unregistered actor %s", actorID)
	if q.state != StateDead {
		sendPos = task.ActorCounter
		invariant.Check(q.submitQueue.Emplace(sendPos, task),
			"duplicate send_pos %d for actor %s", sendPos, actorID)
		taskQueued = true
	} else {
		creationTaskException = q.creationTaskException
	}
	s.mu.Unlock()

	if taskQueued {
		s.resolveAndDispatch(actorID, sendPos, task)
		return nil
	}

	// Actor already dead: report both a cancellation and a terminal
	// failure, matching the original. Cancellation removes the task from
	// the caller's pending set; the failure supplies the terminal error.
	s.finisher.MarkTaskCanceled(task.TaskID)
	s.finisher.PendingTaskFailed(task.TaskID, ids.ErrorKindActorDied, creationTaskException, true)
	return nil
}

// resolveAndDispatch calls out to the dependency resolver without holding
// mu: the resolver's completion callback may run synchronously on the same
// stack, so holding the lock across this call would deadlock a resolver
// that resolves immediately.
func (s *ActorTaskSubmitter) resolveAndDispatch(actorID ids.ActorID, sendPos int64, task wire.TaskSpec) {
	s.resolver.ResolveDependencies(task, func(status dependency.Status) {
		s.mu.Lock()

		q, ok := s.clientQueues[actorID]
		invariant.Check(ok, "dependency callback for unregistered actor %s", actorID)

		if !q.submitQueue.Contains(sendPos) {
			// The slot was cleared by a restart or death while dependency
			// resolution was in flight. Late arrival, no-op.
			s.mu.Unlock()
			return
		}

		if status.OK {
			q.submitQueue.MarkDependencyResolved(sendPos)
			s.sendPendingTasks(actorID)
			s.mu.Unlock()
			return
		}

		taskID := task.TaskID
		q.submitQueue.MarkDependencyFailed(sendPos)
		// Removing this slot may have unblocked later, already-resolved
		// slots that were stuck behind it. The wire sequence is monotone,
		// not dense: a dependency failure must not block later sends.
		s.sendPendingTasks(actorID)
		s.mu.Unlock()

		// PendingTaskFailed must not be called while mu is held.
		s.finisher.PendingTaskFailed(taskID, ids.ErrorKindDependencyResolutionFailed, nil, false)
	})
}

// KillActor requests that the actor exit, coalescing with any already-
// pending request, then flushes it via sendPendingTasks so the kill isn't
// stuck behind backpressure.
func (s *ActorTaskSubmitter) KillActor(actorID ids.ActorID, forceKill, noRestart bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.clientQueues[actorID]
	invariant.Check(ok, "KillActor for unregistered actor %s", actorID)

	req := wire.KillActorRequest{
		IntendedActorID: actorID,
		ForceKill:       forceKill,
		NoRestart:       noRestart,
	}
	if q.pendingForceKill == nil {
		q.pendingForceKill = &req
	} else {
		q.pendingForceKill.Upgrade(req)
	}

	s.sendPendingTasks(actorID)
}

// ConnectActor implements the ALIVE transition: a new (or first) RPC client
// is now reachable for this actor.
func (s *ActorTaskSubmitter) ConnectActor(actorID ids.ActorID, addr ids.Address, numRestarts int64) {
	var evicted map[ids.TaskID]rpcclient.ReplyCallback

	s.mu.Lock()
	q, ok := s.clientQueues[actorID]
	invariant.Check(ok, "ConnectActor for unregistered actor %s", actorID)

	switch {
	case numRestarts < q.numRestarts:
		s.log.WithField("actor_id", actorID).Debug("dropping stale ConnectActor")
		s.mu.Unlock()
		return
	case q.rpcClient != nil && q.address.Equal(addr):
		s.log.WithField("actor_id", actorID).Debug("actor already connected, ignoring ConnectActor")
		s.mu.Unlock()
		return
	case q.state == StateDead:
		s.log.WithField("actor_id", actorID).Debug("dropping ConnectActor for dead actor")
		s.mu.Unlock()
		return
	}

	q.numRestarts = numRestarts
	if q.rpcClient != nil {
		q.disconnectRPC(s.pool)
		evicted = q.evictInflightCallbacks()
	}

	q.state = StateAlive
	q.address = addr
	client, err := s.pool.GetOrConnect(addr)
	if err != nil {
		s.log.WithError(err).WithField("actor_id", actorID).Error("failed to connect to actor worker")
		q.state = StateRestarting
		q.address = ids.Address{}
		s.mu.Unlock()
		s.failInflightTasks(evicted)
		return
	}
	q.rpcClient = client
	q.submitQueue.OnClientConnected()

	s.log.WithField("actor_id", actorID).WithField("worker_id", addr.WorkerID.String()).Info("connected to actor")

	s.resendOutOfOrderTasks(actorID)
	s.sendPendingTasks(actorID)
	s.mu.Unlock()

	s.failInflightTasks(evicted)
}

// DisconnectActor implements the RESTARTING and DEAD transitions.
func (s *ActorTaskSubmitter) DisconnectActor(
	actorID ids.ActorID,
	numRestarts int64,
	dead bool,
	creationTaskException error,
) {
	var evicted map[ids.TaskID]rpcclient.ReplyCallback

	s.mu.Lock()
	q, ok := s.clientQueues[actorID]
	invariant.Check(ok, "DisconnectActor for unregistered actor %s", actorID)

	if !dead {
		invariant.Check(numRestarts > 0, "non-death DisconnectActor must carry a positive restart epoch")
		if numRestarts <= q.numRestarts {
			s.log.WithField("actor_id", actorID).Debug("dropping stale DisconnectActor")
			s.mu.Unlock()
			return
		}
	}

	q.disconnectRPC(s.pool)
	evicted = q.evictInflightCallbacks()

	var clearedTaskIDs []ids.TaskID
	var deathInfoTasks []wire.DeathInfoEntry

	if dead {
		q.state = StateDead
		q.creationTaskException = creationTaskException
		clearedTaskIDs = q.submitQueue.ClearAllTasks()
		deathInfoTasks = q.waitForDeathInfoTasks
		q.waitForDeathInfoTasks = nil
		s.log.WithField("actor_id", actorID).
			WithField("cleared", len(clearedTaskIDs)).
			WithField("death_info_waiters", len(deathInfoTasks)).
			Info("actor died, failing pending tasks")
	} else if q.state != StateDead {
		q.state = StateRestarting
		q.numRestarts = numRestarts
	}
	s.mu.Unlock()

	s.failInflightTasks(evicted)

	if dead {
		for _, taskID := range clearedTaskIDs {
			s.finisher.MarkTaskCanceled(taskID)
			s.finisher.PendingTaskFailed(taskID, ids.ErrorKindActorDied, creationTaskException, true)
		}
		for _, entry := range deathInfoTasks {
			s.finisher.MarkPendingTaskFailed(entry.Task, ids.ErrorKindActorDied, creationTaskException)
		}
	}
}

// CheckTimeoutTasks drains every death-info deadline that has already
// passed, across every actor, failing each as ACTOR_DIED. Driven by an
// external periodic timer.
func (s *ActorTaskSubmitter) CheckTimeoutTasks() {
	now := s.clock.NowMs()

	var expired []wire.TaskSpec

	s.mu.Lock()
	for _, q := range s.clientQueues {
		i := 0
		for i < len(q.waitForDeathInfoTasks) && q.waitForDeathInfoTasks[i].DeadlineMs < now {
			expired = append(expired, q.waitForDeathInfoTasks[i].Task)
			i++
		}
		q.waitForDeathInfoTasks = q.waitForDeathInfoTasks[i:]
	}
	s.mu.Unlock()

	for _, task := range expired {
		s.finisher.MarkPendingTaskFailed(task, ids.ErrorKindActorDied, nil)
	}
}

// RunTimeoutSweep runs CheckTimeoutTasks on cfg.TimeoutSweepInterval until
// stop is closed. This is the loop the host process's external periodic
// timer would drive; provided so the demo binary and integration tests
// don't need to reimplement a ticker.
func (s *ActorTaskSubmitter) RunTimeoutSweep(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.TimeoutSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.CheckTimeoutTasks()
		}
	}
}

// sendPendingTasks drains every contiguous sendable head-of-queue task to
// the RPC client, after flushing any coalesced pending KillActor request.
// Caller must hold mu.
func (s *ActorTaskSubmitter) sendPendingTasks(actorID ids.ActorID) {
	q := s.clientQueues[actorID]
	if q.rpcClient == nil {
		return
	}

	if q.pendingForceKill != nil {
		req := *q.pendingForceKill
		q.pendingForceKill = nil
		s.log.WithField("actor_id", actorID).Info("sending coalesced KillActor request")
		forceKillsSent.WithLabelValues(actorID.String()).Inc()
		q.rpcClient.KillActor(req, nil)
	}

	for {
		task, ok := q.submitQueue.PopNextTaskToSend()
		if !ok {
			break
		}
		invariant.Check(!q.address.WorkerID.IsNil(), "sending task to actor %s with no worker id", actorID)
		s.pushActorTask(q, task, false)
	}

	queueDepth.WithLabelValues(actorID.String()).Set(float64(q.submitQueue.Len()))
	inflightCallbacks.WithLabelValues(actorID.String()).Set(float64(len(q.inflightTaskCallbacks)))
}

// resendOutOfOrderTasks re-pushes every task the submit queue reports as
// completed out of order, flagged skip_execution=true and sent with
// skip_queue=true. Caller must hold mu.
func (s *ActorTaskSubmitter) resendOutOfOrderTasks(actorID ids.ActorID) {
	q := s.clientQueues[actorID]
	if q.rpcClient == nil {
		return
	}
	invariant.Check(!q.address.WorkerID.IsNil(), "resending out-of-order tasks for actor %s with no worker id", actorID)

	for _, task := range q.submitQueue.PopAllOutOfOrderCompletedTasks() {
		resend := task.Copy()
		resend.SkipExecution = true
		s.pushActorTask(q, resend, true)
	}
}

// pushActorTask builds the wire request and the two-layer reply callback,
// then hands it to the transport. Caller must hold mu; the transport call
// itself is async and never blocks on mu.
//
// The callback is split in two layers because the transport's reply arrives
// on an arbitrary goroutine: wrapped re-acquires mu just long enough to look
// up and remove the still-live inner callback, then invokes it outside the
// lock, so the inner callback's own calls into the finisher and submit
// queue never run while mu is held.
func (s *ActorTaskSubmitter) pushActorTask(q *clientQueue, task wire.TaskSpec, skipQueue bool) {
	req := wire.PushTaskRequest{
		IntendedWorkerID: q.address.WorkerID,
		SequenceNumber:   q.submitQueue.GetSequenceNumber(task),
		Task:             task,
	}

	numQueued := req.SequenceNumber - q.rpcClient.ClientProcessedUpToSeqno()
	if numQueued >= s.nextQueueingWarnThreshold {
		s.log.WithField("actor_id", q.actorID).WithField("num_queued", numQueued).
			Warn("actor task queue depth exceeds warning threshold")
		excessQueueingWarnings.WithLabelValues(q.actorID.String()).Inc()
		s.nextQueueingWarnThreshold *= 2
	}

	addr := q.rpcClient.Addr()
	taskID := task.TaskID
	actorID := task.ActorID
	actorCounter := task.ActorCounter
	taskSkipped := task.SkipExecution

	innerCallback := func(err error, reply wire.PushTaskReply) {
		if taskSkipped {
			// The reply is for a previously completed task, replayed only
			// to advance the remote actor's completion counter. There is
			// nothing to report to the finisher.
			s.markSlotCompleted(actorID, actorCounter, task)
			return
		}

		if err == nil {
			s.finisher.CompletePendingTask(taskID, reply, addr)
			s.markSlotCompleted(actorID, actorCounter, task)
			return
		}

		s.handlePushFailure(actorID, actorCounter, taskID, task, err)
	}

	q.inflightTaskCallbacks[taskID] = innerCallback

	wrapped := func(err error, reply wire.PushTaskReply) {
		s.mu.Lock()
		q, ok := s.clientQueues[actorID]
		if !ok {
			s.mu.Unlock()
			return
		}
		cb, ok := q.inflightTaskCallbacks[taskID]
		if !ok {
			// The actor restarted and this callback was already evicted
			// and failed as an induced failure. Drop the reply silently.
			s.mu.Unlock()
			return
		}
		delete(q.inflightTaskCallbacks, taskID)
		s.mu.Unlock()

		cb(err, reply)
	}

	q.rpcClient.PushActorTask(req, skipQueue, wrapped)
}

// markSlotCompleted re-acquires mu to record a submit-queue completion; it
// is always called from outside the submitter's lock (from an inner
// callback invoked by the outer wrapper after releasing mu).
func (s *ActorTaskSubmitter) markSlotCompleted(actorID ids.ActorID, sendPos int64, task wire.TaskSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.clientQueues[actorID]
	if !ok {
		return
	}
	q.submitQueue.MarkTaskCompleted(sendPos, task)
	queueDepth.WithLabelValues(actorID.String()).Set(float64(q.submitQueue.Len()))
}

// handlePushFailure implements the network/remote-error branch of the
// inner callback built in pushActorTask.
func (s *ActorTaskSubmitter) handlePushFailure(
	actorID ids.ActorID,
	sendPos int64,
	taskID ids.TaskID,
	task wire.TaskSpec,
	pushErr error,
) {
	s.mu.Lock()
	q, ok := s.clientQueues[actorID]
	if !ok {
		s.mu.Unlock()
		return
	}
	immediatelyMarkObjectFail := q.state == StateDead
	creationTaskException := q.creationTaskException
	s.mu.Unlock()

	willRetry := s.finisher.PendingTaskFailed(taskID, ids.ErrorKindActorDied, creationTaskException, immediatelyMarkObjectFail)
	if willRetry {
		// An external retry loop resubmits at the same actor_counter via
		// SubmitTask. Reset the slot so that resubmission's Emplace can
		// succeed instead of tripping the duplicate-slot invariant against
		// the still-occupied sendPos.
		s.mu.Lock()
		if q, ok := s.clientQueues[actorID]; ok {
			q.submitQueue.ResetForRetry(sendPos)
		}
		s.mu.Unlock()
		return
	}

	if !immediatelyMarkObjectFail {
		s.mu.Lock()
		q, ok := s.clientQueues[actorID]
		if ok {
			deadline := wire.DeadlineFrom(s.clock.NowMs(), s.cfg.TimeoutMsTaskWaitForDeathInfo)
			q.waitForDeathInfoTasks = append(q.waitForDeathInfoTasks, wire.DeathInfoEntry{
				DeadlineMs: deadline,
				Task:       task,
			})
			s.log.WithField("actor_id", actorID).WithField("task_id", taskID).
				WithField("queue_size", len(q.waitForDeathInfoTasks)).
				Info("push failed with network error, awaiting death info")
		}
		s.mu.Unlock()
		return
	}

	// Actor already known dead: the failure was already reported above,
	// just reap the slot.
	s.log.WithError(pushErr).WithField("actor_id", actorID).WithField("task_id", taskID).
		Debug("push to known-dead actor failed, reaping slot")
	s.markSlotCompleted(actorID, sendPos, task)
}

// failInflightTasks invokes every evicted callback with a synthesized IO
// error, acting like there's a network issue, exactly as FailInflightTasks
// does in the original. Must be called with mu released.
func (s *ActorTaskSubmitter) failInflightTasks(callbacks map[ids.TaskID]rpcclient.ReplyCallback) {
	if len(callbacks) == 0 {
		return
	}
	err := errors.New("fail all inflight tasks due to actor state change")
	for _, cb := range callbacks {
		cb(err, wire.PushTaskReply{})
	}
}
