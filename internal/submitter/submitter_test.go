package submitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Actexpler/ray/internal/config"
	"github.com/Actexpler/ray/internal/dependency"
	"github.com/Actexpler/ray/internal/finisher"
	"github.com/Actexpler/ray/internal/rpcclient"
	"github.com/Actexpler/ray/internal/wire"
	"github.com/Actexpler/ray/pkg/clock"
	"github.com/Actexpler/ray/pkg/ids"
)

// harness bundles one submitter with its fakes, grounded on the same
// hand-rolled test-double style as determined-ai/determined's actor tests
// rather than a mocking framework.
type harness struct {
	sub      *ActorTaskSubmitter
	pool     *rpcclient.FakePool
	finisher *finisher.Recording
	clock    *clock.Manual
}

func newHarness() *harness {
	pool := rpcclient.NewFakePool()
	fin := finisher.NewRecording()
	clk := &clock.Manual{}
	cfg := config.DefaultConfig()
	sub := New(pool, dependency.Immediate{}, fin, clk, cfg)
	return &harness{sub: sub, pool: pool, finisher: fin, clock: clk}
}

func (h *harness) connect(t *testing.T, actorID ids.ActorID, numRestarts int64) (*rpcclient.FakeClient, ids.Address) {
	t.Helper()
	workerID := ids.NewWorkerID()
	addr := ids.Address{WorkerID: workerID, IP: "127.0.0.1", Port: 10000}
	h.sub.ConnectActor(actorID, addr, numRestarts)
	client, err := h.pool.GetOrConnect(addr)
	require.NoError(t, err)
	return client.(*rpcclient.FakeClient), addr
}

func task(actorID ids.ActorID, counter int64) wire.TaskSpec {
	return wire.TaskSpec{
		TaskID:       ids.NewTaskID(),
		ActorID:      actorID,
		ActorCounter: counter,
		MethodName:   "do_work",
	}
}

// Scenario 1: happy path. Submit 0, 1, 2 to an already-connected actor and
// confirm the transport sees them in strict order and each reply completes
// the corresponding task.
func TestHappyPath(t *testing.T) {
	h := newHarness()
	actorID := ids.NewActorID()
	h.sub.AddActorQueueIfNotExists(actorID)
	client, _ := h.connect(t, actorID, 0)

	t0, t1, t2 := task(actorID, 0), task(actorID, 1), task(actorID, 2)
	require.NoError(t, h.sub.SubmitTask(t0))
	require.NoError(t, h.sub.SubmitTask(t1))
	require.NoError(t, h.sub.SubmitTask(t2))

	pushed := client.Pushed()
	require.Len(t, pushed, 3)
	assert.Equal(t, int64(0), pushed[0].Request.Task.ActorCounter)
	assert.Equal(t, int64(1), pushed[1].Request.Task.ActorCounter)
	assert.Equal(t, int64(2), pushed[2].Request.Task.ActorCounter)

	client.Reply(t0.TaskID, wire.PushTaskReply{})
	client.Reply(t1.TaskID, wire.PushTaskReply{})
	client.Reply(t2.TaskID, wire.PushTaskReply{})

	require.Len(t, h.finisher.Outcomes, 3)
	for _, o := range h.finisher.Outcomes {
		assert.True(t, o.Completed)
	}
}

// Scenario 2: out-of-order dependency resolution. Using a resolver that can
// be driven asynchronously, submit 0, 1, 2 and resolve their dependencies
// out of order; the transport must still see them in ascending order.
func TestOutOfOrderDependencyResolutionPreservesSendOrder(t *testing.T) {
	store := dependency.NewObjectStore()
	pool := rpcclient.NewFakePool()
	fin := finisher.NewRecording()
	clk := &clock.Manual{}
	sub := New(pool, dependency.NewObjectStoreResolver(store), fin, clk, config.DefaultConfig())

	actorID := ids.NewActorID()
	sub.AddActorQueueIfNotExists(actorID)
	workerID := ids.NewWorkerID()
	addr := ids.Address{WorkerID: workerID, IP: "127.0.0.1", Port: 10001}
	sub.ConnectActor(actorID, addr, 0)
	clientIface, err := pool.GetOrConnect(addr)
	require.NoError(t, err)
	client := clientIface.(*rpcclient.FakeClient)

	t0 := task(actorID, 0)
	t0.Args = []byte("dep0")
	t1 := task(actorID, 1)
	t1.Args = []byte("dep1")
	t2 := task(actorID, 2)
	t2.Args = []byte("dep2")

	require.NoError(t, sub.SubmitTask(t0))
	require.NoError(t, sub.SubmitTask(t1))
	require.NoError(t, sub.SubmitTask(t2))

	assert.Empty(t, client.Pushed(), "nothing should dispatch before any dependency resolves")

	// Resolve out of order: 2, then 0, then 1.
	store.Put("dep2", nil)
	assert.Empty(t, client.Pushed())
	store.Put("dep0", nil)
	require.Len(t, client.Pushed(), 1)
	store.Put("dep1", nil)

	pushed := client.Pushed()
	require.Len(t, pushed, 3)
	assert.Equal(t, int64(0), pushed[0].Request.Task.ActorCounter)
	assert.Equal(t, int64(1), pushed[1].Request.Task.ActorCounter)
	assert.Equal(t, int64(2), pushed[2].Request.Task.ActorCounter)
}

// Scenario 3: dependency failure of a middle task. Submit 0, 1, 2; resolve 0
// and 2 OK, fail 1. The transport must see 0 then 2 (non-contiguous
// sequence numbers are fine), and task 1 must be reported
// DEPENDENCY_RESOLUTION_FAILED.
func TestDependencyFailureOfMiddleTaskDoesNotBlockLaterTasks(t *testing.T) {
	store := dependency.NewObjectStore()
	pool := rpcclient.NewFakePool()
	fin := finisher.NewRecording()
	clk := &clock.Manual{}
	sub := New(pool, dependency.NewObjectStoreResolver(store), fin, clk, config.DefaultConfig())

	actorID := ids.NewActorID()
	sub.AddActorQueueIfNotExists(actorID)
	workerID := ids.NewWorkerID()
	addr := ids.Address{WorkerID: workerID, IP: "127.0.0.1", Port: 10002}
	sub.ConnectActor(actorID, addr, 0)
	clientIface, err := pool.GetOrConnect(addr)
	require.NoError(t, err)
	client := clientIface.(*rpcclient.FakeClient)

	t0 := task(actorID, 0)
	t0.Args = []byte("a")
	t1 := task(actorID, 1)
	t1.Args = []byte("b")
	t2 := task(actorID, 2)
	t2.Args = []byte("c")

	require.NoError(t, sub.SubmitTask(t0))
	require.NoError(t, sub.SubmitTask(t1))
	require.NoError(t, sub.SubmitTask(t2))

	store.Put("a", nil)
	store.Put("c", nil)
	store.Put("b", assert.AnError)

	pushed := client.Pushed()
	require.Len(t, pushed, 2)
	assert.Equal(t, int64(0), pushed[0].Request.Task.ActorCounter)
	assert.Equal(t, int64(2), pushed[1].Request.Task.ActorCounter)

	require.Len(t, fin.Outcomes, 1)
	assert.Equal(t, t1.TaskID, fin.Outcomes[0].TaskID)
	assert.Equal(t, ids.ErrorKindDependencyResolutionFailed, fin.Outcomes[0].Kind)
}

// Scenario 4: restart. Connect(A, addr1, 0); submit 0, 1 (both in flight);
// DisconnectActor(A, 1, dead=false) evicts and fails the in-flight
// callbacks with an induced error; ConnectActor(A, addr2, 1) resends 0, 1.
func TestRestartResendsInFlightTasks(t *testing.T) {
	h := newHarness()
	actorID := ids.NewActorID()
	h.sub.AddActorQueueIfNotExists(actorID)
	client1, _ := h.connect(t, actorID, 0)

	t0, t1 := task(actorID, 0), task(actorID, 1)
	require.NoError(t, h.sub.SubmitTask(t0))
	require.NoError(t, h.sub.SubmitTask(t1))
	require.Len(t, client1.Pushed(), 2)

	h.sub.DisconnectActor(actorID, 1, false, nil)

	// Both in-flight tasks evicted: the finisher sees a failure report for
	// each (immediatelyMarkObjectFail is false, actor not known dead yet).
	require.Len(t, h.finisher.Outcomes, 2)
	for _, o := range h.finisher.Outcomes {
		assert.Equal(t, ids.ErrorKindActorDied, o.Kind)
	}

	workerID2 := ids.NewWorkerID()
	addr2 := ids.Address{WorkerID: workerID2, IP: "127.0.0.1", Port: 10003}
	h.sub.ConnectActor(actorID, addr2, 1)
	client2Iface, err := h.pool.GetOrConnect(addr2)
	require.NoError(t, err)
	client2 := client2Iface.(*rpcclient.FakeClient)

	pushed := client2.Pushed()
	require.Len(t, pushed, 2)
	assert.Equal(t, int64(0), pushed[0].Request.Task.ActorCounter)
	assert.Equal(t, int64(1), pushed[1].Request.Task.ActorCounter)
}

// Scenario 5: dead on arrival. Connect(A, addr1, 0); DisconnectActor(A, 1,
// dead=true, creation_exc=E); then SubmitTask(counter=0). Expected:
// PendingTaskFailed(ACTOR_DIED, E) reported, no transport call made.
func TestSubmitAgainstDeadActorFailsImmediately(t *testing.T) {
	h := newHarness()
	actorID := ids.NewActorID()
	h.sub.AddActorQueueIfNotExists(actorID)
	_, _ = h.connect(t, actorID, 0)

	creationErr := assert.AnError
	h.sub.DisconnectActor(actorID, 1, true, creationErr)

	newTask := task(actorID, 0)
	require.NoError(t, h.sub.SubmitTask(newTask))

	require.Len(t, h.finisher.Outcomes, 2)
	assert.True(t, h.finisher.Outcomes[0].Canceled)
	assert.Equal(t, newTask.TaskID, h.finisher.Outcomes[1].TaskID)
	assert.Equal(t, ids.ErrorKindActorDied, h.finisher.Outcomes[1].Kind)
}

// Scenario 6: force-kill coalescing. KillActor(A, force=false,
// no_restart=false); KillActor(A, force=true, no_restart=true). When the
// rpc client becomes available, a single KillActor RPC is issued with
// force=true, no_restart=true.
func TestForceKillCoalescesBeforeConnect(t *testing.T) {
	h := newHarness()
	actorID := ids.NewActorID()
	h.sub.AddActorQueueIfNotExists(actorID)

	h.sub.KillActor(actorID, false, false)
	h.sub.KillActor(actorID, true, true)

	client, _ := h.connect(t, actorID, 0)

	killed := client.Killed()
	require.Len(t, killed, 1)
	assert.True(t, killed[0].ForceKill)
	assert.True(t, killed[0].NoRestart)
}

// Downgrade is never applied: a later non-forceful KillActor must not
// clear an already-coalesced force_kill=true.
func TestForceKillNeverDowngrades(t *testing.T) {
	h := newHarness()
	actorID := ids.NewActorID()
	h.sub.AddActorQueueIfNotExists(actorID)

	h.sub.KillActor(actorID, true, true)
	h.sub.KillActor(actorID, false, false)

	client, _ := h.connect(t, actorID, 0)

	killed := client.Killed()
	require.Len(t, killed, 1)
	assert.True(t, killed[0].ForceKill)
	assert.True(t, killed[0].NoRestart)
}

// CheckTimeoutTasks fails a network-failed task once its death-info
// deadline elapses, even without a definitive DisconnectActor(dead=true).
func TestCheckTimeoutTasksFailsExpiredDeathInfoEntries(t *testing.T) {
	h := newHarness()
	actorID := ids.NewActorID()
	h.sub.AddActorQueueIfNotExists(actorID)
	client, _ := h.connect(t, actorID, 0)

	t0 := task(actorID, 0)
	require.NoError(t, h.sub.SubmitTask(t0))
	require.Len(t, client.Pushed(), 1)

	client.Fail(t0.TaskID, nil)

	// Failure without a definitive death leaves the task parked, waiting.
	require.Len(t, h.finisher.Outcomes, 1)
	assert.Equal(t, ids.ErrorKindActorDied, h.finisher.Outcomes[0].Kind)

	h.clock.Set(config.DefaultConfig().TimeoutMsTaskWaitForDeathInfo + 1)
	h.sub.CheckTimeoutTasks()

	require.Len(t, h.finisher.Outcomes, 2)
	assert.Equal(t, t0.TaskID, h.finisher.Outcomes[1].TaskID)
}

// When the finisher reports will_retry=true for a push failure, the
// documented contract is that the caller resubmits via SubmitTask at the
// same actor_counter. That must not panic: the submit queue slot has to be
// reset so Emplace can re-insert it.
func TestPushFailureWithRetryAllowsResubmissionAtSameCounter(t *testing.T) {
	h := newHarness()
	actorID := ids.NewActorID()
	h.sub.AddActorQueueIfNotExists(actorID)
	client, _ := h.connect(t, actorID, 0)

	t0 := task(actorID, 0)
	require.NoError(t, h.sub.SubmitTask(t0))
	require.Len(t, client.Pushed(), 1)

	h.finisher.RetryTaskIDs[t0.TaskID] = true
	client.Fail(t0.TaskID, nil)

	// PendingTaskFailed consumed RetryTaskIDs and reported no terminal
	// outcome for this push.
	assert.Empty(t, h.finisher.Outcomes)

	// Resubmitting at the same actor_counter must succeed rather than
	// panic against a still-occupied slot.
	require.NoError(t, h.sub.SubmitTask(t0))
	require.Len(t, client.Pushed(), 2)
	assert.Equal(t, int64(0), client.Pushed()[1].Request.Task.ActorCounter)

	client.Reply(t0.TaskID, wire.PushTaskReply{})
	require.Len(t, h.finisher.Outcomes, 1)
	assert.True(t, h.finisher.Outcomes[0].Completed)
}

// A reply that arrives after a restart evicted its callback is dropped
// silently rather than double-reporting the outcome.
func TestReplyAfterRestartIsDroppedSilently(t *testing.T) {
	h := newHarness()
	actorID := ids.NewActorID()
	h.sub.AddActorQueueIfNotExists(actorID)
	client1, _ := h.connect(t, actorID, 0)

	t0 := task(actorID, 0)
	require.NoError(t, h.sub.SubmitTask(t0))
	require.Len(t, client1.Pushed(), 1)

	h.sub.DisconnectActor(actorID, 1, false, nil)
	require.Len(t, h.finisher.Outcomes, 1)

	// The stale reply from the evicted connection arrives late.
	client1.Reply(t0.TaskID, wire.PushTaskReply{})

	// No additional outcome was recorded for the stale reply.
	assert.Len(t, h.finisher.Outcomes, 1)
}
