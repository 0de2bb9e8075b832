package rpcclient

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/Actexpler/ray/internal/wire"
	"github.com/Actexpler/ray/pkg/ids"
)

// PushRecord captures one PushActorTask call observed by a FakeClient,
// recorded in call order. This is what scenario tests assert against to
// verify the submitter's send-order invariant.
type PushRecord struct {
	Request   wire.PushTaskRequest
	SkipQueue bool
}

// FakeClient is a deterministic, in-memory Client for tests: it records
// every PushActorTask/KillActor call and only replies when the test tells
// it to, via Reply/Fail. This mirrors the hand-rolled test-double style of
// determined-ai/determined/master/pkg/actor/system_test.go's mockActor
// rather than pulling in a mocking framework.
type FakeClient struct {
	mu sync.Mutex

	addr          ids.Address
	processedUpTo int64
	closed        bool

	pushed  []PushRecord
	pending map[ids.TaskID]ReplyCallback
	killed  []wire.KillActorRequest
	killCBs []ReplyCallback
}

// NewFakeClient returns a FakeClient connected to addr.
func NewFakeClient(addr ids.Address) *FakeClient {
	return &FakeClient{
		addr:    addr,
		pending: make(map[ids.TaskID]ReplyCallback),
	}
}

// Addr implements Client.
func (c *FakeClient) Addr() ids.Address {
	return c.addr
}

// PushActorTask implements Client.
func (c *FakeClient) PushActorTask(req wire.PushTaskRequest, skipQueue bool, cb ReplyCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushed = append(c.pushed, PushRecord{Request: req, SkipQueue: skipQueue})
	if cb != nil {
		c.pending[req.Task.TaskID] = cb
	}
}

// KillActor implements Client.
func (c *FakeClient) KillActor(req wire.KillActorRequest, cb ReplyCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killed = append(c.killed, req)
	c.killCBs = append(c.killCBs, cb)
}

// ClientProcessedUpToSeqno implements Client.
func (c *FakeClient) ClientProcessedUpToSeqno() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processedUpTo
}

// SetProcessedUpToSeqno lets a test drive the excess-queueing heuristic.
func (c *FakeClient) SetProcessedUpToSeqno(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processedUpTo = n
}

// Close implements Client.
func (c *FakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *FakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Pushed returns a snapshot of every PushActorTask call observed so far, in
// order.
func (c *FakeClient) Pushed() []PushRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PushRecord, len(c.pushed))
	copy(out, c.pushed)
	return out
}

// Killed returns a snapshot of every KillActor request observed so far.
func (c *FakeClient) Killed() []wire.KillActorRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.KillActorRequest, len(c.killed))
	copy(out, c.killed)
	return out
}

// Reply completes the push for taskID successfully.
func (c *FakeClient) Reply(taskID ids.TaskID, reply wire.PushTaskReply) {
	c.fire(taskID, nil, reply)
}

// Fail completes the push for taskID with a network/remote error.
func (c *FakeClient) Fail(taskID ids.TaskID, err error) {
	if err == nil {
		err = errors.New("fake transport error")
	}
	c.fire(taskID, err, wire.PushTaskReply{})
}

func (c *FakeClient) fire(taskID ids.TaskID, err error, reply wire.PushTaskReply) {
	c.mu.Lock()
	cb, ok := c.pending[taskID]
	if ok {
		delete(c.pending, taskID)
	}
	c.mu.Unlock()
	if ok && cb != nil {
		cb(err, reply)
	}
}

// Pending reports whether a reply is still outstanding for taskID.
func (c *FakeClient) Pending(taskID ids.TaskID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[taskID]
	return ok
}

// FakePool is a Pool backed by FakeClients, one per worker id, created on
// the first GetOrConnect for that worker; tests call GetOrConnect with the
// same address to get the instance back and manipulate it.
type FakePool struct {
	mu      sync.Mutex
	clients map[ids.WorkerID]*FakeClient
	dialed  map[ids.WorkerID]int
}

// NewFakePool returns an empty FakePool.
func NewFakePool() *FakePool {
	return &FakePool{
		clients: make(map[ids.WorkerID]*FakeClient),
		dialed:  make(map[ids.WorkerID]int),
	}
}

// GetOrConnect implements Pool.
func (p *FakePool) GetOrConnect(addr ids.Address) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[addr.WorkerID]
	if !ok {
		c = NewFakeClient(addr)
		p.clients[addr.WorkerID] = c
	}
	p.dialed[addr.WorkerID]++
	return c, nil
}

// Disconnect implements Pool.
func (p *FakePool) Disconnect(workerID ids.WorkerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[workerID]; ok {
		_ = c.Close()
		delete(p.clients, workerID)
	}
}

// DialCount reports how many times GetOrConnect was called for workerID,
// including calls that returned an existing client.
func (p *FakePool) DialCount(workerID ids.WorkerID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dialed[workerID]
}
