package rpcclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Actexpler/ray/internal/wire"
	"github.com/Actexpler/ray/pkg/ids"
)

const (
	pushActorTaskMethod = "/ray.core.ActorService/PushActorTask"
	killActorMethod     = "/ray.core.ActorService/KillActor"
)

// GRPCClient is the deployable Client: one grpc.ClientConn per worker
// address, with requests framed by the package's json codec (see
// jsoncodec.go) since no generated protobuf stubs are available for the
// core worker's actor push-task protocol in this tree.
//
// PushActorTask replies are delivered by a background goroutine per call,
// matching the async, callback-based contract the submitter's outer/inner
// callback split is built around.
type GRPCClient struct {
	addr ids.Address
	conn *grpc.ClientConn

	processedUpTo atomic.Int64

	mu     sync.Mutex
	closed bool
}

// DialGRPC connects to addr and returns a ready Client.
func DialGRPC(addr ids.Address) (*GRPCClient, error) {
	target := fmt.Sprintf("%s:%d", addr.IP, addr.Port)
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrapf(err, "dialing actor worker at %s", target)
	}
	return &GRPCClient{addr: addr, conn: conn}, nil
}

// Addr implements Client.
func (c *GRPCClient) Addr() ids.Address {
	return c.addr
}

// PushActorTask implements Client.
func (c *GRPCClient) PushActorTask(req wire.PushTaskRequest, skipQueue bool, cb ReplyCallback) {
	go func() {
		var reply wire.PushTaskReply
		ctx := context.Background()
		err := c.conn.Invoke(ctx, pushActorTaskMethod, pushEnvelope{Request: req, SkipQueue: skipQueue}, &reply,
			grpc.CallContentSubtype(jsonCodecName))
		if err == nil {
			c.advanceProcessed(req.SequenceNumber)
		} else {
			log.WithError(err).WithField("task_id", req.Task.TaskID).
				Debug("push actor task rpc failed")
		}
		if cb != nil {
			cb(err, reply)
		}
	}()
}

// KillActor implements Client. A nil callback means fire-and-forget, as
// with the original's `KillActor(request, nullptr)`: the RPC still runs on
// its own goroutine, a failure is only logged, and the reply is dropped.
func (c *GRPCClient) KillActor(req wire.KillActorRequest, cb ReplyCallback) {
	invoke := func() error {
		var reply wire.PushTaskReply
		return c.conn.Invoke(context.Background(), killActorMethod, req, &reply,
			grpc.CallContentSubtype(jsonCodecName))
	}
	if cb == nil {
		go func() {
			if err := invoke(); err != nil {
				log.WithError(err).WithField("actor_id", req.IntendedActorID).
					Debug("kill actor rpc failed")
			}
		}()
		return
	}
	go func() {
		err := invoke()
		cb(err, wire.PushTaskReply{})
	}()
}

// ClientProcessedUpToSeqno implements Client.
func (c *GRPCClient) ClientProcessedUpToSeqno() int64 {
	return c.processedUpTo.Load()
}

func (c *GRPCClient) advanceProcessed(seqno int64) {
	for {
		cur := c.processedUpTo.Load()
		if seqno <= cur {
			return
		}
		if c.processedUpTo.CompareAndSwap(cur, seqno) {
			return
		}
	}
}

// Close implements Client.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// pushEnvelope is what actually crosses the wire for PushActorTask, so that
// skip_queue travels alongside the task instead of needing a second RPC.
type pushEnvelope struct {
	Request   wire.PushTaskRequest
	SkipQueue bool
}

// GRPCPool is a Pool that dials a fresh GRPCClient per worker address and
// shares it across callers, evicting on Disconnect. This is the submitter's
// real-world CoreWorkerClientPool: the submitter never dials directly.
type GRPCPool struct {
	mu      sync.Mutex
	clients map[ids.WorkerID]*GRPCClient
}

// NewGRPCPool returns an empty pool.
func NewGRPCPool() *GRPCPool {
	return &GRPCPool{clients: make(map[ids.WorkerID]*GRPCClient)}
}

// GetOrConnect implements Pool.
func (p *GRPCPool) GetOrConnect(addr ids.Address) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[addr.WorkerID]; ok {
		return c, nil
	}
	c, err := DialGRPC(addr)
	if err != nil {
		return nil, err
	}
	p.clients[addr.WorkerID] = c
	return c, nil
}

// Disconnect implements Pool.
func (p *GRPCPool) Disconnect(workerID ids.WorkerID) {
	p.mu.Lock()
	c, ok := p.clients[workerID]
	delete(p.clients, workerID)
	p.mu.Unlock()
	if ok {
		if err := c.Close(); err != nil {
			log.WithError(err).WithField("worker_id", workerID).Warn("closing actor worker connection")
		}
	}
}
