// Package dependency provides the DependencyResolver the submitter hands
// each task to before staging it for send. The dependency resolver that
// waits for object arguments to materialize is an external collaborator,
// out of scope for the core; this package supplies the interface the core
// consumes plus a workable default implementation so the module is
// runnable end to end without a real object store.
package dependency

import (
	"sync"

	"github.com/Actexpler/ray/internal/wire"
)

// Status is the outcome of resolving a task's dependencies.
type Status struct {
	OK  bool
	Err error
}

// OKStatus is a convenience constructor for a successful resolution.
func OKStatus() Status { return Status{OK: true} }

// FailedStatus is a convenience constructor for a failed resolution.
func FailedStatus(err error) Status { return Status{OK: false, Err: err} }

// Resolver resolves a task's object-argument dependencies and invokes the
// completion callback exactly once. The callback may fire synchronously, on
// the calling goroutine's stack, so callers (the submitter) must not hold
// their own lock across the call to ResolveDependencies.
type Resolver interface {
	ResolveDependencies(task wire.TaskSpec, onComplete func(Status))
}

// Immediate resolves every task successfully, synchronously, on the calling
// goroutine. Useful for tests and for tasks with no object-argument
// dependencies.
type Immediate struct{}

// ResolveDependencies implements Resolver.
func (Immediate) ResolveDependencies(_ wire.TaskSpec, onComplete func(Status)) {
	onComplete(OKStatus())
}

// ObjectStore is a minimal in-memory stand-in for Ray's distributed object
// store: dependencies are named keys that become "ready" (or failed)
// independently of task submission order, and ResolveDependencies blocks a
// task's callback until every key it lists is settled.
type ObjectStore struct {
	mu      sync.Mutex
	ready   map[string]error // nil error = resolved ok; non-nil = failed
	waiters map[string][]func(error)
}

// NewObjectStore returns an empty object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		ready:   make(map[string]error),
		waiters: make(map[string][]func(error)),
	}
}

// Put marks a key resolved, with err nil for success. Any waiters registered
// for this key are notified synchronously, on the caller's goroutine: the
// same re-entrancy hazard ResolveDependencies documents.
func (s *ObjectStore) Put(key string, err error) {
	s.mu.Lock()
	s.ready[key] = err
	waiters := s.waiters[key]
	delete(s.waiters, key)
	s.mu.Unlock()

	for _, w := range waiters {
		w(err)
	}
}

// await registers a callback for key, firing it synchronously if the key is
// already settled.
func (s *ObjectStore) await(key string, cb func(error)) {
	s.mu.Lock()
	if err, ok := s.ready[key]; ok {
		s.mu.Unlock()
		cb(err)
		return
	}
	s.waiters[key] = append(s.waiters[key], cb)
	s.mu.Unlock()
}

// ObjectStoreResolver resolves a task's dependency keys (carried in
// TaskSpec.Args as a newline-separated list, for this reference
// implementation) against an ObjectStore.
type ObjectStoreResolver struct {
	Store *ObjectStore
}

// NewObjectStoreResolver wraps an ObjectStore as a Resolver.
func NewObjectStoreResolver(store *ObjectStore) *ObjectStoreResolver {
	return &ObjectStoreResolver{Store: store}
}

// ResolveDependencies implements Resolver. A task with no dependency keys
// resolves immediately and synchronously.
func (r *ObjectStoreResolver) ResolveDependencies(task wire.TaskSpec, onComplete func(Status)) {
	keys := dependencyKeys(task)
	if len(keys) == 0 {
		onComplete(OKStatus())
		return
	}

	var (
		mu      sync.Mutex
		pending = len(keys)
		failed  error
		done    bool
	)
	for _, key := range keys {
		key := key
		r.Store.await(key, func(err error) {
			mu.Lock()
			defer mu.Unlock()
			if done {
				return
			}
			pending--
			if err != nil && failed == nil {
				failed = err
			}
			if pending == 0 {
				done = true
				if failed != nil {
					onComplete(FailedStatus(failed))
				} else {
					onComplete(OKStatus())
				}
			}
		})
	}
}

func dependencyKeys(task wire.TaskSpec) []string {
	if len(task.Args) == 0 {
		return nil
	}
	var keys []string
	start := 0
	for i, b := range task.Args {
		if b == '\n' {
			if i > start {
				keys = append(keys, string(task.Args[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(task.Args) {
		keys = append(keys, string(task.Args[start:]))
	}
	return keys
}
