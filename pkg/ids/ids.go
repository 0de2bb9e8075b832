// Package ids defines the opaque identifiers shared across the actor task
// submitter: actors, tasks, and the remote workers that host them.
package ids

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ActorID identifies a remote actor. It is hashable and comparable, and is
// stable across the actor's restarts.
type ActorID uuid.UUID

// String returns the canonical textual form of the id.
func (a ActorID) String() string {
	return uuid.UUID(a).String()
}

// NewActorID generates a fresh random actor id.
func NewActorID() ActorID {
	return ActorID(uuid.New())
}

// MarshalJSON implements json.Marshaler.
func (a ActorID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(a).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *ActorID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*a = ActorID(u)
	return nil
}

// TaskID identifies a single task submission, unique across all actors.
type TaskID uuid.UUID

// String returns the canonical textual form of the id.
func (t TaskID) String() string {
	return uuid.UUID(t).String()
}

// NewTaskID generates a fresh random task id.
func NewTaskID() TaskID {
	return TaskID(uuid.New())
}

// MarshalJSON implements json.Marshaler.
func (t TaskID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(t).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TaskID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*t = TaskID(u)
	return nil
}

// WorkerID identifies the concrete remote process currently hosting an
// actor. It changes on every restart.
type WorkerID uuid.UUID

// String returns the canonical textual form of the id.
func (w WorkerID) String() string {
	return uuid.UUID(w).String()
}

// NewWorkerID generates a fresh random worker id.
func NewWorkerID() WorkerID {
	return WorkerID(uuid.New())
}

// MarshalJSON implements json.Marshaler.
func (w WorkerID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(w).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *WorkerID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*w = WorkerID(u)
	return nil
}

// IsNil reports whether the worker id is the zero value, i.e. no worker is
// currently connected.
func (w WorkerID) IsNil() bool {
	return w == WorkerID{}
}

// Address is the network location of a worker hosting an actor incarnation.
type Address struct {
	WorkerID WorkerID
	IP       string
	Port     int
}

// Equal reports whether two addresses refer to the same worker endpoint.
func (a Address) Equal(o Address) bool {
	return a.WorkerID == o.WorkerID && a.IP == o.IP && a.Port == o.Port
}

// ErrorKind classifies a task failure for the benefit of the caller-facing
// TaskFinisher. It mirrors the wire-level error taxonomy the transport
// reports.
type ErrorKind int

const (
	// ErrorKindUnspecified is the zero value; never surfaced to a caller.
	ErrorKindUnspecified ErrorKind = iota
	// ErrorKindDependencyResolutionFailed reports that an object dependency
	// could not be resolved prior to submission.
	ErrorKindDependencyResolutionFailed
	// ErrorKindActorDied reports that the owning actor died, or that its
	// RPC failed in a way indistinguishable from death at submission time.
	ErrorKindActorDied
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindDependencyResolutionFailed:
		return "DEPENDENCY_RESOLUTION_FAILED"
	case ErrorKindActorDied:
		return "ACTOR_DIED"
	default:
		return "UNSPECIFIED"
	}
}
