package submitter

import (
	prom "github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors the registration style of
// determined-ai/determined/master/pkg/actor/prom.go: package-level vectors
// registered once in init, labeled narrowly enough not to explode
// cardinality. Here that's just actor_id; there is no per-message label
// because, unlike a generic actor mailbox, the submitter's message types
// are fixed.
const (
	promNamespace = "actortasksubmitter"
)

var (
	queueDepth = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: promNamespace,
		Name:      "submit_queue_depth",
		Help:      "number of tasks currently staged in an actor's submit queue",
	}, []string{"actor_id"})

	inflightCallbacks = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: promNamespace,
		Name:      "inflight_callbacks",
		Help:      "number of RPC replies an actor's queue is still awaiting",
	}, []string{"actor_id"})

	excessQueueingWarnings = prom.NewCounterVec(prom.CounterOpts{
		Namespace: promNamespace,
		Name:      "excess_queueing_warnings_total",
		Help:      "number of times the excess-queueing warning threshold fired",
	}, []string{"actor_id"})

	forceKillsSent = prom.NewCounterVec(prom.CounterOpts{
		Namespace: promNamespace,
		Name:      "force_kills_sent_total",
		Help:      "number of coalesced KillActor RPCs actually issued",
	}, []string{"actor_id"})

	callerCreationTimestamp = prom.NewGauge(prom.GaugeOpts{
		Namespace: promNamespace,
		Name:      "caller_creation_timestamp_seconds",
		Help:      "unix timestamp recorded via SetCallerCreationTimestamp",
	})
)

func init() {
	prom.MustRegister(queueDepth, inflightCallbacks, excessQueueingWarnings, forceKillsSent, callerCreationTimestamp)
}
