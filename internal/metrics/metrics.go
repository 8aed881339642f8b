package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "binlogha"

var (
	// ReplicaStatus is 0 for UNKNOWN, 1 for MASTER and 2 for SLAVE.
	ReplicaStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "arbiter",
		Name:      "replica_status",
		Help:      "Current replica status of this node",
	})

	TransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "arbiter",
		Name:      "transitions_total",
		Help:      "Transition attempts by target status and result",
	}, []string{"target", "result"})

	HeartbeatsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "heartbeat",
		Name:      "exchanges_total",
		Help:      "Heartbeat exchanges by direction and response kind",
	}, []string{"direction", "kind"})

	FailoversTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "heartbeat",
		Name:      "failovers_total",
		Help:      "Takeover attempts by result",
	}, []string{"result"})

	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "events_total",
		Help:      "Binlog events consumed by type",
	}, []string{"type"})

	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "records_total",
		Help:      "Row events by outcome",
	}, []string{"outcome"})

	CheckpointErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkpoint",
		Name:      "save_errors_total",
		Help:      "Failed checkpoint saves",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		ReplicaStatus,
		TransitionsTotal,
		HeartbeatsTotal,
		FailoversTotal,
		EventsTotal,
		DispatchTotal,
		CheckpointErrorsTotal,
	)
}
