package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "yoyaku"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_transitions_total",
			Help:      "Reservation lifecycle operations by kind and result.",
		},
		[]string{"op", "result"},
	)

	sideEffects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effects_total",
			Help:      "Side effect attempts by effect and result (ok, failed, skipped).",
		},
		[]string{"effect", "result"},
	)

	workerTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_tasks_total",
			Help:      "Outbox tasks processed by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, sideEffects, workerTasks)
	})
}

func IncHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}

// IncTransition counts a create/confirm/deny call. result is "ok" or the
// error code of the failure.
func IncTransition(op, result string) {
	transitions.WithLabelValues(op, result).Inc()
}

func IncSideEffect(effect, result string) {
	sideEffects.WithLabelValues(effect, result).Inc()
}

func IncWorkerTask(taskType, outcome string) {
	workerTasks.WithLabelValues(taskType, outcome).Inc()
}
