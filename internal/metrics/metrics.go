// Package metrics defines the Prometheus collectors shared across subsystems.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HubDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetcharr_hub_drop_total",
		Help: "Notification tokens dropped because a subscriber queue was full",
	}, []string{"topic"})

	HubSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fetcharr_hub_subscribers",
		Help: "Current number of subscribers per topic",
	}, []string{"topic"})

	TasksLeasedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetcharr_tasks_leased_total",
		Help: "Tasks leased by the dispatcher",
	}, []string{"type"})

	TasksCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetcharr_tasks_completed_total",
		Help: "Tasks finished, by type and outcome",
	}, []string{"type", "outcome"})

	RunningWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fetcharr_running_workers",
		Help: "Tasks currently executing per worker pool",
	}, []string{"type"})

	BackendInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetcharr_backend_invocations_total",
		Help: "Media backend invocations, by operation and outcome",
	}, []string{"op", "outcome"})

	NotifierErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetcharr_notifier_errors_total",
		Help: "Best-effort notifier delivery failures",
	}, []string{"notifier"})
)

// IncHubDrop records a dropped notification token for the given topic.
func IncHubDrop(topic string) {
	if topic == "" {
		topic = "unknown"
	}
	HubDropsTotal.WithLabelValues(topic).Inc()
}
