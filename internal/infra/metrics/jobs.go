package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(jobsSubmittedTotal, jobsReconciledTotal, postDispatchFailuresTotal, staleJobsSweptTotal)
}

var jobsSubmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "prediction_jobs_submitted_total",
		Help: "Job submissions by outcome.",
	},
	[]string{"task_type", "outcome"}, // 'accepted', 'insufficient_credits', 'dispatch_failed', ...
)

var jobsReconciledTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "prediction_jobs_reconciled_total",
		Help: "Job state transitions applied by reconciliation, labeled by resulting status and source.",
	},
	[]string{"status", "source"}, // source: 'webhook', 'poll', 'sweeper'
)

var postDispatchFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "prediction_post_dispatch_failures_total",
		Help: "Predictions accepted by the provider whose job row could not be recorded.",
	},
)

var staleJobsSweptTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "prediction_stale_jobs_swept_total",
		Help: "Stale jobs examined by the sweeper, by outcome.",
	},
	[]string{"outcome"}, // 'applied', 'still_running', 'error', 'skipped'
)

func IncJobSubmitted(taskType, outcome string) {
	jobsSubmittedTotal.WithLabelValues(norm(taskType), norm(outcome)).Inc()
}

func IncJobReconciled(status, source string) {
	jobsReconciledTotal.WithLabelValues(norm(status), norm(source)).Inc()
}

func IncPostDispatchFailure() {
	postDispatchFailuresTotal.Inc()
}

func IncStaleJobSwept(outcome string) {
	staleJobsSweptTotal.WithLabelValues(norm(outcome)).Inc()
}
