package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed delivery attempts",
		},
	)

	FallbackSends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_fallback_sends_total",
			Help: "Total sends that went through the fallback sender",
		},
	)

	JobsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_jobs_enqueued_total",
			Help: "Total jobs added to the delivery queue",
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(FallbackSends)
	prometheus.MustRegister(JobsEnqueued)
}
