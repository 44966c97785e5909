// Package metrics declares the Prometheus collectors updated by the ledger services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

var (
	JournalsPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journals_posted_total",
			Help:      "Journals persisted, by source type",
		},
		[]string{"source_type"},
	)
	PostFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_post_failures_total",
			Help:      "Rejected or failed postings, by reason",
		},
		[]string{"reason"},
	)
	AccountsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_created_total",
			Help:      "Accounts provisioned on demand",
		},
	)
	ProvisionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_provision_conflicts_total",
			Help:      "Unique-constraint collisions recovered while provisioning accounts",
		},
	)
	ReconcileAdjustments = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_adjustments_total",
			Help:      "Register drift adjustments posted",
		},
	)
	RepairPostings = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_postings_total",
			Help:      "Missing transaction journals posted by repair",
		},
	)
	PostDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "journal_post_duration_seconds",
			Help:      "Duration of journal postings in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
