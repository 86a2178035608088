package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "csp_rules"

var (
	// BulkActionsTotal counts bulk actions by action and outcome
	// (success, sync_failed, unknown_rule, invalid, persistence_error).
	BulkActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bulk_actions_total",
		Help:      "Count of mute/unmute bulk actions.",
	}, []string{"action", "outcome"})

	BulkActionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "bulk_action_duration_seconds",
		Help:      "Time taken for a bulk action to complete.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action"})

	RulesUpdatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rules_updated_total",
		Help:      "Number of benchmark rule states written.",
	}, []string{"action"})

	DetectionRulesDisabledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detection_rules_disabled_total",
		Help:      "Number of external detection rules disabled.",
	})

	SyncFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detection_sync_failures_total",
		Help:      "Count of detection rule synchronization failures.",
	}, []string{"stage"})

	SettingsConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settings_write_conflicts_total",
		Help:      "Count of settings writes rejected by a version mismatch.",
	})

	CatalogRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "catalog_rules_loaded",
		Help:      "Number of benchmark rules loaded by the last catalog seed.",
	})
)
