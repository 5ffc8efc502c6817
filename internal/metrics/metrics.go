package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "studio"

// ─── Ledger ─────────────────────────────────────────────────────────────────

// LedgerAppends counts ledger appends by entry kind.
var LedgerAppends = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "appends_total",
	Help:      "Ledger entries appended, by entry kind.",
}, []string{"kind"})

// LedgerConflicts counts optimistic-concurrency rejections.
var LedgerConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "conflicts_total",
	Help:      "Appends rejected because the balance-before snapshot was stale.",
})

// LedgerRetries counts transaction retries after a conflict.
var LedgerRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "retries_total",
	Help:      "Transactions retried after a concurrent modification.",
})

// ─── Prepaid balances ───────────────────────────────────────────────────────

var CreditConsumptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "credits",
	Name:      "consumptions_total",
	Help:      "Credit consumption attempts, by result.",
}, []string{"result"})

var GiftCardRedemptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "gift_cards",
	Name:      "redemptions_total",
	Help:      "Gift card redemption attempts, by result.",
}, []string{"result"})

var BreakageRecognized = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "gift_cards",
	Name:      "breakage_minor_units_total",
	Help:      "Expired gift card balance recognized as revenue, in minor units.",
}, []string{"currency"})

// ─── Cash drawers ───────────────────────────────────────────────────────────

var DrawerVariances = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "cash_drawer",
	Name:      "variances_total",
	Help:      "Drawer counts closed with a non-zero variance.",
})

var OpenDrawerSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "cash_drawer",
	Name:      "open_sessions",
	Help:      "Drawer sessions opened minus sessions closed since start.",
})

// ─── Reconciliation ─────────────────────────────────────────────────────────

var ReconciliationMatches = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reconciliation",
	Name:      "match_results_total",
	Help:      "Match results written, by status.",
}, []string{"status"})

var ReconciliationRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "reconciliation",
	Name:      "run_duration_seconds",
	Help:      "Duration of reconciliation runs.",
	Buckets:   prometheus.DefBuckets,
})

var ReviewQueuePushes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "review",
	Name:      "queued_total",
	Help:      "Items queued for manual review, by kind.",
}, []string{"kind"})
