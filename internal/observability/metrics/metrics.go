package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Import pipeline counters. Exposed on /metrics by the serve command; batch
// commands still increment them so a scrape during a long import sees progress.
var (
	HierarchyRowsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medtrack",
		Subsystem: "bnf",
		Name:      "rows_fetched_total",
		Help:      "Rows fetched from the NHSBSA datastore API.",
	})
	HierarchyEntriesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medtrack",
		Subsystem: "bnf",
		Name:      "entries_created_total",
		Help:      "BNF hierarchy entries created by the hierarchy importer.",
	})
	PricingRowsImported = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medtrack",
		Subsystem: "emit",
		Name:      "rows_imported_total",
		Help:      "Price observations recorded by the pricing importer.",
	})
	PricingRowsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medtrack",
		Subsystem: "emit",
		Name:      "rows_skipped_total",
		Help:      "Pricing rows skipped for missing mandatory fields.",
	})
	ProductsReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medtrack",
		Subsystem: "reconcile",
		Name:      "products_matched_total",
		Help:      "Products re-pointed from placeholder to authoritative BNF entries.",
	})
)
