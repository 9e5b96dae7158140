package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Product outcomes reported by the batch driver.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Per-variant results reported by the orchestrator.
const (
	VariantBackedUp    = "backed_up"
	VariantDeleted     = "deleted"
	VariantOrphaned    = "orphaned"
	VariantRecreated   = "recreated"
	VariantExcluded    = "excluded"
	VariantFailed      = "failed"
	VariantUnencoded   = "unencoded"
	VariantPlaceholder = "placeholder"
)

// ResetMetrics counts reset outcomes so operators can alert on data loss.
type ResetMetrics struct {
	products   *prometheus.CounterVec
	variants   *prometheus.CounterVec
	unrestored prometheus.Counter
	restored   prometheus.Counter
}

// NewResetMetrics registers the reset metrics on the provided registerer.
func NewResetMetrics(reg prometheus.Registerer) *ResetMetrics {
	if reg == nil {
		return &ResetMetrics{}
	}
	products := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reset_products_total",
		Help: "Products processed by the variant reset, by outcome.",
	}, []string{"outcome"})
	variants := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reset_variants_total",
		Help: "Variant level reset events, by result.",
	}, []string{"result"})
	unrestored := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reset_inventory_unrestored_total",
		Help: "Backed up inventory levels that could not be restored.",
	})
	restored := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reset_inventory_restored_total",
		Help: "Backed up inventory levels written to recreated variants.",
	})
	reg.MustRegister(products, variants, unrestored, restored)
	return &ResetMetrics{
		products:   products,
		variants:   variants,
		unrestored: unrestored,
		restored:   restored,
	}
}

func (m *ResetMetrics) IncProduct(outcome string) {
	if m == nil || m.products == nil {
		return
	}
	m.products.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *ResetMetrics) IncVariant(result string) {
	if m == nil || m.variants == nil {
		return
	}
	m.variants.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *ResetMetrics) IncUnrestored() {
	if m == nil || m.unrestored == nil {
		return
	}
	m.unrestored.Inc()
}

func (m *ResetMetrics) IncRestored() {
	if m == nil || m.restored == nil {
		return
	}
	m.restored.Inc()
}
