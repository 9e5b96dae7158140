package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewJobMetrics(reg)
	job := "catalog_sync"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "job_success", "job", job); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "job_failure", "job", job); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}

	if findMetricFamily(mfs, "job_last_success_timestamp_seconds") == nil {
		t.Fatalf("expected last success gauge")
	}
}

func TestResetMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewResetMetrics(reg)
	metrics.IncProduct(OutcomeCompleted)
	metrics.IncProduct(OutcomeFailed)
	metrics.IncProduct(OutcomeFailed)
	metrics.IncVariant(VariantRecreated)
	metrics.IncUnrestored()
	metrics.IncRestored()
	metrics.IncRestored()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "reset_products_total", "outcome", OutcomeFailed); err != nil || got != 2 {
		t.Fatalf("expected failed=2, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "reset_variants_total", "result", VariantRecreated); err != nil || got != 1 {
		t.Fatalf("expected recreated=1, got %f err=%v", got, err)
	}
	if got := fetchPlainCounter(mfs, "reset_inventory_unrestored_total"); got != 1 {
		t.Fatalf("expected unrestored=1, got %f", got)
	}
	if got := fetchPlainCounter(mfs, "reset_inventory_restored_total"); got != 2 {
		t.Fatalf("expected restored=2, got %f", got)
	}
}

func TestTransportMetricsCountsRetries(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewTransportMetrics(reg)
	metrics.IncRetry("429")
	metrics.IncRetry("")
	metrics.ObserveResponse("GET", 200)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "shopify_http_retries_total", "reason", "429"); err != nil || got != 1 {
		t.Fatalf("expected 429 retries=1, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "shopify_http_retries_total", "reason", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected empty reason to normalize, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "shopify_http_responses_total", "code", "200"); err != nil || got != 1 {
		t.Fatalf("expected one 200 response, got %f err=%v", got, err)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var jobs *JobMetrics
	jobs.IncSuccess("x")
	var reset *ResetMetrics
	reset.IncProduct(OutcomeCompleted)
	reset.IncUnrestored()
	var transport *TransportMetrics
	transport.IncRetry("503")

	unregistered := NewResetMetrics(nil)
	unregistered.IncVariant(VariantDeleted)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchPlainCounter(mfs []*dto.MetricFamily, name string) float64 {
	mf := findMetricFamily(mfs, name)
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0
	}
	return mf.GetMetric()[0].GetCounter().GetValue()
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
