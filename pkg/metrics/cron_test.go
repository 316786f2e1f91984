package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsSplitsResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.now = func() time.Time { return time.Unix(1_780_000_000, 0) }

	m.ObserveRun("ledger-audit", 250*time.Millisecond, nil)
	m.ObserveRun("ledger-audit", time.Second, errors.New("db down"))
	m.ObserveRun("stale-pending-report", 10*time.Millisecond, errors.New("timeout"))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	runs := findMetricFamily(mfs, "giftledger_cron_job_runs_total")
	if runs == nil {
		t.Fatal("runs counter missing")
	}
	counts := map[[2]string]float64{}
	for _, metric := range runs.GetMetric() {
		counts[[2]string{labelValue(metric, "job"), labelValue(metric, "result")}] = metric.GetCounter().GetValue()
	}
	if counts[[2]string{"ledger-audit", ResultSuccess}] != 1 || counts[[2]string{"ledger-audit", ResultFailure}] != 1 {
		t.Fatalf("unexpected ledger-audit counts %v", counts)
	}

	last := findMetricFamily(mfs, "giftledger_cron_job_last_success_timestamp_seconds")
	if last == nil || len(last.GetMetric()) != 1 {
		t.Fatal("only the job that succeeded should have a last-success sample")
	}
	if got := last.GetMetric()[0].GetGauge().GetValue(); got != 1_780_000_000 {
		t.Fatalf("last success = %f", got)
	}

	hist := findMetricFamily(mfs, "giftledger_cron_job_duration_seconds")
	if hist == nil {
		t.Fatal("duration histogram missing")
	}
	for _, metric := range hist.GetMetric() {
		if labelValue(metric, "job") == "ledger-audit" && metric.GetHistogram().GetSampleCount() != 2 {
			t.Fatalf("expected two duration samples, got %d", metric.GetHistogram().GetSampleCount())
		}
	}
}

func TestNilCronMetricsAreNoops(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveRun("x", time.Second, nil)
	NewCronJobMetrics(nil).ObserveRun("", time.Second, errors.New("x"))
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, label := range metric.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
