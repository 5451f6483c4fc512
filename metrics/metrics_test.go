package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveExchangeIncrementsCounter(t *testing.T) {
	m := New()
	m.ObserveExchange(ResultDelivered, 2*time.Millisecond)

	got := testutil.ToFloat64(m.ExchangesTotal.WithLabelValues(string(ResultDelivered)))
	if got != 1 {
		t.Errorf("ExchangesTotal[delivered] = %v, want 1", got)
	}
}

func TestNewRegistersAllCollectors(t *testing.T) {
	m := New()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("Gather() returned no metric families, want registered collectors")
	}
}
