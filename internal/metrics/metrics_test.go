package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestBlocksAdvancedTotalIncrements(t *testing.T) {
	before := counterValue(t, BlocksAdvancedTotal)
	BlocksAdvancedTotal.Inc()
	after := counterValue(t, BlocksAdvancedTotal)
	if after != before+1 {
		t.Errorf("BlocksAdvancedTotal = %v, want %v", after, before+1)
	}
}

func TestIndexedHeightSet(t *testing.T) {
	IndexedHeight.Set(42)
	m := &dto.Metric{}
	if err := IndexedHeight.Write(m); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 42 {
		t.Errorf("IndexedHeight = %v, want 42", got)
	}
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}
