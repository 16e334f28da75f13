package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.observe(StageInvoke, 500)
	w.observe(StageInvoke, 700)
	w.observe(StageInvoke, 4500)
	w.count("degraded_knowledge")
	w.count("degraded_knowledge")
	w.count("  ")

	snap := w.snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageInvoke || s.Samples != 3 {
		t.Fatalf("stage = %q samples = %d, want invoke with 3", s.Stage, s.Samples)
	}
	if s.LastMS != 4500 {
		t.Fatalf("LastMS = %.2f, want 4500", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 4500 {
		t.Fatalf("P95MS = %.2f, want (700,4500]", s.P95MS)
	}
	if s.BudgetMS != 4000 || s.Breaches != 1 {
		t.Fatalf("budget = %.0f breaches = %d, want 4000 and 1", s.BudgetMS, s.Breaches)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one indicator with count 2", snap.Indicators)
	}
}

func TestStageWindowOverwritesOldestSample(t *testing.T) {
	w := newStageWindow(2)
	w.observe(StagePersist, 10)
	w.observe(StagePersist, 20)
	w.observe(StagePersist, 30)

	s := w.snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", s.AvgMS)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	cases := []struct {
		q    float64
		want float64
	}{
		{0, 10},
		{1, 40},
		{0.5, 25},
	}
	for _, tc := range cases {
		if got := percentile(sorted, tc.q); got != tc.want {
			t.Fatalf("percentile(%v) = %v, want %v", tc.q, got, tc.want)
		}
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("percentile(nil) = %v, want 0", got)
	}
}

func TestMetricsObserveStageFeedsSnapshot(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("test_observability_%d", time.Now().UnixNano()))
	m.ObserveStage(StageAssemble, 12*time.Millisecond)
	m.ObserveIndicator("degraded_summaries")

	snap := m.SnapshotStages()
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 12 {
		t.Fatalf("Stages = %+v, want one assemble sample of 12ms", snap.Stages)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("Indicators = %+v, want one", snap.Indicators)
	}

	m.ResetStages()
	if got := len(m.SnapshotStages().Stages); got != 0 {
		t.Fatalf("len(Stages) after reset = %d, want 0", got)
	}
}
