package sentiment

import (
	"math"
	"testing"
)

func TestSmootherDisabled(t *testing.T) {
	s := NewSmoother(1, 10)
	for _, v := range []float64{10, 80, 30} {
		if got := s.Add(v); got != v {
			t.Fatalf("Add(%v) = %v with smoothing disabled", v, got)
		}
	}
}

func TestSmootherWarmupAndEMA(t *testing.T) {
	s := NewSmoother(3, 10)
	if got := s.Add(10); got != 10 {
		t.Fatalf("warmup value = %v", got)
	}
	s.Add(20)
	// первое значение EMA равно SMA первых трех
	if got := s.Add(30); math.Abs(got-20) > 1e-9 {
		t.Fatalf("first EMA = %v, want 20", got)
	}
	// k = 2/(3+1) = 0.5
	if got := s.Add(40); math.Abs(got-30) > 1e-9 {
		t.Fatalf("second EMA = %v, want 30", got)
	}
}

func TestSmootherSkipsNaNAndBoundsHistory(t *testing.T) {
	s := NewSmoother(2, 3)
	if got := s.Add(math.NaN()); !math.IsNaN(got) {
		t.Fatalf("NaN should pass through, got %v", got)
	}
	for _, v := range []float64{1, 2, 3, 4, 5} {
		s.Add(v)
	}
	h := s.History()
	if len(h) != 3 || h[0] != 3 || h[2] != 5 {
		t.Fatalf("history = %v, want [3 4 5]", h)
	}

	r := NewSmoother(2, 3)
	r.Restore([]float64{math.NaN(), 1, 2, 3, 4})
	if got := r.History(); len(got) != 3 || got[0] != 2 {
		t.Fatalf("restored history = %v", got)
	}
}

func TestSmootherPassesOutOfRangeThrough(t *testing.T) {
	s := NewSmoother(3, 30)
	for i := 0; i < 3; i++ {
		s.Add(50)
	}
	if got := s.Add(120); got != 120 {
		t.Fatalf("Add(120) = %v, want raw value", got)
	}
	if got := NewClassifier([4]float64{25, 45, 55, 75}).Classify(s.Add(-5)); !got.Flagged {
		t.Fatalf("out-of-range reading not flagged after smoothing: %+v", got)
	}
	for _, v := range s.History() {
		if v != 50 {
			t.Fatalf("history = %v, out-of-range value kept", s.History())
		}
	}
	// следующее корректное показание сглаживается только по корректной истории
	if got := s.Add(50); math.Abs(got-50) > 1e-9 {
		t.Fatalf("EMA after rejected readings = %v, want 50", got)
	}

	r := NewSmoother(2, 5)
	r.Restore([]float64{10, 150, -1, 20})
	if got := r.History(); len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Fatalf("restored history = %v", got)
	}
}
