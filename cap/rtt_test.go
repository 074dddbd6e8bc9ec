package cap

import (
	"testing"
	"time"
)

func TestRTTEstimatorFirstSample(t *testing.T) {
	e := NewRTTEstimator(RTOInitialDefault, RTOMinDefault, RTOMaxDefault)
	e.Sample(100 * time.Millisecond)
	wantRTO := 100*time.Millisecond + rttK*(50*time.Millisecond)
	if e.RTO() != wantRTO {
		t.Errorf("RTO after first sample = %v, want %v", e.RTO(), wantRTO)
	}
}

func TestRTTEstimatorClampsToMin(t *testing.T) {
	e := NewRTTEstimator(RTOInitialDefault, RTOMinDefault, RTOMaxDefault)
	e.Sample(1 * time.Millisecond)
	if e.RTO() < RTOMinDefault {
		t.Errorf("RTO %v below floor %v", e.RTO(), RTOMinDefault)
	}
}

func TestRTTEstimatorBackoffDoublesAndClamps(t *testing.T) {
	e := NewRTTEstimator(1*time.Second, RTOMinDefault, RTOMaxDefault)
	prev := e.RTO()
	for i := 0; i < 10; i++ {
		next := e.Backoff()
		if next < prev {
			t.Fatalf("backoff should never shrink RTO: %v -> %v", prev, next)
		}
		if next > RTOMaxDefault {
			t.Fatalf("backoff exceeded RTOMax: %v", next)
		}
		prev = next
	}
	if e.RTO() != RTOMaxDefault {
		t.Errorf("expected repeated backoff to clamp at RTOMax, got %v", e.RTO())
	}
}

func TestRTTEstimatorSubsequentSampleUsesJacobson(t *testing.T) {
	e := NewRTTEstimator(RTOInitialDefault, RTOMinDefault, RTOMaxDefault)
	e.Sample(100 * time.Millisecond)
	e.Sample(120 * time.Millisecond)
	if e.srtt <= 100*time.Millisecond || e.srtt >= 120*time.Millisecond {
		t.Errorf("srtt should move toward the new sample, got %v", e.srtt)
	}
}
