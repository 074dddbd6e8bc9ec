package cap

import (
	"testing"
	"time"
)

func TestTimerSchedulerFiresInOrder(t *testing.T) {
	s := NewTimerScheduler()
	base := time.Unix(0, 0)
	s.now = func() time.Time { return base }

	idA := s.Arm(TimerRetransmit, 1, 30*time.Millisecond)
	idB := s.Arm(TimerRetransmit, 2, 10*time.Millisecond)
	_ = idA

	fired := s.PollExpired(base.Add(5 * time.Millisecond))
	if len(fired) != 0 {
		t.Fatalf("expected nothing fired yet, got %v", fired)
	}

	fired = s.PollExpired(base.Add(15 * time.Millisecond))
	if len(fired) != 1 || fired[0].ID != idB || fired[0].Payload != 2 {
		t.Fatalf("expected only idB fired, got %v", fired)
	}

	fired = s.PollExpired(base.Add(35 * time.Millisecond))
	if len(fired) != 1 || fired[0].ID != idA {
		t.Fatalf("expected idA fired, got %v", fired)
	}
}

func TestTimerCancelTombstone(t *testing.T) {
	s := NewTimerScheduler()
	base := time.Unix(0, 0)
	s.now = func() time.Time { return base }

	id := s.Arm(TimerHandshakeRetry, 0, 10*time.Millisecond)
	s.Cancel(id)

	fired := s.PollExpired(base.Add(20 * time.Millisecond))
	if len(fired) != 0 {
		t.Fatalf("expected cancelled timer not to fire, got %v", fired)
	}
	if s.Len() != 0 {
		t.Fatalf("expected no live timers, got %d", s.Len())
	}
}

func TestTimerNextDeadlineSkipsTombstones(t *testing.T) {
	s := NewTimerScheduler()
	base := time.Unix(0, 0)
	s.now = func() time.Time { return base }

	id1 := s.Arm(TimerRetransmit, 1, 5*time.Millisecond)
	s.Arm(TimerRetransmit, 2, 20*time.Millisecond)
	s.Cancel(id1)

	d, ok := s.NextDeadline()
	if !ok {
		t.Fatal("expected a pending deadline")
	}
	if !d.Equal(base.Add(20 * time.Millisecond)) {
		t.Errorf("expected next deadline to skip cancelled timer, got %v", d)
	}
}
