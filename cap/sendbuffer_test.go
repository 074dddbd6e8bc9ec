package cap

import (
	"testing"
	"time"
)

func TestFragmentMessageShortFinal(t *testing.T) {
	chunks := fragmentMessage([]byte("hello"), 3)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if string(chunks[0]) != "hel" || string(chunks[1]) != "lo" {
		t.Fatalf("unexpected chunks: %q", chunks)
	}
}

func TestFragmentMessageExactMultipleAppendsEmptyFinal(t *testing.T) {
	chunks := fragmentMessage([]byte("abcdef"), 3)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[2]) != 0 {
		t.Fatalf("final chunk should be empty, got %q", chunks[2])
	}
}

func TestFragmentMessageEmpty(t *testing.T) {
	chunks := fragmentMessage(nil, 3)
	if len(chunks) != 1 || len(chunks[0]) != 0 {
		t.Fatalf("empty message should fragment to one empty segment, got %v", chunks)
	}
}

func TestSendBufferEnqueueRespectsWindow(t *testing.T) {
	sb := newSendBuffer(2, 4, 100)
	if _, err := sb.EnqueueChunk([]byte("a"), false); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if _, err := sb.EnqueueChunk([]byte("b"), false); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	if _, err := sb.EnqueueChunk([]byte("c"), true); err != ErrWouldBlock {
		t.Fatalf("enqueue 3: got %v, want WouldBlock", err)
	}
	if sb.InFlight() != 2 {
		t.Fatalf("in-flight = %d, want 2", sb.InFlight())
	}
}

func TestSendBufferHandleAckAdvancesAndSamplesRTT(t *testing.T) {
	sb := newSendBuffer(4, 4, 100)
	t0 := time.Unix(0, 0)
	s1, _ := sb.EnqueueChunk([]byte("a"), false)
	s2, _ := sb.EnqueueChunk([]byte("b"), false)
	sb.MarkSent(s1, t0)
	sb.MarkSent(s2, t0.Add(10*time.Millisecond))

	res := sb.HandleAck(102, t0.Add(50*time.Millisecond))
	if !res.Advanced {
		t.Fatalf("ack should advance sndUna")
	}
	if len(res.Removed) != 2 {
		t.Fatalf("removed = %d, want 2", len(res.Removed))
	}
	if len(res.RTTSamples) != 2 {
		t.Fatalf("rtt samples = %d, want 2", len(res.RTTSamples))
	}
	if sb.InFlight() != 0 {
		t.Fatalf("in-flight after full ack = %d, want 0", sb.InFlight())
	}
	if sb.sndUna != 102 {
		t.Fatalf("sndUna = %d, want 102", sb.sndUna)
	}
}

func TestSendBufferHandleAckSkipsRTTForRetransmitted(t *testing.T) {
	sb := newSendBuffer(4, 4, 100)
	t0 := time.Unix(0, 0)
	s1, _ := sb.EnqueueChunk([]byte("a"), false)
	sb.MarkSent(s1, t0)
	s1.retries = 1 // Karn's rule: this slot was retransmitted

	res := sb.HandleAck(101, t0.Add(time.Second))
	if len(res.RTTSamples) != 0 {
		t.Fatalf("expected no RTT samples for retransmitted slot, got %d", len(res.RTTSamples))
	}
}

func TestSendBufferHandleAckDuplicateIsNoop(t *testing.T) {
	sb := newSendBuffer(4, 4, 100)
	s1, _ := sb.EnqueueChunk([]byte("a"), false)
	sb.MarkSent(s1, time.Unix(0, 0))
	sb.HandleAck(101, time.Unix(1, 0))

	res := sb.HandleAck(101, time.Unix(2, 0))
	if res.Advanced {
		t.Fatalf("duplicate ack should not advance")
	}
}

func TestSendBufferRoomFor(t *testing.T) {
	sb := newSendBuffer(3, 4, 0)
	if !sb.RoomFor(3) {
		t.Fatalf("should have room for 3 in an empty window of size 3")
	}
	if sb.RoomFor(4) {
		t.Fatalf("should not have room for 4 in a window of size 3")
	}
	sb.EnqueueChunk([]byte("x"), false)
	if sb.RoomFor(3) {
		t.Fatalf("should not have room for 3 more once 1 is in flight")
	}
}

func TestSendBufferSlotBySeq(t *testing.T) {
	sb := newSendBuffer(4, 4, 50)
	s1, _ := sb.EnqueueChunk([]byte("a"), false)
	got, ok := sb.SlotBySeq(s1.seq)
	if !ok || got != s1 {
		t.Fatalf("SlotBySeq(%d) = %v, %v", s1.seq, got, ok)
	}
	if _, ok := sb.SlotBySeq(s1.seq + 1); ok {
		t.Fatalf("SlotBySeq should miss on an unassigned seq")
	}
}
