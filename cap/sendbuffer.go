package cap

import "time"

// fragmentMessage splits msg into chunks of at most payloadMax bytes.
// Per spec, end-of-message is signaled by a final segment shorter
// than payloadMax; when msg's length is an exact multiple of
// payloadMax (including the empty message) an extra empty segment is
// appended so the short-final-segment rule always has something to
// mark completion with.
func fragmentMessage(msg []byte, payloadMax int) [][]byte {
	if payloadMax <= 0 {
		payloadMax = PayloadMaxDefault
	}
	var chunks [][]byte
	for len(msg) > 0 {
		n := payloadMax
		if n > len(msg) {
			n = len(msg)
		}
		chunks = append(chunks, msg[:n:n])
		msg = msg[n:]
	}
	if len(chunks) == 0 || len(chunks[len(chunks)-1]) == payloadMax {
		chunks = append(chunks, []byte{})
	}
	return chunks
}

// sendSlot is one in-flight, unacknowledged segment: the record the
// send buffer tracks from first transmission until its ACK arrives.
// Grounded on the reference repo's PacketInfo/ResendPackets shape
// (lib/packet.go), adapted from a seq->packet map to an ordered slice
// since CAP's sequence space is gapless per connection.
type sendSlot struct {
	seq         uint32
	payload     []byte
	final       bool // short/empty segment marking end-of-message
	firstSentAt time.Time
	lastSentAt  time.Time
	retries     int // count of retransmissions; 0 means "sent once, never resent"
	timerID     TimerID
}

// sendBuffer fragments outgoing messages, assigns sequence numbers,
// and tracks unacknowledged segments within a fixed-size window W.
// It holds no transport or timer state of its own — Connection drives
// transmission and timer arming from the slots it returns.
type sendBuffer struct {
	window     int
	payloadMax int
	sndUna     uint32
	sndNxt     uint32
	slots      []*sendSlot
	dupAcks    int // duplicate ACKs seen (ack == sndUna); counted only, never acted on
}

func newSendBuffer(window, payloadMax int, isnLocal uint32) *sendBuffer {
	return &sendBuffer{
		window:     window,
		payloadMax: payloadMax,
		sndUna:     isnLocal,
		sndNxt:     isnLocal,
	}
}

// InFlight reports the number of assigned-but-unacknowledged segments.
func (sb *sendBuffer) InFlight() int {
	return len(sb.slots)
}

// HasRoom reports whether one more segment can be admitted into the
// window right now.
func (sb *sendBuffer) HasRoom() bool {
	return sb.InFlight() < sb.window
}

// RoomFor reports whether n more segments would all fit in the
// window right now — used by sendto's non-blocking, all-or-nothing
// admission check (see DESIGN.md).
func (sb *sendBuffer) RoomFor(n int) bool {
	return sb.InFlight()+n <= sb.window
}

// EnqueueChunk assigns the next sequence number to one fragment and
// appends it as a freshly-created slot (not yet marked sent). It
// fails with WouldBlock if the window has no room.
func (sb *sendBuffer) EnqueueChunk(chunk []byte, final bool) (*sendSlot, error) {
	if !sb.HasRoom() {
		return nil, ErrWouldBlock
	}
	slot := &sendSlot{seq: sb.sndNxt, payload: chunk, final: final}
	sb.sndNxt++
	sb.slots = append(sb.slots, slot)
	return slot, nil
}

// MarkSent records a (re)transmission of slot at t.
func (sb *sendBuffer) MarkSent(slot *sendSlot, t time.Time) {
	if slot.firstSentAt.IsZero() {
		slot.firstSentAt = t
	}
	slot.lastSentAt = t
}

// ackResult reports what cumulative-ACK processing did.
type ackResult struct {
	Advanced  bool
	RTTSamples []time.Duration // one per removed slot that was never retransmitted
	Removed   []*sendSlot
}

// HandleAck processes a cumulative ACK of ack. Per spec, duplicate
// ACKs (ack == sndUna) are counted in dupAcks but trigger nothing
// else; an ACK that doesn't advance sndUna at all is ignored.
func (sb *sendBuffer) HandleAck(ack uint32, now time.Time) ackResult {
	var res ackResult
	if ack == sb.sndUna {
		sb.dupAcks++
	}
	if !seqGreater(ack, sb.sndUna) {
		return res
	}
	i := 0
	for i < len(sb.slots) && seqLess(sb.slots[i].seq, ack) {
		slot := sb.slots[i]
		if slot.retries == 0 && !slot.firstSentAt.IsZero() {
			res.RTTSamples = append(res.RTTSamples, now.Sub(slot.firstSentAt))
		}
		res.Removed = append(res.Removed, slot)
		i++
	}
	sb.slots = sb.slots[i:]
	sb.sndUna = ack
	res.Advanced = true
	return res
}

// SlotBySeq finds the in-flight slot for seq, if any — used when a
// Retransmit(seq) timer fires to check the slot is still outstanding.
func (sb *sendBuffer) SlotBySeq(seq uint32) (*sendSlot, bool) {
	for _, s := range sb.slots {
		if s.seq == seq {
			return s, true
		}
	}
	return nil, false
}
