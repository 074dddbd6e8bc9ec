package cap

// recvBuffer tracks the receiver's in-order cursor and reassembles a
// message from a run of DATA segments. Per spec the receiver accepts
// in-order segments only: anything out-of-order or duplicate is
// dropped, never buffered, mirroring the reference implementation's
// tcp_receiver.py rather than the reference repo's PacketGapMap (which
// this minimal profile deliberately forgoes — see DESIGN.md).
type recvBuffer struct {
	rcvNxt uint32
	assembling []byte // bytes accumulated for the message currently in progress
}

func newRecvBuffer(isnPeer uint32) *recvBuffer {
	return &recvBuffer{rcvNxt: isnPeer}
}

// recvOutcome reports what accepting (or rejecting) one DATA segment did.
type recvOutcome struct {
	Accepted  bool   // false: segment was a duplicate or out-of-order and was dropped
	Message   []byte // non-nil when a complete message was just reassembled
	AckToSend uint32 // the cumulative ACK value to send in response, regardless of Accepted
}

// Accept processes one inbound DATA segment's seq and payload.
//
// A segment with seq == rcvNxt extends the in-progress message and
// advances rcvNxt by one. A short segment (len(payload) < payloadMax)
// completes the message and hands it back in Message. Any other seq
// (seq < rcvNxt: duplicate; seq > rcvNxt: out-of-order) is dropped and
// answered with the unchanged cumulative ACK.
func (rb *recvBuffer) Accept(seq uint32, payload []byte, payloadMax int) recvOutcome {
	if seq != rb.rcvNxt {
		return recvOutcome{Accepted: false, AckToSend: rb.rcvNxt}
	}
	rb.assembling = append(rb.assembling, payload...)
	rb.rcvNxt++
	out := recvOutcome{Accepted: true, AckToSend: rb.rcvNxt}
	if len(payload) < payloadMax {
		out.Message = rb.assembling
		if out.Message == nil {
			out.Message = []byte{} // an empty message is still a complete one
		}
		rb.assembling = nil
	}
	return out
}
