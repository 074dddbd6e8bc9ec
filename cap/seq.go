package cap

// Sequence-number arithmetic, wrap-aware per spec: a < b iff the
// signed 32-bit difference (a - b) is negative. All of snd_una/
// snd_nxt/rcv_nxt comparisons go through these so a wraparound at
// 2^32 never looks like a giant step backwards.

func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

func seqLessEqual(a, b uint32) bool {
	return a == b || seqLess(a, b)
}

func seqGreater(a, b uint32) bool {
	return seqLess(b, a)
}

func seqGreaterEqual(a, b uint32) bool {
	return a == b || seqGreater(a, b)
}

// seqInWindow reports whether seq lies in [base, base+size).
func seqInWindow(seq, base uint32, size uint32) bool {
	return seq-base < size
}
