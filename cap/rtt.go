package cap

import "time"

// Karn+Jacobson RTT estimator constants, per spec.
const (
	rttAlpha = 0.125 // SRTT weight
	rttBeta  = 0.25  // RTTVAR weight
	rttK     = 4
	rttG     = 10 * time.Millisecond

	RTOMinDefault     = 200 * time.Millisecond
	RTOMaxDefault     = 60 * time.Second
	RTOInitialDefault = 1 * time.Second
)

// RTTEstimator tracks smoothed RTT and the derived retransmission
// timeout for one connection, following Karn's rule: callers must
// only feed Sample() with measurements taken on segments that were
// never retransmitted.
type RTTEstimator struct {
	srtt    time.Duration
	srttSet bool
	rttvar  time.Duration
	rto     time.Duration
	rtoMin  time.Duration
	rtoMax  time.Duration
}

// NewRTTEstimator creates an estimator seeded with the given initial
// RTO and clamp bounds (SO_RTO_INITIAL/SO_RTO_MIN/SO_RTO_MAX).
func NewRTTEstimator(initialRTO, rtoMin, rtoMax time.Duration) *RTTEstimator {
	return &RTTEstimator{
		rto:    initialRTO,
		rtoMin: rtoMin,
		rtoMax: rtoMax,
	}
}

// Sample folds in one unambiguous RTT measurement R and recomputes
// RTO. Call only for segments with zero retries (Karn's rule).
func (e *RTTEstimator) Sample(r time.Duration) {
	if !e.srttSet {
		e.srtt = r
		e.rttvar = r / 2
		e.srttSet = true
	} else {
		delta := e.srtt - r
		if delta < 0 {
			delta = -delta
		}
		e.rttvar = e.rttvar - e.rttvar/4 + delta/4 // (1-beta)*rttvar + beta*|srtt-R|
		e.srtt = e.srtt - e.srtt/8 + r/8           // (1-alpha)*srtt + alpha*R
	}
	e.rto = e.clamp(e.srtt + max(rttG, rttK*e.rttvar))
}

// Backoff doubles the current RTO on a retransmission timeout,
// clamped to RTOMax, until the next unambiguous sample re-seeds it.
func (e *RTTEstimator) Backoff() time.Duration {
	e.rto = e.clamp(e.rto * 2)
	return e.rto
}

// RTO returns the current retransmission timeout.
func (e *RTTEstimator) RTO() time.Duration {
	return e.rto
}

func (e *RTTEstimator) clamp(d time.Duration) time.Duration {
	if d < e.rtoMin {
		return e.rtoMin
	}
	if d > e.rtoMax {
		return e.rtoMax
	}
	return d
}
