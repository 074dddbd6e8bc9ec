package cap

import (
	"fmt"
	"time"
)

// Option names setsockopt/getsockopt recognize, per spec.
type Option string

const (
	SOWindow           Option = "SO_WINDOW"
	SOPayloadMax       Option = "SO_PAYLOAD_MAX"
	SORTOInitial       Option = "SO_RTO_INITIAL"
	SORTOMin           Option = "SO_RTO_MIN"
	SORTOMax           Option = "SO_RTO_MAX"
	SOMaxRetries       Option = "SO_MAX_RETRIES"
	SOHandshakeRetries Option = "SO_HANDSHAKE_RETRIES"
	SOTimeWait         Option = "SO_TIME_WAIT"
	SONonblock         Option = "SO_NONBLOCK"
)

// WindowDefault is the default send-buffer slot count (SO_WINDOW).
const WindowDefault = 32

// MaxRetriesDefault bounds per-segment retransmissions (SO_MAX_RETRIES).
const MaxRetriesDefault = 8

// HandshakeRetriesDefault bounds SYN/FIN handshake retries.
const HandshakeRetriesDefault = 5

// TimeWaitDefault is how long the active closer lingers in TIME_WAIT.
const TimeWaitDefault = 2 * time.Second

// Options holds every tunable named in spec §6. A Socket owns one set
// per connection; setsockopt/getsockopt read and write it.
type Options struct {
	Window           int
	PayloadMax       int
	RTOInitial       time.Duration
	RTOMin           time.Duration
	RTOMax           time.Duration
	MaxRetries       int
	HandshakeRetries int
	TimeWait         time.Duration
	Nonblock         bool
}

// DefaultOptions returns the spec-mandated defaults.
func DefaultOptions() *Options {
	return &Options{
		Window:           WindowDefault,
		PayloadMax:       PayloadMaxDefault,
		RTOInitial:       RTOInitialDefault,
		RTOMin:           RTOMinDefault,
		RTOMax:           RTOMaxDefault,
		MaxRetries:       MaxRetriesDefault,
		HandshakeRetries: HandshakeRetriesDefault,
		TimeWait:         TimeWaitDefault,
		Nonblock:         false,
	}
}

// clone returns a deep-enough copy so a connection can own its own
// Options without aliasing the listener's defaults.
func (o *Options) clone() *Options {
	c := *o
	return &c
}

// Get implements getsockopt for one option name.
func (o *Options) Get(name Option) (any, error) {
	switch name {
	case SOWindow:
		return o.Window, nil
	case SOPayloadMax:
		return o.PayloadMax, nil
	case SORTOInitial:
		return o.RTOInitial, nil
	case SORTOMin:
		return o.RTOMin, nil
	case SORTOMax:
		return o.RTOMax, nil
	case SOMaxRetries:
		return o.MaxRetries, nil
	case SOHandshakeRetries:
		return o.HandshakeRetries, nil
	case SOTimeWait:
		return o.TimeWait, nil
	case SONonblock:
		return o.Nonblock, nil
	default:
		return nil, fmt.Errorf("cap: unknown socket option %q", name)
	}
}

// Set implements setsockopt for one option name. value's dynamic type
// must match the option (int for counts, time.Duration for timeouts,
// bool for SO_NONBLOCK).
func (o *Options) Set(name Option, value any) error {
	switch name {
	case SOWindow:
		o.Window = value.(int)
	case SOPayloadMax:
		o.PayloadMax = value.(int)
	case SORTOInitial:
		o.RTOInitial = value.(time.Duration)
	case SORTOMin:
		o.RTOMin = value.(time.Duration)
	case SORTOMax:
		o.RTOMax = value.(time.Duration)
	case SOMaxRetries:
		o.MaxRetries = value.(int)
	case SOHandshakeRetries:
		o.HandshakeRetries = value.(int)
	case SOTimeWait:
		o.TimeWait = value.(time.Duration)
	case SONonblock:
		o.Nonblock = value.(bool)
	default:
		return fmt.Errorf("cap: unknown socket option %q", name)
	}
	return nil
}
