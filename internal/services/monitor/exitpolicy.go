// Package monitor watches open positions: a pure exit policy decides when
// to sell, per-position workers act on it and a supervisor keeps workers
// and the action ledger in sync.
package monitor

import (
	"github.com/shopspring/decimal"
)

// Verdict is what the policy tells the worker to do with the position.
type Verdict int

const (
	Hold Verdict = iota
	Sell
)

// Reasons attached to policy decisions.
const (
	ReasonNone        = "NONE"
	ReasonArmed       = "ARMED"
	ReasonNewPeak     = "NEW_PEAK"
	ReasonStopLoss    = "STOP_LOSS"
	ReasonTrailingHit = "TRAILING_HIT"
)

// Decision is the outcome of one price evaluation.
type Decision struct {
	Verdict      Verdict
	Reason       string
	Peak         decimal.Decimal
	TrailingStop decimal.Decimal
}

// ExitPolicy is the per-position trailing-stop state machine. It holds no
// clocks and no I/O; every transition is driven by Evaluate.
//
// The hard stop-loss is absolute against the real buy price and applies in
// every state. The trailing stop only exists after the price arms the
// policy by reaching buyReal*(1+takeProfit%); from then on the stop
// ratchets up with every new peak and never loosens.
type ExitPolicy struct {
	buyReal      decimal.Decimal
	armThreshold decimal.Decimal
	stopLoss     decimal.Decimal
	gapFactor    decimal.Decimal // 1 - trailingGap%/100

	armed        bool
	peak         decimal.Decimal
	trailingStop decimal.Decimal
}

// NewExitPolicy builds the policy for one position entered at buyReal.
// A non-positive take-profit arms the trailing stop immediately.
func NewExitPolicy(buyReal, takeProfitPct, trailingGapPct, stopLossPct decimal.Decimal) *ExitPolicy {
	hundred := decimal.NewFromInt(100)
	one := decimal.NewFromInt(1)

	p := &ExitPolicy{
		buyReal:      buyReal,
		armThreshold: buyReal.Mul(one.Add(takeProfitPct.Div(hundred))),
		stopLoss:     buyReal.Mul(one.Sub(stopLossPct.Div(hundred))),
		gapFactor:    one.Sub(trailingGapPct.Div(hundred)),
		armed:        takeProfitPct.LessThanOrEqual(decimal.Zero),
	}
	if p.armed {
		p.ratchet(buyReal)
	}
	return p
}

// Evaluate advances the state machine with the current price.
func (p *ExitPolicy) Evaluate(price decimal.Decimal) Decision {
	// Strictly below: a tick at exactly the floor holds. The trailing
	// boundary below is inclusive instead, matching how the stops behave
	// around their exact levels.
	if price.LessThan(p.stopLoss) {
		return p.decision(Sell, ReasonStopLoss)
	}

	if !p.armed {
		if price.GreaterThanOrEqual(p.armThreshold) {
			p.armed = true
			p.ratchet(price)
			return p.decision(Hold, ReasonArmed)
		}
		return p.decision(Hold, ReasonNone)
	}

	if price.GreaterThan(p.peak) {
		p.ratchet(price)
		return p.decision(Hold, ReasonNewPeak)
	}
	if price.LessThanOrEqual(p.trailingStop) {
		return p.decision(Sell, ReasonTrailingHit)
	}
	return p.decision(Hold, ReasonNone)
}

// Rearm anchors the trailing stop at the given price after a partial sell.
// The policy stays armed for the remainder; the hard stop-loss is untouched.
func (p *ExitPolicy) Rearm(price decimal.Decimal) {
	p.armed = true
	p.ratchet(price)
}

// Armed reports whether the trailing stop is active.
func (p *ExitPolicy) Armed() bool { return p.armed }

func (p *ExitPolicy) ratchet(price decimal.Decimal) {
	p.peak = price
	p.trailingStop = price.Mul(p.gapFactor)
}

func (p *ExitPolicy) decision(v Verdict, reason string) Decision {
	return Decision{Verdict: v, Reason: reason, Peak: p.peak, TrailingStop: p.trailingStop}
}
