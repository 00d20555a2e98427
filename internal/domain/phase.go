package domain

import "fmt"

// Phase is a step in the lifecycle of a legal case.
type Phase string

const (
	PhaseIntake        Phase = "intake"
	PhaseInvestigation Phase = "investigation"
	PhaseFiling        Phase = "filing"
	PhaseDiscovery     Phase = "discovery"
	PhaseNegotiation   Phase = "negotiation"
	PhaseTrial         Phase = "trial"
	PhaseSettlement    Phase = "settlement"
	PhaseAppeal        Phase = "appeal"
	PhaseClosed        Phase = "closed"
)

// phaseOrder is the canonical lifecycle sequence.
var phaseOrder = []Phase{
	PhaseIntake,
	PhaseInvestigation,
	PhaseFiling,
	PhaseDiscovery,
	PhaseNegotiation,
	PhaseTrial,
	PhaseSettlement,
	PhaseAppeal,
	PhaseClosed,
}

// Phases returns the lifecycle phases in order.
func Phases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Index returns the position of p in the lifecycle, or -1.
func (p Phase) Index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Terminal reports whether no further phase follows p.
func (p Phase) Terminal() bool {
	return p == PhaseClosed
}

// NextPhase returns the phase that follows p.
func NextPhase(p Phase) (Phase, error) {
	idx := p.Index()
	if idx < 0 {
		return "", fmt.Errorf("%w: unknown phase %q", ErrInvalidArgument, p)
	}
	if p.Terminal() {
		return "", fmt.Errorf("%w: phase %q is terminal", ErrInvalidArgument, p)
	}
	return phaseOrder[idx+1], nil
}
