// Package optimize turns a coalesced batch of switch requests into the
// shortest command sequence for the transmitter, using the broadcast address
// when that needs fewer transmissions than addressing each changed target.
package optimize

import (
	"github.com/dokzlo13/nexad/internal/radio"
	"github.com/dokzlo13/nexad/internal/state"
)

// Strategy names the rule that produced a plan.
type Strategy string

const (
	// StrategyNone: nothing changed, nothing to send.
	StrategyNone Strategy = "none"
	// StrategyIndividual: one addressed command per changed target.
	StrategyIndividual Strategy = "individual"
	// StrategyBroadcastUnion: broadcast the unchanged targets' common state,
	// then correct the targets that want the other state.
	StrategyBroadcastUnion Strategy = "broadcast_union"
	// StrategyBroadcastInverse: broadcast the opposite of the common state,
	// then restore the targets that want the common state.
	StrategyBroadcastInverse Strategy = "broadcast_inverse"
)

// Plan is the result of optimizing one batch. NewState is the vector to
// commit once the plan is handed to the transmitter.
type Plan struct {
	Commands radio.Sequence
	NewState state.StateVector

	Altered   []radio.Address
	Unaltered []radio.Address
	// Ignored lists batch addresses that are not configured targets.
	Ignored []radio.Address

	// Union is the common state of the unaltered targets. Only meaningful
	// when Consensus is true.
	Union     bool
	Consensus bool
	Quota     float64
	Strategy  Strategy
}

// Empty reports whether the plan sends nothing.
func (p Plan) Empty() bool {
	return len(p.Commands) == 0
}

// Optimize computes the command sequence for batch given the prior state.
// prior is never modified.
func Optimize(prior state.StateVector, batch radio.Batch) Plan {
	plan := Plan{
		NewState: prior.Clone(),
		Strategy: StrategyNone,
	}

	for _, addr := range batch.Addresses() {
		if _, ok := prior[addr]; !ok {
			plan.Ignored = append(plan.Ignored, addr)
		}
	}
	for addr, on := range batch.Coalesce() {
		if _, ok := prior[addr]; ok {
			plan.NewState[addr] = radio.StateOf(on)
		}
	}

	addrs := prior.Addresses()
	for _, a := range addrs {
		if plan.NewState[a] != prior[a] {
			plan.Altered = append(plan.Altered, a)
		} else {
			plan.Unaltered = append(plan.Unaltered, a)
		}
	}

	if len(plan.Altered) == 0 {
		return plan
	}

	individual := addressed(plan.NewState, plan.Altered)

	plan.Union, plan.Consensus = unionState(prior, plan.Unaltered)
	if !plan.Consensus {
		plan.Commands = individual
		plan.Strategy = StrategyIndividual
		return plan
	}

	union := radio.StateOf(plan.Union)
	var agree, disagree []radio.Address
	for _, a := range addrs {
		if plan.NewState[a] == union {
			agree = append(agree, a)
		} else {
			disagree = append(disagree, a)
		}
	}

	agreeAmongAltered := 0
	for _, a := range plan.Altered {
		if plan.NewState[a] == union {
			agreeAmongAltered++
		}
	}
	plan.Quota = float64(agreeAmongAltered) / float64(len(plan.Altered))

	var candidate radio.Sequence
	switch {
	case plan.Quota == 0:
		plan.Commands = individual
		plan.Strategy = StrategyIndividual
		return plan
	case plan.Quota > 0.5:
		candidate = append(radio.Sequence{{Address: radio.Broadcast, On: plan.Union}}, addressed(plan.NewState, disagree)...)
		plan.Strategy = StrategyBroadcastUnion
	default:
		candidate = append(radio.Sequence{{Address: radio.Broadcast, On: !plan.Union}}, addressed(plan.NewState, agree)...)
		plan.Strategy = StrategyBroadcastInverse
	}

	// A majority broadcast is kept on a tie; an inverse broadcast must be
	// strictly shorter.
	worse := len(candidate) > len(individual)
	if plan.Strategy == StrategyBroadcastInverse {
		worse = len(candidate) >= len(individual)
	}
	if worse {
		plan.Commands = individual
		plan.Strategy = StrategyIndividual
		return plan
	}

	plan.Commands = candidate
	return plan
}

// unionState returns the state shared by every unaltered target. With no
// unaltered targets the union defaults to on. Mixed or unknown states have
// no consensus.
func unionState(prior state.StateVector, unaltered []radio.Address) (on bool, ok bool) {
	if len(unaltered) == 0 {
		return true, true
	}

	first := prior[unaltered[0]]
	if !first.Known() {
		return false, false
	}
	for _, a := range unaltered[1:] {
		if prior[a] != first {
			return false, false
		}
	}
	return first.On(), true
}

// addressed builds one command per address from its state in v.
func addressed(v state.StateVector, addrs []radio.Address) radio.Sequence {
	seq := make(radio.Sequence, 0, len(addrs))
	for _, a := range addrs {
		seq = append(seq, radio.Command{Address: a, On: v[a].On()})
	}
	return seq
}
