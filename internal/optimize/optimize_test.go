package optimize

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/nexad/internal/radio"
	"github.com/dokzlo13/nexad/internal/state"
)

const (
	on  = radio.StateOn
	off = radio.StateOff
	unk = radio.StateUnknown
)

func vector(states ...radio.State) state.StateVector {
	v := make(state.StateVector, len(states))
	for i, s := range states {
		v[radio.Address(i)] = s
	}
	return v
}

func batch(ops ...radio.Operation) radio.Batch {
	return radio.Batch(ops)
}

func op(addr int, on bool) radio.Operation {
	return radio.Operation{Address: radio.Address(addr), On: on}
}

func cmd(addr radio.Address, on bool) radio.Command {
	return radio.Command{Address: addr, On: on}
}

func TestOptimize(t *testing.T) {
	tests := []struct {
		name     string
		prior    state.StateVector
		batch    radio.Batch
		want     radio.Sequence
		strategy Strategy
	}{
		{
			name:     "unaltered_true/three_turn_off",
			prior:    vector(on, on, on, on),
			batch:    batch(op(0, false), op(1, false), op(2, false), op(3, true)),
			want:     radio.Sequence{cmd(0, false), cmd(1, false), cmd(2, false)},
			strategy: StrategyIndividual,
		},
		{
			name:     "no_unaltered/all_turn_off",
			prior:    vector(on, on, on, on),
			batch:    batch(op(0, false), op(1, false), op(2, false), op(3, false)),
			want:     radio.Sequence{cmd(0, false), cmd(1, false), cmd(2, false), cmd(3, false)},
			strategy: StrategyIndividual,
		},
		{
			name:     "unaltered_false/four_turn_on",
			prior:    vector(off, off, off, off, off),
			batch:    batch(op(0, true), op(1, true), op(2, true), op(3, true)),
			want:     radio.Sequence{cmd(0, true), cmd(1, true), cmd(2, true), cmd(3, true)},
			strategy: StrategyIndividual,
		},
		{
			name:     "no_unaltered/all_turn_on_uses_default_union",
			prior:    vector(off, off, off, off),
			batch:    batch(op(0, true), op(1, true), op(2, true), op(3, true)),
			want:     radio.Sequence{cmd(radio.Broadcast, true)},
			strategy: StrategyBroadcastUnion,
		},
		{
			name:     "majority_joins_union",
			prior:    vector(off, off, off, on, on, on),
			batch:    batch(op(0, true), op(1, true), op(2, true)),
			want:     radio.Sequence{cmd(radio.Broadcast, true)},
			strategy: StrategyBroadcastUnion,
		},
		{
			name:     "majority_joins_union_with_correction",
			prior:    vector(off, off, off, off, on, on, on),
			batch:    batch(op(0, true), op(1, true), op(2, true), op(3, true), op(6, false)),
			want:     radio.Sequence{cmd(radio.Broadcast, true), cmd(6, false)},
			strategy: StrategyBroadcastUnion,
		},
		{
			name:     "minority_joins_union",
			prior:    vector(on, on, on, on, on, on, off, on),
			batch:    batch(op(0, false), op(1, false), op(2, false), op(3, false), op(4, false), op(5, false), op(6, true)),
			want:     radio.Sequence{cmd(radio.Broadcast, false), cmd(6, true), cmd(7, true)},
			strategy: StrategyBroadcastInverse,
		},
		{
			name:     "broadcast_not_cheaper_falls_back",
			prior:    vector(off, on, on, on, on, on),
			batch:    batch(op(0, true), op(1, false)),
			want:     radio.Sequence{cmd(0, true), cmd(1, false)},
			strategy: StrategyIndividual,
		},
		{
			name:     "majority_tie_keeps_broadcast",
			prior:    vector(off, on),
			batch:    batch(op(0, true)),
			want:     radio.Sequence{cmd(radio.Broadcast, true)},
			strategy: StrategyBroadcastUnion,
		},
		{
			name:     "majority_with_correction_mixed_prior",
			prior:    vector(off, off, on, on),
			batch:    batch(op(0, true), op(1, true), op(3, false)),
			want:     radio.Sequence{cmd(radio.Broadcast, true), cmd(3, false)},
			strategy: StrategyBroadcastUnion,
		},
		{
			name:     "no_consensus_mixed_unaltered",
			prior:    vector(on, off, off, off),
			batch:    batch(op(2, true), op(3, true)),
			want:     radio.Sequence{cmd(2, true), cmd(3, true)},
			strategy: StrategyIndividual,
		},
		{
			name:     "no_consensus_unknown_unaltered",
			prior:    vector(unk, unk, unk, unk, unk),
			batch:    batch(op(0, true), op(1, true), op(2, true), op(3, true)),
			want:     radio.Sequence{cmd(0, true), cmd(1, true), cmd(2, true), cmd(3, true)},
			strategy: StrategyIndividual,
		},
		{
			name:     "unknown_fleet_all_set",
			prior:    vector(unk, unk, unk),
			batch:    batch(op(0, false), op(1, false), op(2, false)),
			want:     radio.Sequence{cmd(0, false), cmd(1, false), cmd(2, false)},
			strategy: StrategyIndividual,
		},
		{
			name:     "last_write_wins",
			prior:    vector(off, off),
			batch:    batch(op(0, true), op(0, false), op(1, false), op(1, true)),
			want:     radio.Sequence{cmd(1, true)},
			strategy: StrategyIndividual,
		},
		{
			name:     "idempotent_batch",
			prior:    vector(on, off, on),
			batch:    batch(op(0, true), op(1, false)),
			want:     radio.Sequence{},
			strategy: StrategyNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prior := tt.prior.Clone()

			plan := Optimize(tt.prior, tt.batch)

			assert.Equal(t, len(tt.want), len(plan.Commands))
			if len(tt.want) > 0 {
				assert.Equal(t, tt.want, plan.Commands)
			}
			assert.Equal(t, tt.strategy, plan.Strategy)
			assert.True(t, prior.Equal(tt.prior), "prior state must not be mutated")
		})
	}
}

func TestOptimize_ScenarioDetails(t *testing.T) {
	plan := Optimize(vector(on, on, on, on), batch(op(0, false), op(1, false), op(2, false), op(3, true)))

	assert.Equal(t, []radio.Address{0, 1, 2}, plan.Altered)
	assert.Equal(t, []radio.Address{3}, plan.Unaltered)
	assert.True(t, plan.Consensus)
	assert.True(t, plan.Union)
	assert.Equal(t, 0.0, plan.Quota)
	assert.Equal(t, vector(off, off, off, on), plan.NewState)
}

func TestOptimize_NoUnalteredDefaultsUnionTrue(t *testing.T) {
	plan := Optimize(vector(on, on, on, on), batch(op(0, false), op(1, false), op(2, false), op(3, false)))

	assert.Empty(t, plan.Unaltered)
	assert.True(t, plan.Consensus)
	assert.True(t, plan.Union)
	assert.Equal(t, 0.0, plan.Quota)
}

func TestOptimize_NoConsensusReported(t *testing.T) {
	plan := Optimize(vector(on, off, on), batch(op(2, false)))

	assert.False(t, plan.Consensus)
	assert.Equal(t, StrategyIndividual, plan.Strategy)
	assert.Equal(t, radio.Sequence{cmd(2, false)}, plan.Commands)
}

func TestOptimize_IgnoresUnconfiguredTargets(t *testing.T) {
	plan := Optimize(vector(off, off), batch(op(0, true), op(9, true)))

	assert.Equal(t, []radio.Address{9}, plan.Ignored)
	assert.Equal(t, radio.Sequence{cmd(0, true)}, plan.Commands)
	_, present := plan.NewState[9]
	assert.False(t, present)
}

func TestOptimize_EmptyBatch(t *testing.T) {
	plan := Optimize(vector(on, off), nil)

	assert.True(t, plan.Empty())
	assert.Empty(t, plan.Altered)
	assert.Equal(t, StrategyNone, plan.Strategy)
}

// Random fleets and batches: the plan must always reproduce NewState when
// replayed, never cost more than addressing each changed target, and send
// nothing for no-op batches.
func TestOptimize_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	states := []radio.State{unk, off, on}

	for i := 0; i < 5000; i++ {
		n := 1 + rng.Intn(radio.MaxTargets)
		prior := make(state.StateVector, n)
		for a := 0; a < n; a++ {
			// Mostly known states so broadcast branches are exercised.
			if rng.Intn(10) == 0 {
				prior[radio.Address(a)] = states[0]
			} else {
				prior[radio.Address(a)] = states[1+rng.Intn(2)]
			}
		}

		var b radio.Batch
		for j := rng.Intn(3 * n); j > 0; j-- {
			b = append(b, op(rng.Intn(n), rng.Intn(2) == 0))
		}

		plan := Optimize(prior, b)

		// Step 1: NewState is prior with last-write-wins applied.
		want := prior.Clone()
		for addr, v := range b.Coalesce() {
			want[addr] = radio.StateOf(v)
		}
		require.True(t, want.Equal(plan.NewState), "iteration %d: new state mismatch", i)

		got := state.StateVector(plan.Commands.Apply(prior))
		require.True(t, got.Equal(plan.NewState), "iteration %d: replay %v does not yield new state", i, plan.Commands.Strings())

		require.LessOrEqual(t, len(plan.Commands), len(plan.Altered), "iteration %d", i)
		require.LessOrEqual(t, len(plan.Commands), len(plan.Altered)+1, "iteration %d", i)

		if len(plan.Altered) == 0 {
			require.Empty(t, plan.Commands, "iteration %d", i)
		}

		broadcasts := 0
		for k, c := range plan.Commands {
			if c.Address == radio.Broadcast {
				broadcasts++
				require.Equal(t, 0, k, "broadcast must lead the sequence")
			}
		}
		require.LessOrEqual(t, broadcasts, 1)
	}
}

func TestOptimize_Idempotent(t *testing.T) {
	prior := vector(on, off, on, off)
	var b radio.Batch
	for _, a := range prior.Addresses() {
		b = append(b, radio.Operation{Address: a, On: prior[a].On()})
	}

	plan := Optimize(prior, b)

	assert.Empty(t, plan.Altered)
	assert.True(t, plan.Empty())
}
