package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: " 15 ", want: 15},
		{in: "broadcast", want: Broadcast},
		{in: "*", want: Broadcast},
		{in: "16", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "kitchen", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOperationValidate(t *testing.T) {
	assert.NoError(t, Operation{Address: 3, On: true}.Validate())
	assert.ErrorIs(t, Operation{Address: Broadcast}.Validate(), ErrInvalidAddress)
	assert.ErrorIs(t, Operation{Address: MaxTargets}.Validate(), ErrInvalidAddress)
}

func TestBatchCoalesce_LastWriteWins(t *testing.T) {
	b := Batch{
		{Address: 2, On: true},
		{Address: 1, On: false},
		{Address: 2, On: false},
		{Address: 1, On: true},
		{Address: 2, On: true},
	}

	assert.Equal(t, map[Address]bool{1: true, 2: true}, b.Coalesce())
	assert.Equal(t, []Address{1, 2}, b.Addresses())
}

func TestSequenceApply(t *testing.T) {
	prior := map[Address]State{0: StateOn, 1: StateUnknown, 2: StateOff}
	seq := Sequence{
		{Address: Broadcast, On: false},
		{Address: 1, On: true},
	}

	got := seq.Apply(prior)

	assert.Equal(t, map[Address]State{0: StateOff, 1: StateOn, 2: StateOff}, got)
	assert.Equal(t, StateOn, prior[0], "prior must not be mutated")
	assert.Equal(t, []string{"broadcast=off", "1=on"}, seq.Strings())
}

func TestStateText(t *testing.T) {
	for _, s := range []State{StateUnknown, StateOff, StateOn} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	_, err := ParseState("dim")
	assert.Error(t, err)
}

func TestParseOperation(t *testing.T) {
	tests := []struct {
		in      string
		want    Operation
		wantErr bool
	}{
		{"3=on", Operation{Address: 3, On: true}, false},
		{" 15 = off ", Operation{Address: 15, On: false}, false},
		{"0=true", Operation{Address: 0, On: true}, false},
		{"3", Operation{}, true},
		{"16=on", Operation{}, true},
		{"broadcast=on", Operation{}, true},
		{"3=unknown", Operation{}, true},
		{"3=dim", Operation{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOperation(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAssignment_Unknown(t *testing.T) {
	addr, st, err := ParseAssignment("7=unknown")
	require.NoError(t, err)
	assert.Equal(t, Address(7), addr)
	assert.Equal(t, StateUnknown, st)
}
