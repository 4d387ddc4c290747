// Package radio defines the addressing model of the HomeEasy/Nexa transmitter:
// target addresses, the broadcast address, and the commands sent over the air.
package radio

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxTargets is the number of individually addressable receivers per emitter id.
const MaxTargets = 16

// ErrInvalidAddress is returned for addresses outside [0, MaxTargets).
var ErrInvalidAddress = errors.New("invalid target address")

// Address identifies one receiver, or all of them when equal to Broadcast.
type Address int

// Broadcast addresses every receiver paired with the emitter id.
const Broadcast Address = -1

// Valid reports whether a is a single target address.
func (a Address) Valid() bool {
	return a >= 0 && a < MaxTargets
}

// String returns the decimal address or "broadcast".
func (a Address) String() string {
	if a == Broadcast {
		return "broadcast"
	}
	return strconv.Itoa(int(a))
}

// ParseAddress parses a decimal target address or the word "broadcast".
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "broadcast") || s == "*" {
		return Broadcast, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	a := Address(n)
	if !a.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAddress, n)
	}
	return a, nil
}

// State is the last known power state of a target.
type State int8

const (
	StateUnknown State = iota
	StateOff
	StateOn
)

// StateOf converts a boolean power state.
func StateOf(on bool) State {
	if on {
		return StateOn
	}
	return StateOff
}

// Known reports whether the state has been observed or commanded.
func (s State) Known() bool {
	return s == StateOn || s == StateOff
}

// On reports whether s is StateOn.
func (s State) On() bool {
	return s == StateOn
}

// String returns "on", "off" or "unknown".
func (s State) String() string {
	switch s {
	case StateOn:
		return "on"
	case StateOff:
		return "off"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	v, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseState parses on/off style words. Empty and "unknown" map to StateUnknown.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1":
		return StateOn, nil
	case "off", "false", "0":
		return StateOff, nil
	case "", "unknown":
		return StateUnknown, nil
	}
	return StateUnknown, fmt.Errorf("invalid state %q", s)
}

// OnOff renders a boolean as the transmitter script expects it.
func OnOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// Operation is one pending request to set a target's power state.
type Operation struct {
	Address Address
	On      bool
}

// Validate rejects broadcast and out-of-range addresses.
func (o Operation) Validate() error {
	if !o.Address.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, o.Address)
	}
	return nil
}

func (o Operation) String() string {
	return o.Address.String() + "=" + OnOff(o.On)
}

// Command is one transmission; Address may be Broadcast.
type Command struct {
	Address Address `json:"address"`
	On      bool    `json:"on"`
}

func (c Command) String() string {
	return c.Address.String() + "=" + OnOff(c.On)
}

// Sequence is an ordered list of commands sent in one transmitter invocation.
type Sequence []Command

// Strings renders the sequence for logging.
func (s Sequence) Strings() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.String()
	}
	return out
}

// Apply replays the sequence against prior, in order, and returns the
// resulting vector. A broadcast sets every address present in prior.
func (s Sequence) Apply(prior map[Address]State) map[Address]State {
	out := make(map[Address]State, len(prior))
	for a, st := range prior {
		out[a] = st
	}
	for _, c := range s {
		if c.Address == Broadcast {
			for a := range out {
				out[a] = StateOf(c.On)
			}
			continue
		}
		out[c.Address] = StateOf(c.On)
	}
	return out
}

// Batch is the ordered list of operations collected during one debounce window.
type Batch []Operation

// Coalesce returns the last requested state per address.
func (b Batch) Coalesce() map[Address]bool {
	out := make(map[Address]bool, len(b))
	for _, op := range b {
		out[op.Address] = op.On
	}
	return out
}

// Addresses returns the distinct addresses in the batch, ascending.
func (b Batch) Addresses() []Address {
	seen := make(map[Address]struct{}, len(b))
	var out []Address
	for _, op := range b {
		if _, ok := seen[op.Address]; ok {
			continue
		}
		seen[op.Address] = struct{}{}
		out = append(out, op.Address)
	}
	SortAddresses(out)
	return out
}

// SortAddresses sorts in place, ascending.
func SortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
}

// ParseAssignment parses "<address>=<state>", e.g. "3=on" or "12=unknown".
// The address must be a valid target.
func ParseAssignment(s string) (Address, State, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return 0, StateUnknown, fmt.Errorf("invalid assignment %q, want <address>=<state>", s)
	}
	addr, err := ParseAddress(key)
	if err != nil {
		return 0, StateUnknown, err
	}
	if addr == Broadcast {
		return 0, StateUnknown, fmt.Errorf("%w: broadcast cannot be assigned", ErrInvalidAddress)
	}
	st, err := ParseState(value)
	if err != nil {
		return 0, StateUnknown, err
	}
	return addr, st, nil
}

// ParseOperation parses "<address>=on|off" into an Operation.
func ParseOperation(s string) (Operation, error) {
	addr, st, err := ParseAssignment(s)
	if err != nil {
		return Operation{}, err
	}
	if !st.Known() {
		return Operation{}, fmt.Errorf("operation %q needs on or off", s)
	}
	return Operation{Address: addr, On: st.On()}, nil
}
