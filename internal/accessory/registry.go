package accessory

import (
	"strings"

	"github.com/dokzlo13/nexad/internal/radio"
)

// Registry looks accessories up by address or by name.
type Registry struct {
	list   []Accessory
	byID   map[radio.Address]Accessory
	byName map[string]Accessory
}

// NewRegistry indexes a validated accessory list.
func NewRegistry(list []Accessory) *Registry {
	r := &Registry{
		list:   append([]Accessory(nil), list...),
		byID:   make(map[radio.Address]Accessory, len(list)),
		byName: make(map[string]Accessory, len(list)),
	}
	for _, a := range list {
		r.byID[a.ID] = a
		r.byName[strings.ToLower(a.Name)] = a
	}
	return r
}

// All returns the accessories ordered by address.
func (r *Registry) All() []Accessory {
	return append([]Accessory(nil), r.list...)
}

// Addresses returns the configured addresses, ascending.
func (r *Registry) Addresses() []radio.Address {
	out := make([]radio.Address, 0, len(r.list))
	for _, a := range r.list {
		out = append(out, a.ID)
	}
	return out
}

// ByID returns the accessory at addr.
func (r *Registry) ByID(addr radio.Address) (Accessory, bool) {
	a, ok := r.byID[addr]
	return a, ok
}

// Lookup resolves a decimal address or a case-insensitive name.
func (r *Registry) Lookup(key string) (Accessory, bool) {
	if addr, err := radio.ParseAddress(key); err == nil {
		if a, ok := r.byID[addr]; ok {
			return a, true
		}
	}
	a, ok := r.byName[strings.ToLower(strings.TrimSpace(key))]
	return a, ok
}

// Len returns the number of accessories.
func (r *Registry) Len() int {
	return len(r.list)
}
