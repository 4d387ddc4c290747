// Package accessory validates the configured switch accessories and assigns
// each one a transmitter address.
package accessory

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nexad/internal/radio"
)

// NotAvailable is used for missing descriptive properties.
const NotAvailable = "N/A"

// ErrTooManyAccessories is returned when more accessories are configured than
// the protocol can address.
var ErrTooManyAccessories = fmt.Errorf("more than %d accessories configured", radio.MaxTargets)

// Spec is an accessory as written in the config file. Fields are untyped so
// wrong types can be reported per property instead of failing the whole file.
type Spec struct {
	Name         any `yaml:"name"`
	ID           any `yaml:"id"`
	Manufacturer any `yaml:"manufacturer"`
	Model        any `yaml:"model"`
	SerialNumber any `yaml:"serial_number"`
}

// Accessory is a validated switch with its transmitter address.
type Accessory struct {
	Name         string        `json:"name"`
	ID           radio.Address `json:"id"`
	Manufacturer string        `json:"manufacturer"`
	Model        string        `json:"model"`
	SerialNumber string        `json:"serial_number"`
}

type candidate struct {
	Accessory
	hasID bool
}

// Build validates specs and assigns addresses:
//   - accessories without a name, or with an invalid id, are skipped;
//   - invalid descriptive properties are reset to N/A;
//   - duplicate names or ids are skipped, first one wins;
//   - accessories without an id get the first free address starting at
//     their position in the list, wrapping from 15 to 0.
//
// The result is ordered by address.
func Build(specs []Spec) ([]Accessory, error) {
	if len(specs) > radio.MaxTargets {
		return nil, ErrTooManyAccessories
	}

	names := make(map[string]bool)
	used := make(map[radio.Address]bool)
	var valid []candidate

	for i, spec := range specs {
		which := ordinal(i + 1)

		name, ok := spec.Name.(string)
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			log.Warn().Msgf("Could not read property 'name' of the %s accessory. Every accessory must have a unique name. Skipping accessory...", which)
			continue
		}
		if names[name] {
			log.Warn().Str("accessory", name).Msgf("Duplicate name on the %s accessory. Skipping accessory...", which)
			continue
		}

		c := candidate{Accessory: Accessory{Name: name}}
		if spec.ID != nil {
			addr, err := parseID(spec.ID)
			if err != nil {
				log.Warn().Err(err).Str("accessory", name).Msgf("Could not read property 'id' of the %s accessory. Skipping accessory...", which)
				continue
			}
			if used[addr] {
				log.Warn().Str("accessory", name).Stringer("id", addr).Msgf("Id of the %s accessory is already taken. Skipping accessory...", which)
				continue
			}
			c.ID = addr
			c.hasID = true
			used[addr] = true
		}

		c.Manufacturer = optionalString(spec.Manufacturer, "manufacturer", name)
		c.Model = optionalString(spec.Model, "model", name)
		c.SerialNumber = optionalString(spec.SerialNumber, "serial_number", name)

		names[name] = true
		valid = append(valid, c)
	}

	for i := range valid {
		if valid[i].hasID {
			continue
		}
		addr, ok := firstFree(used, radio.Address(i))
		if !ok {
			return nil, errors.New("no free address left for accessory " + valid[i].Name)
		}
		valid[i].ID = addr
		valid[i].hasID = true
		used[addr] = true
	}

	out := make([]Accessory, 0, len(valid))
	for _, c := range valid {
		out = append(out, c.Accessory)
	}
	sortByID(out)
	return out, nil
}

func parseID(v any) (radio.Address, error) {
	var n int
	switch id := v.(type) {
	case int:
		n = id
	case int64:
		n = int(id)
	case uint64:
		n = int(id)
	case float64:
		if id != float64(int(id)) {
			return 0, fmt.Errorf("id %v is not an integer", id)
		}
		n = int(id)
	default:
		return 0, fmt.Errorf("id %v is not a number", v)
	}
	addr := radio.Address(n)
	if !addr.Valid() {
		return 0, fmt.Errorf("%w: %d", radio.ErrInvalidAddress, n)
	}
	return addr, nil
}

func optionalString(v any, property, accessory string) string {
	if v == nil {
		return NotAvailable
	}
	s, ok := v.(string)
	if !ok {
		log.Warn().Str("accessory", accessory).Msgf("Could not read property '%s'. Ignoring property...", property)
		return NotAvailable
	}
	if s == "" {
		return NotAvailable
	}
	return s
}

func firstFree(used map[radio.Address]bool, start radio.Address) (radio.Address, bool) {
	addr := start % radio.MaxTargets
	for i := 0; i < radio.MaxTargets; i++ {
		if !used[addr] {
			return addr, true
		}
		addr = (addr + 1) % radio.MaxTargets
	}
	return 0, false
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return strconv.Itoa(n) + suffix
}

func sortByID(list []Accessory) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}
