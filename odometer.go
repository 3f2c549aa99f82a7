// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

// iterKind tags which variant a position occupies in the odometer.
type iterKind int

const (
	iterList iterKind = iota
	iterFlag
)

// odometerPosition is one wheel of the little-endian odometer: either a List
// iterator over an ArgSpec's value list, or a Flag iterator over
// {present, absent}. It replaces the observer/publisher-subscriber iterator
// chain with an explicit, ordered slot driven by advance()'s carry bit.
type odometerPosition struct {
	kind   iterKind
	option string
	values []string // for iterList only
	idx    int       // current index into values, or 0/1 for iterFlag (0=present,1=absent)
}

func newListPosition(option string, values []string) odometerPosition {
	return odometerPosition{kind: iterList, option: option, values: values}
}

func newFlagPosition(option string) odometerPosition {
	return odometerPosition{kind: iterFlag, option: option}
}

// length returns the number of distinct states this position cycles through.
func (p *odometerPosition) length() int {
	if p.kind == iterFlag {
		return 2
	}
	return len(p.values)
}

// current returns (value, present) for the position's current index. For a
// List position present is always true; for a Flag position the binary
// iterator's first state is present, its second absent.
func (p *odometerPosition) current() (value string, present bool) {
	switch p.kind {
	case iterFlag:
		return "", p.idx == 0
	default:
		return p.values[p.idx], true
	}
}

// advance moves this position forward one step, wrapping to 0 and returning
// carry=true when it rolls over past its last state.
func (p *odometerPosition) advance() (carry bool) {
	p.idx++
	if p.idx >= p.length() {
		p.idx = 0
		return true
	}
	return false
}

// reset returns the position to its initial state.
func (p *odometerPosition) reset() {
	p.idx = 0
}

// parameterOdometer is the Cartesian product of a test's non-constant
// ArgSpecs: a little-endian odometer where position 0 is least significant.
// Advancing it past the most-significant position's end signals Exhausted.
type parameterOdometer struct {
	positions []odometerPosition
	done      bool
}

// newParameterOdometer builds an odometer from a TestSpec's non-constant
// ArgSpecs. Each spec subscribes to the one declared before it, so the
// last-declared spec is the one that advances on every call and the
// first-declared spec is most significant; specs are stored here in reverse
// declaration order so position 0 is always least significant.
func newParameterOdometer(specs []ArgSpec) *parameterOdometer {
	positions := make([]odometerPosition, 0, len(specs))
	for i := len(specs) - 1; i >= 0; i-- {
		a := specs[i]
		if a.Flag {
			positions = append(positions, newFlagPosition(a.Option))
		} else {
			positions = append(positions, newListPosition(a.Option, a.Values))
		}
	}
	return &parameterOdometer{positions: positions}
}

// getParams returns the current position's parameter map: option -> value for
// List positions and present flags; absent flags are omitted entirely.
func (o *parameterOdometer) getParams() map[string]string {
	params := make(map[string]string, len(o.positions))
	for _, p := range o.positions {
		value, present := p.current()
		if !present {
			continue
		}
		params[p.option] = value
	}
	return params
}

// getNextParams advances the odometer one step (little-endian: position 0
// advances first, carrying into position 1 on rollover, and so on) and
// returns the new current parameter map. Once the most-significant position
// would carry out, the odometer is exhausted and further calls fail.
func (o *parameterOdometer) getNextParams() (map[string]string, error) {
	if o.done {
		return nil, &ExhaustedError{What: "parameter odometer"}
	}
	if len(o.positions) == 0 {
		o.done = true
		return nil, &ExhaustedError{What: "parameter odometer"}
	}

	for i := range o.positions {
		carry := o.positions[i].advance()
		if !carry {
			return o.getParams(), nil
		}
		if i == len(o.positions)-1 {
			o.done = true
			return nil, &ExhaustedError{What: "parameter odometer"}
		}
	}
	// unreachable: the loop above always returns
	return o.getParams(), nil
}
