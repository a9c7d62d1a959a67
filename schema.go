/*
Copyright © 2017 the CDX authors.
This file is part of CDX.

CDX is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CDX is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CDX.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package cdx reads and writes CDX containers, which hold time series of
// channel impulse responses (CIRs) for a set of propagation links.
//
// Two variants exist. A continuous-delay container stores each CIR as a
// list of components with arbitrary excess delays; a discrete-delay
// container stores each CIR as a complex vector sampled on a fixed delay
// grid. Every container has a "parameters" group, written once at
// creation, and a "links" group with one sub-group per link.
//
// Epoch k of a container corresponds to the time k / cir_rate_Hz.
package cdx

import (
	"math"

	"github.com/cdx-library/cdx/internal/store"
)

// These are the values of the delay_type parameter.
const (
	ContinuousDelay = "continuous-delay"
	DiscreteDelay   = "discrete-delay"
)

// SchemaVersion is the version of the component record layout written by
// this package. It is stored in every container as
// parameters/cir_schema_version and readers reject other versions.
const SchemaVersion = 1

// DirectPathType is the component type reserved for the direct
// (line-of-sight) path, which is always the first component of a CIR.
const DirectPathType uint16 = 0

// Component is one propagation path of a continuous-delay CIR.
type Component struct {
	Type  uint16  // classification code, see Parameters.ComponentTypes
	ID    uint64  // distinguishes components of the same type
	Delay float64 // excess delay relative to the reference delay [s]
	Real  float64
	Imag  float64
}

// Amplitude returns the complex amplitude of c.
func (c Component) Amplitude() complex128 { return complex(c.Real, c.Imag) }

// isDirectPath reports whether c is a valid direct path component.
func (c Component) isDirectPath() bool {
	return c.Type == DirectPathType && c.Delay == 0
}

// column is one stored member of the component record.
type column struct {
	name string
	kind store.Kind
}

// componentColumns is the version 1 storage layout of Component. The
// classic container format has no unsigned or 64-bit integer types, so the
// type is stored as the bits of an int16 and the id as two int32 halves.
var componentColumns = [...]column{
	{"cirs/type", store.Int16},
	{"cirs/id_hi", store.Int32},
	{"cirs/id_lo", store.Int32},
	{"cirs/delay", store.Float64},
	{"cirs/real", store.Float64},
	{"cirs/imag", store.Float64},
}

// Container layout.
const (
	parametersGroup = "parameters"
	linksGroup      = "links"

	refDelaysName  = "reference_delays"
	cirOffsetsName = "cir_offsets"
	cirsRealName   = "cirs_real"
	cirsImagName   = "cirs_imag"
	xAxisName      = "x_axis"
	yAxisName      = "y_axis"
)

func linkPath(link, name string) string { return store.Join(linksGroup, link, name) }

// encodeComponents splits comps into the storage columns.
func encodeComponents(comps []Component) (types []int16, idHi, idLo []int32, delay, re, im []float64) {
	n := len(comps)
	types = make([]int16, n)
	idHi, idLo = make([]int32, n), make([]int32, n)
	delay, re, im = make([]float64, n), make([]float64, n), make([]float64, n)
	for i, c := range comps {
		types[i] = int16(c.Type)
		idHi[i] = int32(uint32(c.ID >> 32))
		idLo[i] = int32(uint32(c.ID))
		delay[i] = c.Delay
		re[i] = c.Real
		im[i] = c.Imag
	}
	return
}

// decodeComponents is the inverse of encodeComponents.
func decodeComponents(types []int16, idHi, idLo []int32, delay, re, im []float64) []Component {
	comps := make([]Component, len(types))
	for i := range comps {
		comps[i] = Component{
			Type:  uint16(types[i]),
			ID:    uint64(uint32(idHi[i]))<<32 | uint64(uint32(idLo[i])),
			Delay: delay[i],
			Real:  re[i],
			Imag:  im[i],
		}
	}
	return comps
}

// EpochBounds converts a time window to the half-open epoch range
// [floor(start*rate), floor((start+length)*rate)). No clamping is done.
func EpochBounds(rate, start, length float64) (begin, end int) {
	return int(math.Floor(start * rate)), int(math.Floor((start + length) * rate))
}

// window resolves a requested time window against n stored epochs. A zero
// length selects everything from the start epoch to the end of the series.
func window(rate, total, start, length float64, n int) (begin, end int, err error) {
	if start < 0 || length < 0 || math.IsNaN(start) || math.IsNaN(length) {
		return 0, 0, WindowErr{Start: start, Length: length, FileLength: total}
	}
	if length == 0 {
		begin = int(math.Floor(start * rate))
		if begin > n {
			return 0, 0, WindowErr{Start: start, Length: length, FileLength: total}
		}
		return begin, n, nil
	}
	if start+length > total {
		return 0, 0, WindowErr{Start: start, Length: length, FileLength: total}
	}
	begin, end = EpochBounds(rate, start, length)
	if end > n {
		return 0, 0, WindowErr{Start: start, Length: length, FileLength: total}
	}
	return begin, end, nil
}
