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

package cdx

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cdx-library/cdx/internal/store"
	"github.com/ctessum/unit"
	"github.com/google/uuid"
)

// Parameters holds the global parameters of a container. They are written
// once when the container is created.
type Parameters struct {
	// DelayType is ContinuousDelay or DiscreteDelay.
	DelayType string

	// C0 is the reference propagation speed [m/s].
	C0 float64

	// CIRRate is the number of CIRs per second [Hz].
	CIRRate float64

	// TransmitterFrequency is the carrier frequency [Hz].
	TransmitterFrequency float64

	// DelaySamplingFrequency is the sampling rate of the delay axis of
	// discrete-delay containers [Hz]. It is zero for continuous-delay
	// containers.
	DelaySamplingFrequency float64

	// LinkNames lists the links in the order they were configured.
	LinkNames []string

	// ComponentTypes maps each link name to its component type vocabulary,
	// e.g. {0: "LOS", 256: "scatterer"}.
	ComponentTypes map[string]map[uint16]string

	// SchemaVersion is the component record layout version.
	SchemaVersion int

	// FileID uniquely identifies the container. It is assigned at creation.
	FileID string
}

// CIRInterval returns the time between two CIRs [s].
func (p *Parameters) CIRInterval() float64 { return 1 / p.CIRRate }

// Wavelength returns the carrier wavelength c0 / f.
func (p *Parameters) Wavelength() *unit.Unit {
	return unit.Div(unit.New(p.C0, unit.MeterPerSecond), unit.New(p.TransmitterFrequency, unit.Herz))
}

// HasLink reports whether name is one of the configured links.
func (p *Parameters) HasLink(name string) bool {
	for _, l := range p.LinkNames {
		if l == name {
			return true
		}
	}
	return false
}

func positive(name string, v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return fmt.Errorf("cdx: %s must be positive and finite, got %g", name, v)
	}
	return nil
}

// validate checks p before a container is created.
func (p *Parameters) validate() error {
	if p.DelayType != ContinuousDelay && p.DelayType != DiscreteDelay {
		return fmt.Errorf("%w: invalid delay type %q", ErrWrongFormat, p.DelayType)
	}
	if err := positive("c0_m_s", p.C0); err != nil {
		return err
	}
	if err := positive("cir_rate_Hz", p.CIRRate); err != nil {
		return err
	}
	if p.TransmitterFrequency < 0 || math.IsNaN(p.TransmitterFrequency) {
		return fmt.Errorf("cdx: transmitter_frequency_Hz must not be negative, got %g", p.TransmitterFrequency)
	}
	if p.DelayType == DiscreteDelay {
		if err := positive("delay_smpl_freq_Hz", p.DelaySamplingFrequency); err != nil {
			return err
		}
	}
	if len(p.LinkNames) == 0 {
		return fmt.Errorf("cdx: at least one link is required")
	}
	seen := make(map[string]struct{}, len(p.LinkNames))
	for _, l := range p.LinkNames {
		if l == "" || strings.Contains(l, "/") {
			return fmt.Errorf("cdx: invalid link name %q", l)
		}
		if _, ok := seen[l]; ok {
			return fmt.Errorf("cdx: repeated link name %q", l)
		}
		seen[l] = struct{}{}
	}
	for l := range p.ComponentTypes {
		if _, ok := seen[l]; !ok {
			return fmt.Errorf("%w: component types given for %q", ErrUnknownLink, l)
		}
	}
	return nil
}

// addTo adds the parameters group to s.
func (p *Parameters) addTo(s *store.Schema) {
	s.SetAttr(parametersGroup, "delay_type", p.DelayType)
	s.SetAttr(parametersGroup, "cir_schema_version", SchemaVersion)
	s.SetAttr(parametersGroup, "file_id", p.FileID)
	s.SetAttr(parametersGroup, "c0_m_s", p.C0)
	s.SetAttr(parametersGroup, "cir_rate_Hz", p.CIRRate)
	s.SetAttr(parametersGroup, "transmitter_frequency_Hz", p.TransmitterFrequency)
	if p.DelayType == DiscreteDelay {
		s.SetAttr(parametersGroup, "delay_smpl_freq_Hz", p.DelaySamplingFrequency)
	}
	for _, l := range p.LinkNames {
		types := p.ComponentTypes[l]
		codes := make([]int, 0, len(types))
		for c := range types {
			codes = append(codes, int(c))
		}
		sort.Ints(codes)
		for _, c := range codes {
			s.SetAttr(store.Join(parametersGroup, "component_types", l), strconv.Itoa(c), types[uint16(c)])
		}
	}
	s.AddStrings(store.Join(parametersGroup, "link_names"), p.LinkNames)
}

// newParameters returns a copy of the caller's configuration with a fresh
// file id.
func newParameters(delayType string, c0, cirRate, txFreq float64, linkNames []string,
	componentTypes map[string]map[uint16]string) *Parameters {
	p := &Parameters{
		DelayType:            delayType,
		C0:                   c0,
		CIRRate:              cirRate,
		TransmitterFrequency: txFreq,
		LinkNames:            append([]string(nil), linkNames...),
		ComponentTypes:       make(map[string]map[uint16]string),
		SchemaVersion:        SchemaVersion,
		FileID:               uuid.New().String(),
	}
	for l, types := range componentTypes {
		m := make(map[uint16]string, len(types))
		for c, label := range types {
			m[c] = label
		}
		p.ComponentTypes[l] = m
	}
	return p
}

// readDelayType returns the format tag of f.
func readDelayType(f *store.File) (string, error) {
	t, err := f.StringAttr(parametersGroup, "delay_type")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrongFormat, err)
	}
	return t, nil
}

// readParameters reads the parameters group of f and checks that its
// format tag is want.
func readParameters(f *store.File, want string) (*Parameters, error) {
	t, err := readDelayType(f)
	if err != nil {
		return nil, err
	}
	if t != want {
		return nil, fmt.Errorf("%w: cannot open %s as a %s file because it is of type %q",
			ErrWrongFormat, f.Path(), want, t)
	}
	p := &Parameters{DelayType: t, ComponentTypes: make(map[string]map[uint16]string)}

	v, err := f.Int32Attr(parametersGroup, "cir_schema_version")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongFormat, err)
	}
	if v != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported record schema version %d", ErrWrongFormat, v)
	}
	p.SchemaVersion = int(v)
	if p.FileID, err = f.StringAttr(parametersGroup, "file_id"); err != nil {
		return nil, storageErr("reading parameters", err)
	}
	for _, a := range []struct {
		name string
		v    *float64
	}{
		{"c0_m_s", &p.C0},
		{"cir_rate_Hz", &p.CIRRate},
		{"transmitter_frequency_Hz", &p.TransmitterFrequency},
	} {
		if *a.v, err = f.Float64Attr(parametersGroup, a.name); err != nil {
			return nil, storageErr("reading parameters", err)
		}
	}
	if err := positive("cir_rate_Hz", p.CIRRate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongFormat, err)
	}
	if t == DiscreteDelay {
		if p.DelaySamplingFrequency, err = f.Float64Attr(parametersGroup, "delay_smpl_freq_Hz"); err != nil {
			return nil, storageErr("reading parameters", err)
		}
	}
	if p.LinkNames, err = f.Strings(store.Join(parametersGroup, "link_names")); err != nil {
		return nil, storageErr("reading link names", err)
	}
	for k, val := range f.Attrs(store.Join(parametersGroup, "component_types")) {
		i := strings.LastIndex(k, "/")
		if i < 0 {
			continue
		}
		code, err := strconv.ParseUint(k[i+1:], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid component type code %q", ErrWrongFormat, k)
		}
		label, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("%w: component type %q is not a string", ErrWrongFormat, k)
		}
		link := k[:i]
		if p.ComponentTypes[link] == nil {
			p.ComponentTypes[link] = make(map[uint16]string)
		}
		p.ComponentTypes[link][uint16(code)] = label
	}
	return p, nil
}

// readLinks returns the link groups present under links, in storage order,
// and checks them against the link_names parameter.
func readLinks(f *store.File, p *Parameters) ([]string, error) {
	links := f.Groups(linksGroup)
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: %s has no links", ErrWrongFormat, f.Path())
	}
	for _, l := range links {
		if !p.HasLink(l) {
			return nil, fmt.Errorf("%w: link group %q is not listed in link_names", ErrWrongFormat, l)
		}
	}
	if len(links) != len(p.LinkNames) {
		return nil, fmt.Errorf("%w: link_names lists %d links but %d link groups exist",
			ErrWrongFormat, len(p.LinkNames), len(links))
	}
	return links, nil
}

// DelayTypeOf returns the delay_type tag of the container at path,
// ContinuousDelay or DiscreteDelay, without opening it as either variant.
func DelayTypeOf(path string) (string, error) {
	f, err := store.Open(path, false)
	if err != nil {
		return "", storageErr("opening container", err)
	}
	defer f.Close()
	return readDelayType(f)
}
