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

package cdxutil

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/cdx-library/cdx"
	"gopkg.in/yaml.v3"
)

// Summary describes a container.
type Summary struct {
	Path                   string  `toml:"path" yaml:"path"`
	DelayType              string  `toml:"delay_type" yaml:"delay_type"`
	FileID                 string  `toml:"file_id" yaml:"file_id"`
	SchemaVersion          int     `toml:"cir_schema_version" yaml:"cir_schema_version"`
	C0                     float64 `toml:"c0_m_s" yaml:"c0_m_s"`
	CIRRate                float64 `toml:"cir_rate_Hz" yaml:"cir_rate_Hz"`
	TransmitterFrequency   float64 `toml:"transmitter_frequency_Hz" yaml:"transmitter_frequency_Hz"`
	Wavelength             float64 `toml:"wavelength_m" yaml:"wavelength_m"`
	DelaySamplingFrequency float64 `toml:"delay_smpl_freq_Hz,omitzero" yaml:"delay_smpl_freq_Hz,omitempty"`
	Epochs                 int     `toml:"epochs" yaml:"epochs"`
	Length                 float64 `toml:"length_s" yaml:"length_s"`

	Links []LinkSummary `toml:"links" yaml:"links"`
}

// LinkSummary describes one link of a container.
type LinkSummary struct {
	Name           string            `toml:"name" yaml:"name"`
	ComponentTypes map[string]string `toml:"component_types,omitempty" yaml:"component_types,omitempty"`

	// DelayBins is the length of the delay axis of discrete-delay links.
	DelayBins int `toml:"delay_bins,omitzero" yaml:"delay_bins,omitempty"`
}

// Info summarizes the container at path, which may be of either delay type.
func Info(path string) (*Summary, error) {
	t, err := cdx.DelayTypeOf(path)
	if err != nil {
		return nil, err
	}
	var (
		p      *cdx.Parameters
		epochs int
		bins   func(link string) (int, error)
	)
	switch t {
	case cdx.ContinuousDelay:
		r, err := cdx.OpenContinuous(path)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		p, epochs = r.Parameters(), r.NumEpochs()
		bins = func(string) (int, error) { return 0, nil }
	case cdx.DiscreteDelay:
		r, err := cdx.OpenDiscrete(path)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		p, epochs = r.Parameters(), r.NumEpochs()
		bins = func(link string) (int, error) {
			d, err := r.Delays(link)
			return len(d), err
		}
	default:
		return nil, fmt.Errorf("%w: unknown delay type %q", cdx.ErrWrongFormat, t)
	}

	s := &Summary{
		Path:                   path,
		DelayType:              p.DelayType,
		FileID:                 p.FileID,
		SchemaVersion:          p.SchemaVersion,
		C0:                     p.C0,
		CIRRate:                p.CIRRate,
		TransmitterFrequency:   p.TransmitterFrequency,
		DelaySamplingFrequency: p.DelaySamplingFrequency,
		Epochs:                 epochs,
		Length:                 float64(epochs) / p.CIRRate,
	}
	if p.TransmitterFrequency > 0 {
		s.Wavelength = p.Wavelength().Value()
	}
	for _, l := range p.LinkNames {
		ls := LinkSummary{Name: l}
		if types := p.ComponentTypes[l]; len(types) > 0 {
			ls.ComponentTypes = make(map[string]string, len(types))
			for code, label := range types {
				ls.ComponentTypes[strconv.Itoa(int(code))] = label
			}
		}
		if ls.DelayBins, err = bins(l); err != nil {
			return nil, err
		}
		s.Links = append(s.Links, ls)
	}
	return s, nil
}

// Write writes s to w in the given format, "toml" or "yaml".
func (s *Summary) Write(w io.Writer, format string) error {
	switch format {
	case "toml":
		return toml.NewEncoder(w).Encode(s)
	case "yaml":
		e := yaml.NewEncoder(w)
		e.SetIndent(2)
		if err := e.Encode(s); err != nil {
			return err
		}
		return e.Close()
	default:
		return fmt.Errorf("cdx: invalid output format %q; use toml or yaml", format)
	}
}

// WritePower writes the time and the channel power of each epoch of link
// in the discrete-delay container at path, within the time window
// [start, start+length), to w as CSV.
func WritePower(w io.Writer, path, link string, start, length float64) error {
	r, err := cdx.OpenDiscrete(path)
	if err != nil {
		return err
	}
	defer r.Close()
	if link == "" {
		links := r.LinkNames()
		sort.Strings(links)
		return fmt.Errorf("cdx: you need to specify a link; the container has links %v", links)
	}
	times, power, err := r.Power(link, start, length)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time_s", "power"}); err != nil {
		return err
	}
	for i, t := range times {
		rec := []string{
			strconv.FormatFloat(t, 'g', -1, 64),
			strconv.FormatFloat(power[i], 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
