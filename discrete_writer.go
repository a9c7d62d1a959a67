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

	"github.com/cdx-library/cdx/internal/store"
	"github.com/sirupsen/logrus"
)

// DiscreteWriter creates a discrete-delay container and appends one
// sampled CIR per link and epoch to it.
type DiscreteWriter struct {
	container
	links  map[string]*discreteLink
	delays []float64
}

// discreteLink holds the datasets of one link of a discrete-delay
// container. cirs_real and cirs_imag hold one row of delay bins per epoch.
type discreteLink struct {
	real, imag *store.Dataset
	refDelays  *store.Dataset
	xAxis      *store.Dataset // time of each epoch
	yAxis      *store.Dataset // delay of each bin
}

func (dl *discreteLink) extensible() []*store.Dataset {
	return []*store.Dataset{dl.real, dl.imag, dl.refDelays, dl.xAxis}
}

// CreateDiscrete creates a new discrete-delay container at path. The
// DelayType, SchemaVersion and FileID fields of p are ignored. delays is
// the delay axis shared by all CIRs [s]; it must not be empty.
func CreateDiscrete(path string, p *Parameters, delays []float64) (*DiscreteWriter, error) {
	params := newParameters(DiscreteDelay, p.C0, p.CIRRate, p.TransmitterFrequency, p.LinkNames, p.ComponentTypes)
	params.DelaySamplingFrequency = p.DelaySamplingFrequency
	if err := params.validate(); err != nil {
		return nil, err
	}
	if len(delays) == 0 {
		return nil, fmt.Errorf("cdx: the delay axis must not be empty")
	}
	s := store.NewSchema()
	params.addTo(s)
	for _, l := range params.LinkNames {
		s.AddExtensible(linkPath(l, cirsRealName), store.Float64, len(delays))
		s.AddExtensible(linkPath(l, cirsImagName), store.Float64, len(delays))
		s.AddExtensible(linkPath(l, refDelaysName), store.Float64)
		s.AddExtensible(linkPath(l, xAxisName), store.Float64)
		s.AddFloat64s(linkPath(l, yAxisName), delays)
	}
	f, err := store.Create(path, s)
	if err != nil {
		return nil, storageErr("creating discrete-delay container", err)
	}
	w := &DiscreteWriter{
		container: container{Log: logrus.StandardLogger(), f: f, params: params},
		links:     make(map[string]*discreteLink, len(params.LinkNames)),
		delays:    append([]float64(nil), delays...),
	}
	for _, l := range params.LinkNames {
		dl, err := openDiscreteLink(&w.container, l)
		if err != nil {
			f.Close()
			return nil, err
		}
		w.links[l] = dl
	}
	w.log().WithFields(logrus.Fields{
		"path":    path,
		"links":   len(params.LinkNames),
		"bins":    len(delays),
		"file_id": params.FileID,
	}).Debug("cdx: created discrete-delay container")
	return w, nil
}

func openDiscreteLink(c *container, link string) (*discreteLink, error) {
	dl := new(discreteLink)
	for _, d := range []struct {
		name string
		ds   **store.Dataset
	}{
		{cirsRealName, &dl.real},
		{cirsImagName, &dl.imag},
		{refDelaysName, &dl.refDelays},
		{xAxisName, &dl.xAxis},
		{yAxisName, &dl.yAxis},
	} {
		ds, err := c.dataset(link, d.name)
		if err != nil {
			return nil, err
		}
		if ds.Kind() != store.Float64 {
			return nil, fmt.Errorf("%w: %s is %v, not %v", ErrWrongFormat, ds.Path(), ds.Kind(), store.Float64)
		}
		*d.ds = ds
	}
	return dl, nil
}

// Delays returns the delay axis.
func (w *DiscreteWriter) Delays() []float64 { return append([]float64(nil), w.delays...) }

// AppendCIR appends one epoch. cirs and refDelays must both have exactly
// one entry per configured link, and every CIR must have one value per
// delay bin. Either all links are extended or, on error, none are.
func (w *DiscreteWriter) AppendCIR(cirs map[string][]complex128, refDelays map[string]float64) error {
	if w.closed() {
		return ErrClosed
	}
	if err := checkLinkSet(w.params, cirs, "cirs"); err != nil {
		return err
	}
	if err := checkLinkSet(w.params, refDelays, "reference delays"); err != nil {
		return err
	}
	for _, l := range w.params.LinkNames {
		if len(cirs[l]) != len(w.delays) {
			return fmt.Errorf("%w: CIR of link %q has %d bins; want %d",
				ErrSchemaViolation, l, len(cirs[l]), len(w.delays))
		}
	}

	tx, err := w.f.Begin()
	if err != nil {
		return storageErr("appending CIR", err)
	}
	t := float64(w.epochs) / w.params.CIRRate
	for _, l := range w.params.LinkNames {
		dl := w.links[l]
		re := make([]float64, len(w.delays))
		im := make([]float64, len(w.delays))
		for i, v := range cirs[l] {
			re[i], im[i] = real(v), imag(v)
		}
		for _, a := range []struct {
			d *store.Dataset
			v []float64
		}{
			{dl.real, re},
			{dl.imag, im},
			{dl.refDelays, []float64{refDelays[l]}},
			{dl.xAxis, []float64{t}},
		} {
			if err := tx.Append(a.d, a.v); err != nil {
				tx.Rollback()
				return storageErr(fmt.Sprintf("appending CIR to link %q", l), err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("appending CIR", err)
	}
	w.epochs++
	w.log().WithFields(logrus.Fields{
		"path":  w.f.Path(),
		"epoch": w.epochs - 1,
	}).Debug("cdx: appended CIR")
	return nil
}

// Close flushes pending writes and closes the container. Calling Close
// more than once has no effect.
func (w *DiscreteWriter) Close() error { return w.closeWriter() }
