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

	"github.com/cdx-library/cdx/internal/store"
	"github.com/sirupsen/logrus"
)

// ContinuousWriter creates a continuous-delay container and appends one
// CIR per link and epoch to it. A ContinuousWriter must not be used from
// more than one goroutine, and no other writer may open the same file
// while it is in use.
type ContinuousWriter struct {
	container
	links map[string]*continuousLink
}

// continuousLink holds the datasets of one link of a continuous-delay
// container.
type continuousLink struct {
	cols      [len(componentColumns)]*store.Dataset
	refDelays *store.Dataset
	offsets   *store.Dataset // end row of each epoch
}

// CreateContinuous creates a new continuous-delay container at path.
// c0 is the propagation speed [m/s], cirRate the number of CIRs per second
// [Hz] and txFreq the carrier frequency [Hz]. componentTypes gives the
// component type vocabulary of each link; links without an entry get an
// empty vocabulary. An error wrapping ErrAlreadyExists is returned if path
// exists.
func CreateContinuous(path string, c0, cirRate, txFreq float64, linkNames []string,
	componentTypes map[string]map[uint16]string) (*ContinuousWriter, error) {
	p := newParameters(ContinuousDelay, c0, cirRate, txFreq, linkNames, componentTypes)
	if err := p.validate(); err != nil {
		return nil, err
	}
	f, err := store.Create(path, continuousSchema(p))
	if err != nil {
		return nil, storageErr("creating continuous-delay container", err)
	}
	w := &ContinuousWriter{
		container: container{Log: logrus.StandardLogger(), f: f, params: p},
		links:     make(map[string]*continuousLink, len(p.LinkNames)),
	}
	for _, l := range p.LinkNames {
		cl := new(continuousLink)
		for i, c := range componentColumns {
			if cl.cols[i], err = f.Dataset(linkPath(l, c.name)); err != nil {
				f.Close()
				return nil, storageErr("creating continuous-delay container", err)
			}
		}
		if cl.refDelays, err = f.Dataset(linkPath(l, refDelaysName)); err != nil {
			f.Close()
			return nil, storageErr("creating continuous-delay container", err)
		}
		if cl.offsets, err = f.Dataset(linkPath(l, cirOffsetsName)); err != nil {
			f.Close()
			return nil, storageErr("creating continuous-delay container", err)
		}
		w.links[l] = cl
	}
	w.log().WithFields(logrus.Fields{
		"path":    path,
		"links":   len(p.LinkNames),
		"file_id": p.FileID,
	}).Debug("cdx: created continuous-delay container")
	return w, nil
}

// continuousSchema returns the layout of a continuous-delay container with
// parameters p.
func continuousSchema(p *Parameters) *store.Schema {
	s := store.NewSchema()
	p.addTo(s)
	for _, l := range p.LinkNames {
		for _, c := range componentColumns {
			s.AddExtensible(linkPath(l, c.name), c.kind)
		}
		s.AddExtensible(linkPath(l, refDelaysName), store.Float64)
		s.AddExtensible(linkPath(l, cirOffsetsName), store.Int32)
	}
	return s
}

// AppendCIR appends one epoch. cirs and refDelays must both have exactly
// one entry per configured link. The first component of every link must
// be the direct path, with type DirectPathType and zero delay.
// Either all links are extended or, on error, none are.
func (w *ContinuousWriter) AppendCIR(cirs map[string][]Component, refDelays map[string]float64) error {
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
		comps := cirs[l]
		if len(comps) == 0 {
			return fmt.Errorf("%w: link %q has no direct path component", ErrSchemaViolation, l)
		}
		if !comps[0].isDirectPath() {
			return fmt.Errorf("%w: first component of link %q has type %d and delay %g; want type %d and delay 0",
				ErrSchemaViolation, l, comps[0].Type, comps[0].Delay, DirectPathType)
		}
	}

	tx, err := w.f.Begin()
	if err != nil {
		return storageErr("appending CIR", err)
	}
	for _, l := range w.params.LinkNames {
		if err := w.appendLink(tx, w.links[l], cirs[l], refDelays[l]); err != nil {
			tx.Rollback()
			return storageErr(fmt.Sprintf("appending CIR to link %q", l), err)
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

func (w *ContinuousWriter) appendLink(tx *store.Tx, cl *continuousLink, comps []Component, refDelay float64) error {
	end := tx.Len(cl.cols[0]) + len(comps)
	if end > math.MaxInt32 {
		return fmt.Errorf("component count %d exceeds the epoch offset range", end)
	}
	types, idHi, idLo, delay, re, im := encodeComponents(comps)
	for i, v := range []interface{}{types, idHi, idLo, delay, re, im} {
		if err := tx.Append(cl.cols[i], v); err != nil {
			return err
		}
	}
	if err := tx.Append(cl.refDelays, []float64{refDelay}); err != nil {
		return err
	}
	return tx.Append(cl.offsets, []int32{int32(end)})
}

// Close flushes pending writes and closes the container. Calling Close
// more than once has no effect.
func (w *ContinuousWriter) Close() error { return w.closeWriter() }
