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

// ContinuousReader reads a continuous-delay container.
type ContinuousReader struct {
	container
	links map[string]*continuousLink

	// offsets holds the end row of each epoch for each link.
	offsets map[string][]int
}

// OpenContinuous opens the continuous-delay container at path. An error
// wrapping ErrWrongFormat is returned if the container is of another type,
// and one wrapping ErrInconsistentLinkLengths if the links do not hold the
// same number of epochs.
func OpenContinuous(path string) (*ContinuousReader, error) {
	f, err := store.Open(path, false)
	if err != nil {
		return nil, storageErr("opening continuous-delay container", err)
	}
	r, err := newContinuousReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.log().WithFields(logrus.Fields{
		"path":   path,
		"links":  len(r.params.LinkNames),
		"epochs": r.epochs,
	}).Debug("cdx: opened continuous-delay container")
	return r, nil
}

func newContinuousReader(f *store.File) (*ContinuousReader, error) {
	p, err := readParameters(f, ContinuousDelay)
	if err != nil {
		return nil, err
	}
	links, err := readLinks(f, p)
	if err != nil {
		return nil, err
	}
	r := &ContinuousReader{
		container: container{Log: logrus.StandardLogger(), f: f, params: p},
		links:     make(map[string]*continuousLink, len(links)),
		offsets:   make(map[string][]int, len(links)),
	}
	for i, l := range links {
		cl, offsets, err := r.openLink(l)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			r.epochs = len(offsets)
		} else if len(offsets) != r.epochs {
			return nil, fmt.Errorf("%w: link %q has %d epochs but link %q has %d",
				ErrInconsistentLinkLengths, l, len(offsets), links[0], r.epochs)
		}
		r.links[l] = cl
		r.offsets[l] = offsets
	}
	return r, nil
}

// openLink looks up the datasets of link and checks that they are in
// lock-step.
func (r *ContinuousReader) openLink(link string) (*continuousLink, []int, error) {
	cl := new(continuousLink)
	var err error
	for i, c := range componentColumns {
		if cl.cols[i], err = r.dataset(link, c.name); err != nil {
			return nil, nil, err
		}
		if cl.cols[i].Kind() != c.kind {
			return nil, nil, fmt.Errorf("%w: %s is %v, not %v", ErrWrongFormat, cl.cols[i].Path(), cl.cols[i].Kind(), c.kind)
		}
		if cl.cols[i].Len() != cl.cols[0].Len() {
			return nil, nil, fmt.Errorf("%w: component columns of link %q have different lengths",
				ErrInconsistentLinkLengths, link)
		}
	}
	if cl.refDelays, err = r.dataset(link, refDelaysName); err != nil {
		return nil, nil, err
	}
	if cl.offsets, err = r.dataset(link, cirOffsetsName); err != nil {
		return nil, nil, err
	}
	if cl.refDelays.Len() != cl.offsets.Len() {
		return nil, nil, fmt.Errorf("%w: link %q has %d reference delays but %d epoch offsets",
			ErrInconsistentLinkLengths, link, cl.refDelays.Len(), cl.offsets.Len())
	}
	raw, err := cl.offsets.ReadInt32(0, cl.offsets.Len())
	if err != nil {
		return nil, nil, storageErr("reading epoch offsets", err)
	}
	offsets := make([]int, len(raw))
	prev := 0
	for i, o := range raw {
		if int(o) <= prev {
			return nil, nil, fmt.Errorf("%w: epoch %d of link %q has no components", ErrSchemaViolation, i, link)
		}
		offsets[i] = int(o)
		prev = int(o)
	}
	if prev != cl.cols[0].Len() {
		return nil, nil, fmt.Errorf("%w: link %q has %d components but its epoch offsets end at %d",
			ErrInconsistentLinkLengths, link, cl.cols[0].Len(), prev)
	}
	return cl, offsets, nil
}

func (r *ContinuousReader) link(name string) (*continuousLink, error) {
	cl, ok := r.links[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLink, name)
	}
	return cl, nil
}

// readComponents reads rows [begin, end) of the component columns of cl.
func readComponents(cl *continuousLink, begin, end int) ([]Component, error) {
	types, err := cl.cols[0].ReadInt16(begin, end)
	if err != nil {
		return nil, err
	}
	var i32 [2][]int32
	for i := range i32 {
		if i32[i], err = cl.cols[1+i].ReadInt32(begin, end); err != nil {
			return nil, err
		}
	}
	var f64 [3][]float64
	for i := range f64 {
		if f64[i], err = cl.cols[3+i].ReadFloat64(begin, end); err != nil {
			return nil, err
		}
	}
	return decodeComponents(types, i32[0], i32[1], f64[0], f64[1], f64[2]), nil
}

// epochRows returns the component rows of an epoch.
func (r *ContinuousReader) epochRows(link string, epoch int) (begin, end int) {
	offsets := r.offsets[link]
	if epoch > 0 {
		begin = offsets[epoch-1]
	}
	return begin, offsets[epoch]
}

// CIR returns the components and the reference delay of link at the
// given epoch.
func (r *ContinuousReader) CIR(link string, epoch int) ([]Component, float64, error) {
	if r.closed() {
		return nil, 0, ErrClosed
	}
	cl, err := r.link(link)
	if err != nil {
		return nil, 0, err
	}
	if epoch < 0 || epoch >= r.epochs {
		return nil, 0, fmt.Errorf("%w: epoch %d is not in [0, %d)", ErrWindowOutOfRange, epoch, r.epochs)
	}
	begin, end := r.epochRows(link, epoch)
	comps, err := readComponents(cl, begin, end)
	if err != nil {
		return nil, 0, storageErr("reading CIR", err)
	}
	ref, err := cl.refDelays.ReadFloat64(epoch, epoch+1)
	if err != nil {
		return nil, 0, storageErr("reading reference delay", err)
	}
	return comps, ref[0], nil
}

// ContinuousWindow holds the CIRs of one link over a range of epochs.
type ContinuousWindow struct {
	Times           []float64     // time of each epoch [s]
	CIRs            [][]Component // components of each epoch
	ReferenceDelays []float64     // reference delay of each epoch [s]
}

// CIRs returns the CIRs of link in the time window [start, start+length).
// The window rules are those of DiscreteReader.CIRs.
func (r *ContinuousReader) CIRs(link string, start, length float64) (*ContinuousWindow, error) {
	if r.closed() {
		return nil, ErrClosed
	}
	cl, err := r.link(link)
	if err != nil {
		return nil, err
	}
	begin, end, err := window(r.params.CIRRate, r.Length(), start, length, r.epochs)
	if err != nil {
		return nil, err
	}
	w := &ContinuousWindow{
		Times: make([]float64, end-begin),
		CIRs:  make([][]Component, end-begin),
	}
	if begin == end {
		w.ReferenceDelays = []float64{}
		return w, nil
	}
	rowBegin, _ := r.epochRows(link, begin)
	_, rowEnd := r.epochRows(link, end-1)
	comps, err := readComponents(cl, rowBegin, rowEnd)
	if err != nil {
		return nil, storageErr("reading CIRs", err)
	}
	for k := begin; k < end; k++ {
		b, e := r.epochRows(link, k)
		w.CIRs[k-begin] = comps[b-rowBegin : e-rowBegin : e-rowBegin]
		w.Times[k-begin] = float64(k) / r.params.CIRRate
	}
	if w.ReferenceDelays, err = cl.refDelays.ReadFloat64(begin, end); err != nil {
		return nil, storageErr("reading reference delays", err)
	}
	return w, nil
}

// Close closes the container. It never fails and may be called more than
// once.
func (r *ContinuousReader) Close() { r.closeReader() }
