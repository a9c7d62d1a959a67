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
	"context"
	"fmt"
	"sync"

	"github.com/cdx-library/cdx/internal/store"
	"github.com/ctessum/requestcache"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DelayAxisCacheSize specifies the number of delay axes held in the memory
// cache shared by all DiscreteReaders. It can only be changed before any
// delay axis has been read.
var DelayAxisCacheSize = 64

var (
	// delayAxisCache holds the delay axes of recently read links, keyed
	// by file ID and link name.
	delayAxisCache *requestcache.Cache
	// delayAxisInit is used to initialize delayAxisCache.
	delayAxisInit sync.Once
)

// DiscreteReader reads windows of CIRs from a discrete-delay container.
type DiscreteReader struct {
	container

	links     map[string]*discreteLink
	linkOrder []string // storage order
}

// OpenDiscrete opens the discrete-delay container at path. An error
// wrapping ErrWrongFormat is returned if the container is of another type,
// and one wrapping ErrInconsistentLinkLengths if the links do not hold the
// same number of epochs.
func OpenDiscrete(path string) (*DiscreteReader, error) {
	f, err := store.Open(path, false)
	if err != nil {
		return nil, storageErr("opening discrete-delay container", err)
	}
	r, err := newDiscreteReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.log().WithFields(logrus.Fields{
		"path":   path,
		"links":  len(r.linkOrder),
		"epochs": r.epochs,
	}).Debug("cdx: opened discrete-delay container")
	return r, nil
}

func newDiscreteReader(f *store.File) (*DiscreteReader, error) {
	p, err := readParameters(f, DiscreteDelay)
	if err != nil {
		return nil, err
	}
	if err := positive("delay_smpl_freq_Hz", p.DelaySamplingFrequency); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongFormat, err)
	}
	links, err := readLinks(f, p)
	if err != nil {
		return nil, err
	}
	r := &DiscreteReader{
		container: container{Log: logrus.StandardLogger(), f: f, params: p},
		links:     make(map[string]*discreteLink, len(links)),
		linkOrder: links,
	}
	for i, l := range links {
		dl, err := openDiscreteLink(&r.container, l)
		if err != nil {
			return nil, err
		}
		n := dl.refDelays.Len()
		for _, d := range dl.extensible() {
			if d.Len() != n {
				return nil, fmt.Errorf("%w: %s has %d epochs but %s has %d",
					ErrInconsistentLinkLengths, d.Path(), d.Len(), dl.refDelays.Path(), n)
			}
		}
		bins := dl.yAxis.Len()
		if dl.real.RowSize() != bins || dl.imag.RowSize() != bins {
			return nil, fmt.Errorf("%w: link %q has %d delay bins but CIRs of %d and %d bins",
				ErrWrongFormat, l, bins, dl.real.RowSize(), dl.imag.RowSize())
		}
		if i == 0 {
			r.epochs = n
		} else if n != r.epochs {
			return nil, fmt.Errorf("%w: link %q has %d epochs but link %q has %d",
				ErrInconsistentLinkLengths, l, n, links[0], r.epochs)
		}
		r.links[l] = dl
	}
	return r, nil
}

// LinkNames returns the links in storage order.
func (r *DiscreteReader) LinkNames() []string { return append([]string(nil), r.linkOrder...) }

// CIRInterval returns the time between two CIRs [s].
func (r *DiscreteReader) CIRInterval() float64 { return r.params.CIRInterval() }

// EpochBounds returns the half-open epoch range covered by the time
// window [start, start+length). The bounds are not checked against the
// stored data.
func (r *DiscreteReader) EpochBounds(start, length float64) (begin, end int) {
	return EpochBounds(r.params.CIRRate, start, length)
}

func (r *DiscreteReader) link(name string) (*discreteLink, error) {
	dl, ok := r.links[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLink, name)
	}
	return dl, nil
}

// delays returns the delay axis of a link. The returned slice is shared
// with the cache and must not be modified.
func (r *DiscreteReader) delays(link string, dl *discreteLink) ([]float64, error) {
	delayAxisInit.Do(func() {
		delayAxisCache = requestcache.NewCache(func(ctx context.Context, request interface{}) (interface{}, error) {
			d := request.(*store.Dataset)
			return d.ReadFloat64(0, d.Len())
		}, 1, requestcache.Deduplicate(), requestcache.Memory(DelayAxisCacheSize))
	})
	key := r.params.FileID + "/" + link
	if r.params.FileID == "" {
		key = r.Path() + "/" + link
	}
	result, err := delayAxisCache.NewRequest(context.TODO(), dl.yAxis, key).Result()
	if err != nil {
		return nil, err
	}
	return result.([]float64), nil
}

// Delays returns the delay axis of link [s].
func (r *DiscreteReader) Delays(link string) ([]float64, error) {
	if r.closed() {
		return nil, ErrClosed
	}
	dl, err := r.link(link)
	if err != nil {
		return nil, err
	}
	y, err := r.delays(link, dl)
	if err != nil {
		return nil, storageErr("reading delay axis", err)
	}
	return append([]float64(nil), y...), nil
}

// Window holds the CIRs of one link over a range of epochs.
type Window struct {
	// CIRs holds one column per epoch and one row per delay bin. It is
	// empty when the window holds no epochs.
	CIRs *mat.CDense

	Times           []float64 // time of each epoch [s], from x_axis
	Delays          []float64 // the full delay axis [s], from y_axis
	ReferenceDelays []float64 // reference delay of each epoch [s]
}

// rawWindow holds the stored rows of a window, one row of bins per epoch.
type rawWindow struct {
	re, im, times    []float64
	bins, begin, end int
}

func (r *DiscreteReader) read(link string, start, length float64) (*discreteLink, *rawWindow, error) {
	if r.closed() {
		return nil, nil, ErrClosed
	}
	dl, err := r.link(link)
	if err != nil {
		return nil, nil, err
	}
	begin, end, err := window(r.params.CIRRate, r.Length(), start, length, r.epochs)
	if err != nil {
		return nil, nil, err
	}
	w := &rawWindow{bins: dl.yAxis.Len(), begin: begin, end: end}
	if w.re, err = dl.real.ReadFloat64(begin, end); err != nil {
		return nil, nil, storageErr("reading CIRs", err)
	}
	if w.im, err = dl.imag.ReadFloat64(begin, end); err != nil {
		return nil, nil, storageErr("reading CIRs", err)
	}
	if w.times, err = dl.xAxis.ReadFloat64(begin, end); err != nil {
		return nil, nil, storageErr("reading time axis", err)
	}
	return dl, w, nil
}

// CIRs returns the CIRs of link in the time window [start, start+length).
// If length is zero, all epochs from floor(start*cir_rate_Hz) to the end
// of the series are returned. Otherwise an error wrapping
// ErrWindowOutOfRange is returned if start+length exceeds Length.
func (r *DiscreteReader) CIRs(link string, start, length float64) (*Window, error) {
	dl, raw, err := r.read(link, start, length)
	if err != nil {
		return nil, err
	}
	y, err := r.delays(link, dl)
	if err != nil {
		return nil, storageErr("reading delay axis", err)
	}
	w := &Window{
		CIRs:   &mat.CDense{},
		Times:  raw.times,
		Delays: append([]float64(nil), y...),
	}
	if n := raw.end - raw.begin; n > 0 {
		w.CIRs = mat.NewCDense(raw.bins, n, nil)
		for j := 0; j < n; j++ {
			for i := 0; i < raw.bins; i++ {
				k := j*raw.bins + i
				w.CIRs.Set(i, j, complex(raw.re[k], raw.im[k]))
			}
		}
	}
	if w.ReferenceDelays, err = dl.refDelays.ReadFloat64(raw.begin, raw.end); err != nil {
		return nil, storageErr("reading reference delays", err)
	}
	return w, nil
}

// Power returns the time and the channel power of each epoch of link in
// the time window [start, start+length). The power of an epoch is the sum
// over the delay bins of the squared magnitude of the CIR. The window
// rules are those of CIRs.
func (r *DiscreteReader) Power(link string, start, length float64) (times, power []float64, err error) {
	_, raw, err := r.read(link, start, length)
	if err != nil {
		return nil, nil, err
	}
	n := raw.end - raw.begin
	power = make([]float64, n)
	for j := range power {
		re := raw.re[j*raw.bins : (j+1)*raw.bins]
		im := raw.im[j*raw.bins : (j+1)*raw.bins]
		power[j] = floats.Dot(re, re) + floats.Dot(im, im)
	}
	return raw.times, power, nil
}

// Close closes the container. It never fails and may be called more than
// once, including on a Reader that was never opened.
func (r *DiscreteReader) Close() { r.closeReader() }
