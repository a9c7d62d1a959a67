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
	"os"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// ConvertOptions configures ConvertContinuousToDiscrete.
type ConvertOptions struct {
	// DelayBefore and DelayAfter give the extent of the delay axis before
	// and after the direct path [s].
	DelayBefore, DelayAfter float64

	// SamplingFrequency is the sampling rate of the delay axis [Hz].
	SamplingFrequency float64

	// Log receives progress messages. It defaults to the logrus
	// standard logger.
	Log logrus.FieldLogger
}

// DefaultConvertOptions are the options used by the cdx command when
// none are given.
var DefaultConvertOptions = ConvertOptions{
	DelayBefore:       0.1e-6,
	DelayAfter:        0.1e-6,
	SamplingFrequency: 1000e6,
}

// DelayAxis returns the delay axis described by o. It runs from
// -DelayBefore to DelayAfter in steps of 1/SamplingFrequency.
func (o ConvertOptions) DelayAxis() ([]float64, error) {
	if err := positive("sampling frequency", o.SamplingFrequency); err != nil {
		return nil, err
	}
	if o.DelayBefore < 0 || o.DelayAfter < 0 || math.IsNaN(o.DelayBefore+o.DelayAfter) ||
		math.IsInf(o.DelayBefore+o.DelayAfter, 0) {
		return nil, fmt.Errorf("cdx: delays before (%g s) and after (%g s) must not be negative",
			o.DelayBefore, o.DelayAfter)
	}
	n := int(math.Floor((o.DelayBefore+o.DelayAfter)*o.SamplingFrequency+1e-9)) + 1
	if n > 1<<24 {
		return nil, fmt.Errorf("cdx: delay axis of %d bins is too long", n)
	}
	delays := make([]float64, n)
	if n == 1 {
		delays[0] = -o.DelayBefore
		return delays, nil
	}
	return floats.Span(delays, -o.DelayBefore, -o.DelayBefore+float64(n-1)/o.SamplingFrequency), nil
}

// sinc is the normalized sinc function sin(πx)/(πx).
func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	if x == math.Trunc(x) {
		return 0
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// sample projects comps onto the delay axis with a band-limited kernel.
// Row 0 of the result holds the real parts and row 1 the imaginary parts.
func sample(comps []Component, delays []float64, fs float64) *sparse.DenseArray {
	a := sparse.ZerosDense(2, len(delays))
	for _, c := range comps {
		for i, d := range delays {
			// Offsets are rounded to 1e-6 samples so that on-grid
			// components fall exactly on one bin.
			k := sinc(math.Round((d-c.Delay)*fs*1e6) / 1e6)
			if k == 0 {
				continue
			}
			a.AddVal(c.Real*k, 0, i)
			a.AddVal(c.Imag*k, 1, i)
		}
	}
	return a
}

// ConvertContinuousToDiscrete reads the continuous-delay container at in
// and writes its CIRs, sampled on the delay axis given by o, to a new
// discrete-delay container at out. The parameters and links of in are
// carried over. On error, no container is left at out.
func ConvertContinuousToDiscrete(in, out string, o ConvertOptions) (err error) {
	log := o.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	delays, err := o.DelayAxis()
	if err != nil {
		return err
	}
	r, err := OpenContinuous(in)
	if err != nil {
		return err
	}
	defer r.Close()
	r.Log = log

	p := *r.Parameters()
	p.DelaySamplingFrequency = o.SamplingFrequency
	w, err := CreateDiscrete(out, &p, delays)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			w.Close()
			if rerr := os.Remove(out); rerr != nil {
				log.WithError(rerr).WithField("output", out).Warn("cdx: removing partial container")
			}
		}
	}()
	w.Log = log
	log.WithFields(logrus.Fields{
		"input":  in,
		"output": out,
		"epochs": r.NumEpochs(),
		"bins":   len(delays),
	}).Debug("cdx: converting continuous-delay container")

	cirs := make(map[string][]complex128, len(p.LinkNames))
	refDelays := make(map[string]float64, len(p.LinkNames))
	for k := 0; k < r.NumEpochs(); k++ {
		for _, l := range p.LinkNames {
			comps, ref, err := r.CIR(l, k)
			if err != nil {
				return err
			}
			a := sample(comps, delays, o.SamplingFrequency)
			cir := make([]complex128, len(delays))
			for i := range cir {
				cir[i] = complex(a.Get(0, i), a.Get(1, i))
			}
			cirs[l] = cir
			refDelays[l] = ref
		}
		if err := w.AppendCIR(cirs, refDelays); err != nil {
			return err
		}
		if (k+1)%1000 == 0 {
			log.WithField("epoch", k+1).Debug("cdx: converted epochs")
		}
	}
	return w.Close()
}
