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
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/cdx-library/cdx/internal/store"
)

func TestDelayAxis(t *testing.T) {
	tests := []struct {
		o    ConvertOptions
		want []float64
	}{
		{
			o:    ConvertOptions{DelayBefore: 1, DelayAfter: 2, SamplingFrequency: 1},
			want: []float64{-1, 0, 1, 2},
		},
		{
			o:    ConvertOptions{DelayBefore: 0, DelayAfter: 1, SamplingFrequency: 4},
			want: []float64{0, 0.25, 0.5, 0.75, 1},
		},
		{
			o:    ConvertOptions{SamplingFrequency: 4},
			want: []float64{0},
		},
	}
	for _, test := range tests {
		have, err := test.o.DelayAxis()
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(have, test.want) {
			t.Errorf("%+v: have %v, want %v", test.o, have, test.want)
		}
	}
	for _, o := range []ConvertOptions{
		{DelayBefore: 1, DelayAfter: 1},
		{DelayBefore: -1, DelayAfter: 1, SamplingFrequency: 1},
		{DelayBefore: math.Inf(1), SamplingFrequency: 1},
	} {
		if _, err := o.DelayAxis(); err == nil {
			t.Errorf("%+v: expected an error", o)
		}
	}
	if n := func() int { d, _ := DefaultConvertOptions.DelayAxis(); return len(d) }(); n != 201 {
		t.Errorf("default axis has %d bins, want 201", n)
	}
}

func TestSinc(t *testing.T) {
	for x, want := range map[float64]float64{0: 1, 1: 0, -3: 0, 0.5: 2 / math.Pi} {
		if have := sinc(x); math.Abs(have-want) > 1e-15 {
			t.Errorf("sinc(%g) = %g, want %g", x, have, want)
		}
	}
}

func TestConvertContinuousToDiscrete(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.cdx")
	out := filepath.Join(dir, "out.cdd")

	w, err := CreateContinuous(in, 299792458, testRate, 1.5e9, []string{"satellite0", "satellite1"}, testTypes)
	if err != nil {
		t.Fatal(err)
	}
	for k := 0; k < 3; k++ {
		err := w.AppendCIR(map[string][]Component{
			"satellite0": {
				{Real: 1},
				{Type: 256, ID: 1, Delay: 2e-9, Real: 0.5, Imag: float64(k)},
			},
			"satellite1": {{Real: 0, Imag: 1}},
		}, map[string]float64{"satellite0": float64(k), "satellite1": 0.25})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	o := ConvertOptions{DelayBefore: 1e-9, DelayAfter: 3e-9, SamplingFrequency: 1e9}
	if err := ConvertContinuousToDiscrete(in, out, o); err != nil {
		t.Fatal(err)
	}
	if err := ConvertContinuousToDiscrete(in, out, o); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("overwriting output: %v", err)
	}

	r, err := OpenDiscrete(out)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	p := r.Parameters()
	if p.C0 != 299792458 || p.CIRRate != testRate || p.DelaySamplingFrequency != 1e9 {
		t.Errorf("parameters: %+v", p)
	}
	if !reflect.DeepEqual(p.ComponentTypes, testTypes) {
		t.Errorf("component types: %v", p.ComponentTypes)
	}
	if r.NumEpochs() != 3 {
		t.Fatalf("epochs: have %d, want 3", r.NumEpochs())
	}

	win, err := r.CIRs("satellite0", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	wantDelays, _ := o.DelayAxis()
	if !reflect.DeepEqual(win.Delays, wantDelays) {
		t.Errorf("delays: have %v, want %v", win.Delays, wantDelays)
	}
	if !reflect.DeepEqual(win.ReferenceDelays, []float64{0, 1, 2}) {
		t.Errorf("reference delays: %v", win.ReferenceDelays)
	}
	for k := 0; k < 3; k++ {
		want := []complex128{0, 1, 0, complex(0.5, float64(k)), 0}
		for i, v := range want {
			if have := win.CIRs.At(i, k); have != v {
				t.Errorf("epoch %d, bin %d: have %v, want %v", k, i, have, v)
			}
		}
	}

	_, power, err := r.Power("satellite1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(power, []float64{1, 1, 1}) {
		t.Errorf("power: %v", power)
	}
}

func TestConvertWrongFormat(t *testing.T) {
	in := writeTestDiscrete(t, 1)
	out := filepath.Join(t.TempDir(), "out.cdd")
	if err := ConvertContinuousToDiscrete(in, out, DefaultConvertOptions); !errors.Is(err, ErrWrongFormat) {
		t.Errorf("have %v, want %v", err, ErrWrongFormat)
	}
}

// A conversion that fails part way must not leave a partial output behind,
// so it can be retried.
func TestConvertFailureRemovesOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.cdx")
	out := filepath.Join(dir, "out.cdd")

	w, err := CreateContinuous(in, 299792458, testRate, 1.5e9, []string{"satellite0", "satellite1"}, testTypes)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{1, 600} {
		comps := []Component{{Real: 1}}
		for i := 1; i < n; i++ {
			comps = append(comps, Component{Type: 256, ID: uint64(i), Delay: float64(i) * 1e-12, Real: 0.1})
		}
		err := w.AppendCIR(map[string][]Component{"satellite0": comps, "satellite1": {{Real: 1}}},
			map[string]float64{"satellite0": 0, "satellite1": 0})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Cut off the end of the components of the second epoch.
	fi, err := os.Stat(in)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(in, fi.Size()-store.DefaultChunkSize+16); err != nil {
		t.Fatal(err)
	}
	r, err := OpenContinuous(in)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.CIR("satellite0", 0); err != nil {
		t.Fatalf("first epoch should be intact: %v", err)
	}
	if _, _, err := r.CIR("satellite0", 1); err == nil {
		t.Fatal("second epoch should be unreadable")
	}
	r.Close()

	if err := ConvertContinuousToDiscrete(in, out, DefaultConvertOptions); err == nil {
		t.Fatal("converting a damaged container should fail")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("failed conversion left %s behind: %v", out, err)
	}

	good := filepath.Join(dir, "good.cdx")
	w, err = CreateContinuous(good, 299792458, testRate, 1.5e9, []string{"satellite0"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.AppendCIR(map[string][]Component{"satellite0": {{Real: 1}}},
		map[string]float64{"satellite0": 0}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ConvertContinuousToDiscrete(good, out, DefaultConvertOptions); err != nil {
		t.Errorf("retrying into the same output: %v", err)
	}
}
