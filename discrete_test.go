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
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	"github.com/cdx-library/cdx/internal/store"
)

const testRate = 10

var testDelays = []float64{0, 1e-9, 2e-9, 3e-9}

// testDiscreteEpoch returns the CIRs of epoch k: a unit impulse in bin
// k%4 on satellite0 and k+1i in bin 0 on satellite1.
func testDiscreteEpoch(k int) (map[string][]complex128, map[string]float64) {
	s0 := make([]complex128, len(testDelays))
	s0[k%len(testDelays)] = 1
	s1 := make([]complex128, len(testDelays))
	s1[0] = complex(float64(k), 1)
	return map[string][]complex128{"satellite0": s0, "satellite1": s1},
		map[string]float64{"satellite0": float64(k) * 1e-3, "satellite1": 0.5}
}

// writeTestDiscrete writes a discrete-delay container with the given
// number of epochs and returns its path.
func writeTestDiscrete(t *testing.T, epochs int) string {
	path := filepath.Join(t.TempDir(), "test.cdd")
	w, err := CreateDiscrete(path, &Parameters{
		C0:                     299792458,
		CIRRate:                testRate,
		TransmitterFrequency:   1.5e9,
		DelaySamplingFrequency: 1e9,
		LinkNames:              []string{"satellite0", "satellite1"},
		ComponentTypes:         testTypes,
	}, testDelays)
	if err != nil {
		t.Fatal(err)
	}
	for k := 0; k < epochs; k++ {
		cirs, refs := testDiscreteEpoch(k)
		if err := w.AppendCIR(cirs, refs); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func openTestDiscrete(t *testing.T) *DiscreteReader {
	r, err := OpenDiscrete(writeTestDiscrete(t, 10))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestOpenDiscrete(t *testing.T) {
	r := openTestDiscrete(t)
	defer r.Close()

	if have, want := r.LinkNames(), []string{"satellite0", "satellite1"}; !reflect.DeepEqual(have, want) {
		t.Errorf("links: have %v, want %v", have, want)
	}
	if r.NumEpochs() != 10 {
		t.Errorf("epochs: have %d, want 10", r.NumEpochs())
	}
	if r.Length() != 1 {
		t.Errorf("length: have %g, want 1", r.Length())
	}
	if r.CIRInterval() != 0.1 {
		t.Errorf("interval: have %g, want 0.1", r.CIRInterval())
	}
	p := r.Parameters()
	if p.DelayType != DiscreteDelay || p.DelaySamplingFrequency != 1e9 || p.C0 != 299792458 ||
		p.TransmitterFrequency != 1.5e9 {
		t.Errorf("parameters: %+v", p)
	}
	if !reflect.DeepEqual(p.ComponentTypes, testTypes) {
		t.Errorf("component types: %v", p.ComponentTypes)
	}
	if wl := p.Wavelength(); math.Abs(wl.Value()-0.19986) > 1e-5 {
		t.Errorf("wavelength: %v", wl)
	}
}

func TestEpochBounds(t *testing.T) {
	r := openTestDiscrete(t)
	defer r.Close()
	tests := []struct {
		start, length float64
		begin, end    int
	}{
		{0, 0, 0, 0},
		{0, 1, 0, 10},
		{0.25, 0.5, 2, 7},
		{0.5, 0.05, 5, 5},
		{2, 1, 20, 30},
	}
	for _, test := range tests {
		begin, end := r.EpochBounds(test.start, test.length)
		if begin != test.begin || end != test.end {
			t.Errorf("EpochBounds(%g, %g) = (%d, %d), want (%d, %d)",
				test.start, test.length, begin, end, test.begin, test.end)
		}
	}
}

func TestDiscreteWindow(t *testing.T) {
	r := openTestDiscrete(t)
	defer r.Close()

	for i := 0; i <= 8; i++ {
		for j := 1; i+j <= 8; j++ {
			start, length := float64(i)*0.125, float64(j)*0.125
			w, err := r.CIRs("satellite0", start, length)
			if err != nil {
				t.Fatalf("(%g, %g): %v", start, length, err)
			}
			begin := int(math.Floor(start * testRate))
			n := int(math.Floor((start+length)*testRate)) - begin
			if len(w.Times) != n || len(w.ReferenceDelays) != n {
				t.Errorf("(%g, %g): %d times and %d reference delays, want %d",
					start, length, len(w.Times), len(w.ReferenceDelays), n)
			}
			if n == 0 {
				if !w.CIRs.IsEmpty() {
					t.Errorf("(%g, %g): matrix not empty", start, length)
				}
				continue
			}
			if rows, cols := w.CIRs.Dims(); rows != len(testDelays) || cols != n {
				t.Errorf("(%g, %g): matrix is %dx%d, want %dx%d", start, length, rows, cols, len(testDelays), n)
			}
			if !reflect.DeepEqual(w.Delays, testDelays) {
				t.Errorf("(%g, %g): delays %v", start, length, w.Delays)
			}
			for k := 0; k < n; k++ {
				epoch := begin + k
				if w.Times[k] != float64(epoch)/testRate {
					t.Errorf("(%g, %g): time %d is %g", start, length, k, w.Times[k])
				}
				if w.ReferenceDelays[k] != float64(epoch)*1e-3 {
					t.Errorf("(%g, %g): reference delay %d is %g", start, length, k, w.ReferenceDelays[k])
				}
				for b := range testDelays {
					want := complex128(0)
					if b == epoch%len(testDelays) {
						want = 1
					}
					if v := w.CIRs.At(b, k); v != want {
						t.Errorf("(%g, %g): bin %d of epoch %d is %v, want %v", start, length, b, epoch, v, want)
					}
				}
			}
		}
	}
}

func TestDiscreteWindowOutOfRange(t *testing.T) {
	r := openTestDiscrete(t)
	defer r.Close()
	for _, w := range [][2]float64{{0.5, 0.625}, {0, 1.01}, {0.99, 0.02}, {1, 0.1}, {-0.1, 0.2}, {0, -1}} {
		_, err := r.CIRs("satellite0", w[0], w[1])
		if !errors.Is(err, ErrWindowOutOfRange) {
			t.Errorf("(%g, %g): have %v, want %v", w[0], w[1], err, ErrWindowOutOfRange)
		}
		var werr WindowErr
		if !errors.As(err, &werr) || werr.FileLength != 1 {
			t.Errorf("(%g, %g): error %#v", w[0], w[1], err)
		}
		if _, _, err := r.Power("satellite0", w[0], w[1]); !errors.Is(err, ErrWindowOutOfRange) {
			t.Errorf("power (%g, %g): have %v, want %v", w[0], w[1], err, ErrWindowOutOfRange)
		}
	}
	if _, err := r.CIRs("satellite0", 1.5, 0); !errors.Is(err, ErrWindowOutOfRange) {
		t.Errorf("zero length past end: %v", err)
	}
}

func TestDiscreteZeroLength(t *testing.T) {
	r := openTestDiscrete(t)
	defer r.Close()
	tests := []struct {
		start  float64
		epochs int
	}{
		{0, 10},
		{0.25, 8},
		{0.5, 5},
		{1, 0},
	}
	for _, test := range tests {
		w, err := r.CIRs("satellite1", test.start, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(w.Times) != test.epochs {
			t.Errorf("start %g: %d epochs, want %d", test.start, len(w.Times), test.epochs)
		}
		if test.epochs > 0 {
			if _, cols := w.CIRs.Dims(); cols != test.epochs {
				t.Errorf("start %g: %d matrix columns", test.start, cols)
			}
			if w.Times[len(w.Times)-1] != 0.9 {
				t.Errorf("start %g: last time %g", test.start, w.Times[len(w.Times)-1])
			}
		}
	}
}

func TestDiscretePower(t *testing.T) {
	r := openTestDiscrete(t)
	defer r.Close()

	times, power, err := r.Power("satellite0", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	ones := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	if !reflect.DeepEqual(power, ones) {
		t.Errorf("unit impulse power: %v", power)
	}
	if len(times) != 10 || times[3] != 0.3 {
		t.Errorf("times: %v", times)
	}

	times, power, err = r.Power("satellite1", 0.25, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{5, 10, 17, 26, 37}; !reflect.DeepEqual(power, want) {
		t.Errorf("power: have %v, want %v", power, want)
	}
	w, err := r.CIRs("satellite1", 0.25, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(times, w.Times) {
		t.Errorf("power times %v differ from CIR times %v", times, w.Times)
	}
	for j := range power {
		var sum float64
		for i := range w.Delays {
			v := w.CIRs.At(i, j)
			sum += real(v)*real(v) + imag(v)*imag(v)
		}
		if sum != power[j] {
			t.Errorf("epoch %d: power %g, matrix sum %g", j, power[j], sum)
		}
	}
}

func TestDiscreteReaderErrors(t *testing.T) {
	r := openTestDiscrete(t)
	if _, err := r.CIRs("satellite7", 0, 0); !errors.Is(err, ErrUnknownLink) {
		t.Errorf("unknown link: %v", err)
	}
	if _, _, err := r.Power("satellite7", 0, 0); !errors.Is(err, ErrUnknownLink) {
		t.Errorf("power of unknown link: %v", err)
	}
	r.Close()
	r.Close()
	if _, err := r.CIRs("satellite0", 0, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("read after close: %v", err)
	}

	var never DiscreteReader
	never.Close()
}

func TestOpenDiscreteWrongFormat(t *testing.T) {
	w, path := newTestContinuous(t)
	cirs, refs := testEpoch(2)
	if err := w.AppendCIR(cirs, refs); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	r, err := OpenDiscrete(path)
	if !errors.Is(err, ErrWrongFormat) {
		t.Errorf("have %v, want %v", err, ErrWrongFormat)
	}
	if r != nil {
		t.Error("reader returned with error")
	}
}

func TestOpenDiscreteInconsistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inconsistent.cdd")
	p := newParameters(DiscreteDelay, 1, testRate, 1, []string{"a", "b"}, nil)
	p.DelaySamplingFrequency = 1
	s := store.NewSchema()
	p.addTo(s)
	for _, l := range p.LinkNames {
		s.AddExtensible(linkPath(l, cirsRealName), store.Float64, 1)
		s.AddExtensible(linkPath(l, cirsImagName), store.Float64, 1)
		s.AddExtensible(linkPath(l, refDelaysName), store.Float64)
		s.AddExtensible(linkPath(l, xAxisName), store.Float64)
		s.AddFloat64s(linkPath(l, yAxisName), []float64{0})
	}
	f, err := store.Create(path, s)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := f.Begin()
	if err != nil {
		t.Fatal(err)
	}
	// Link a gets two epochs and link b one.
	for _, name := range []string{"a", "a", "b"} {
		for _, d := range []string{cirsRealName, cirsImagName, refDelaysName, xAxisName} {
			ds, err := f.Dataset(linkPath(name, d))
			if err != nil {
				t.Fatal(err)
			}
			if err := tx.Append(ds, []float64{0}); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenDiscrete(path); !errors.Is(err, ErrInconsistentLinkLengths) {
		t.Errorf("have %v, want %v", err, ErrInconsistentLinkLengths)
	}
}

func TestDiscreteWriterErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.cdd")
	w, err := CreateDiscrete(path, &Parameters{
		C0: 1, CIRRate: 1, DelaySamplingFrequency: 1,
		LinkNames: []string{"a"},
	}, []float64{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	refs := map[string]float64{"a": 0}
	if err := w.AppendCIR(map[string][]complex128{"a": {1}}, refs); !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("wrong bin count: %v", err)
	}
	if err := w.AppendCIR(map[string][]complex128{}, refs); !errors.Is(err, ErrMissingLink) {
		t.Errorf("missing link: %v", err)
	}
	if err := w.AppendCIR(map[string][]complex128{"a": {1, 0}, "b": {1, 0}}, refs); !errors.Is(err, ErrUnknownLink) {
		t.Errorf("unknown link: %v", err)
	}
	if w.NumEpochs() != 0 {
		t.Errorf("failed appends stored %d epochs", w.NumEpochs())
	}

	if _, err := CreateDiscrete(filepath.Join(t.TempDir(), "nobins.cdd"), &Parameters{
		C0: 1, CIRRate: 1, DelaySamplingFrequency: 1, LinkNames: []string{"a"},
	}, nil); err == nil {
		t.Error("empty delay axis accepted")
	}
	if _, err := CreateDiscrete(filepath.Join(t.TempDir(), "nofs.cdd"), &Parameters{
		C0: 1, CIRRate: 1, LinkNames: []string{"a"},
	}, []float64{0}); err == nil {
		t.Error("zero delay sampling frequency accepted")
	}
}

// Opening, reading and closing containers repeatedly must not leave
// goroutines behind.
func TestDiscreteReaderGoroutines(t *testing.T) {
	paths := []string{writeTestDiscrete(t, 10), writeTestDiscrete(t, 5)}
	cycle := func(path string) {
		r, err := OpenDiscrete(path)
		if err != nil {
			t.Fatal(err)
		}
		defer r.Close()
		if _, err := r.CIRs("satellite0", 0.1, 0.2); err != nil {
			t.Fatal(err)
		}
		if _, _, err := r.Power("satellite1", 0, 0); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Delays("satellite1"); err != nil {
			t.Fatal(err)
		}
	}
	cycle(paths[0])
	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		cycle(paths[i%2])
	}
	if after := runtime.NumGoroutine(); after > before+2 {
		t.Errorf("goroutines grew from %d to %d over 50 open/close cycles", before, after)
	}
}
