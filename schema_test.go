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
	"reflect"
	"strings"
	"testing"
)

func TestEncodeComponents(t *testing.T) {
	comps := []Component{
		{Type: 0, ID: 0, Delay: 0, Real: 1},
		{Type: math.MaxUint16, ID: math.MaxUint64, Delay: 1e-9, Real: -0.5, Imag: 0.25},
		{Type: 0x8000, ID: 1<<63 | 7, Delay: 2.5e-7, Imag: -1},
	}
	have := decodeComponents(encodeComponents(comps))
	if !reflect.DeepEqual(have, comps) {
		t.Errorf("have %+v, want %+v", have, comps)
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name          string
		start, length float64
		n             int
		begin, end    int
		err           string // part of the error message
	}{
		{name: "all", start: 0, length: 0, n: 10, begin: 0, end: 10},
		{name: "tail", start: 0.55, length: 0, n: 10, begin: 5, end: 10},
		{name: "end", start: 1, length: 0, n: 10, begin: 10, end: 10},
		{name: "past end", start: 1.1, length: 0, n: 10, err: "start time (1.1 s) is past the end of the file (1 s)"},
		{name: "middle", start: 0.25, length: 0.5, n: 10, begin: 2, end: 7},
		{name: "exact", start: 0, length: 1, n: 10, begin: 0, end: 10},
		{name: "too long", start: 0.5, length: 0.75, n: 10, err: "start time + length (1.25 s) exceeds file length (1 s)"},
		{name: "negative", start: -1, length: 0.5, n: 10, err: "invalid time window"},
		{name: "negative length", start: 0, length: -0.5, n: 10, err: "invalid time window"},
		{name: "nan", start: math.NaN(), length: 0.5, n: 10, err: "must be non-negative"},
		{name: "empty", start: 0, length: 0, n: 0, begin: 0, end: 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			begin, end, err := window(10, float64(test.n)/10, test.start, test.length, test.n)
			if test.err != "" {
				if !errors.Is(err, ErrWindowOutOfRange) {
					t.Fatalf("have %v, want %v", err, ErrWindowOutOfRange)
				}
				if !strings.Contains(err.Error(), test.err) {
					t.Errorf("message %q does not contain %q", err, test.err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if begin != test.begin || end != test.end {
				t.Errorf("have [%d, %d), want [%d, %d)", begin, end, test.begin, test.end)
			}
		})
	}
}

func TestCheckLinkSet(t *testing.T) {
	p := &Parameters{LinkNames: []string{"a", "b"}}
	if err := checkLinkSet(p, map[string]int{"a": 1, "b": 2}, "x"); err != nil {
		t.Error(err)
	}
	if err := checkLinkSet(p, map[string]int{"a": 1}, "x"); !errors.Is(err, ErrMissingLink) {
		t.Errorf("missing: %v", err)
	}
	if err := checkLinkSet(p, map[string]int{"a": 1, "b": 2, "c": 3}, "x"); !errors.Is(err, ErrUnknownLink) {
		t.Errorf("unknown: %v", err)
	}
	if err := checkLinkSet(p, map[string][]complex128{"a": nil, "b": {1}}, "x"); err != nil {
		t.Error(err)
	}
	if err := checkLinkSet(p, map[string]float64{"b": 1}, "x"); !errors.Is(err, ErrMissingLink) {
		t.Errorf("missing float: %v", err)
	}
}
