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

// Package store provides a hierarchical container of groups, typed datasets
// and attributes on top of NetCDF 'classic' files.
//
// Groups are slash-separated prefixes of dataset and attribute names, so
// "links/satellite0/reference_delays" is the dataset "reference_delays" in
// the group "links/satellite0". Datasets are either fixed, with their
// contents supplied when the container is created, or extensible along
// their first axis.
//
// Fixed datasets are ordinary NetCDF variables. Extensible datasets are
// stored as big-endian rows in fixed-size chunks of a single BYTE record
// variable, and a parallel record variable names the dataset that owns each
// chunk, so a dataset only takes up space for the rows written to it. The
// number of rows committed to each extensible dataset and the number of
// allocated chunks are kept in a separate extents dataset which is
// rewritten once per committed transaction.
package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Kind is the element type of a dataset.
type Kind int

// These are the supported dataset kinds.
const (
	Char Kind = iota + 1
	Int16
	Int32
	Float64
)

func (k Kind) String() string {
	switch k {
	case Char:
		return "CHAR"
	case Int16:
		return "SHORT"
	case Int32:
		return "INT"
	case Float64:
		return "DOUBLE"
	}
	return fmt.Sprintf("<%d>", int(k))
}

// prototype returns a value whose dynamic type selects k in a cdf header.
func (k Kind) prototype() interface{} {
	switch k {
	case Char:
		return ""
	case Int16:
		return []int16{0}
	case Int32:
		return []int32{0}
	case Float64:
		return []float64{0}
	}
	panic(fmt.Errorf("store: invalid kind %d", int(k)))
}

// size returns the number of bytes in one element of kind k.
func (k Kind) size() int {
	switch k {
	case Char:
		return 1
	case Int16:
		return 2
	case Int32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// make returns a slice of n elements of the Go type that holds k.
func (k Kind) make(n int) interface{} {
	switch k {
	case Char:
		return make([]uint8, n)
	case Int16:
		return make([]int16, n)
	case Int32:
		return make([]int32, n)
	case Float64:
		return make([]float64, n)
	}
	return nil
}

// encode returns the big-endian bytes of values.
func encode(values interface{}) ([]byte, error) {
	if s, ok := values.(string); ok {
		return []byte(s), nil
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, values); err != nil {
		return nil, fmt.Errorf("store: encoding %T: %w", values, err)
	}
	return buf.Bytes(), nil
}

// decode converts big-endian bytes into a slice of kind k.
func decode(k Kind, b []byte) (interface{}, error) {
	v := k.make(len(b) / k.size())
	if err := binary.Read(bytes.NewReader(b), binary.BigEndian, v); err != nil {
		return nil, fmt.Errorf("store: decoding %v values: %w", k, err)
	}
	return v, nil
}

// kindOf returns the kind of the slice v and its length.
func kindOf(v interface{}) (Kind, int, error) {
	switch vv := v.(type) {
	case []uint8:
		return Char, len(vv), nil
	case string:
		return Char, len(vv), nil
	case []int16:
		return Int16, len(vv), nil
	case []int32:
		return Int32, len(vv), nil
	case []float64:
		return Float64, len(vv), nil
	}
	return 0, 0, fmt.Errorf("store: unsupported value type %T", v)
}

// These are the errors returned by the package.
var (
	ErrExist    = errors.New("store: container already exists")
	ErrNotFound = errors.New("store: no such dataset or attribute")
	ErrClosed   = errors.New("store: container is closed")
	ErrReadOnly = errors.New("store: container is read-only")
	ErrRange    = errors.New("store: row range out of bounds")
)

const (
	recordDim   = "record"
	extentsName = "_extents"
	ownerName   = "_owner"
	heapName    = "_heap"
	orderAttr   = "_order"
)

// DefaultChunkSize is the number of bytes in one chunk of extensible data
// when Schema.ChunkSize is not set.
const DefaultChunkSize = 1024

type datasetDef struct {
	path  string
	kind  Kind
	shape []int
	data  interface{}
	ext   bool
}

func (d *datasetDef) extensible() bool { return d.ext }

type attrDef struct {
	name  string
	value interface{}
}

// Unlimited is the length of the first axis of an extensible dataset.
const Unlimited = 0

// A Schema describes the layout of a container that is yet to be created.
// Definition order is preserved and becomes the storage order reported by
// File.Groups.
type Schema struct {
	// ChunkSize is the number of bytes allocated at a time to an
	// extensible dataset. Each extensible dataset wastes at most one
	// partly filled chunk. Zero means DefaultChunkSize.
	ChunkSize int

	datasets []datasetDef
	attrs    []attrDef
	names    map[string]struct{}
}

// NewSchema returns an empty Schema.
func NewSchema() *Schema {
	return &Schema{names: make(map[string]struct{})}
}

func (s *Schema) checkName(path string) {
	path = Clean(path)
	if path == "" || strings.HasPrefix(path, "_") {
		panic(fmt.Errorf("store: invalid dataset path %q", path))
	}
	if _, ok := s.names[path]; ok {
		panic(fmt.Errorf("store: repeated dataset %s", path))
	}
	s.names[path] = struct{}{}
}

// AddExtensible adds a dataset that grows along its first axis. rowShape
// gives the lengths of any remaining axes. Repeated paths cause a panic.
func (s *Schema) AddExtensible(path string, kind Kind, rowShape ...int) {
	s.checkName(path)
	for _, l := range rowShape {
		if l <= 0 {
			panic(fmt.Errorf("store: dataset %s has an invalid row shape %v", path, rowShape))
		}
	}
	shape := append([]int{Unlimited}, rowShape...)
	s.datasets = append(s.datasets, datasetDef{path: Clean(path), kind: kind, shape: shape, ext: true})
}

// AddFloat64s adds a fixed one-dimensional dataset holding values.
func (s *Schema) AddFloat64s(path string, values []float64) {
	s.checkName(path)
	s.datasets = append(s.datasets, datasetDef{
		path:  Clean(path),
		kind:  Float64,
		shape: []int{len(values)},
		data:  append([]float64(nil), values...),
	})
}

// AddStrings adds a fixed two-dimensional CHAR dataset holding one value
// per row, padded with NUL bytes to the length of the longest value.
func (s *Schema) AddStrings(path string, values []string) {
	s.checkName(path)
	width := 1
	for _, v := range values {
		if len(v) > width {
			width = len(v)
		}
	}
	buf := make([]uint8, len(values)*width)
	for i, v := range values {
		copy(buf[i*width:], v)
	}
	s.datasets = append(s.datasets, datasetDef{
		path:  Clean(path),
		kind:  Char,
		shape: []int{len(values), width},
		data:  buf,
	})
}

// SetAttr sets the attribute name of the group at path. Values may be
// strings, float64s, ints or slices of float64 or int32.
func (s *Schema) SetAttr(path, name string, value interface{}) {
	var v interface{}
	switch vv := value.(type) {
	case string:
		v = vv
	case float64:
		v = []float64{vv}
	case int:
		v = []int32{int32(vv)}
	case int32:
		v = []int32{vv}
	case []float64:
		v = append([]float64(nil), vv...)
	case []int32:
		v = append([]int32(nil), vv...)
	default:
		panic(fmt.Errorf("store: unsupported attribute type %T", value))
	}
	key := Join(path, name)
	for i := range s.attrs {
		if s.attrs[i].name == key {
			s.attrs[i].value = v
			return
		}
	}
	s.attrs = append(s.attrs, attrDef{name: key, value: v})
}

// Clean trims leading and trailing slashes from a path.
func Clean(path string) string { return strings.Trim(path, "/") }

// Join joins path elements with slashes, ignoring empty elements.
func Join(elem ...string) string {
	var parts []string
	for _, e := range elem {
		if e = Clean(e); e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}
