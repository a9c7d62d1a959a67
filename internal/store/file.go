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

package store

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/ctessum/cdf"
)

// File is an open container.
type File struct {
	ff       *os.File
	cf       *cdf.File
	path     string
	writable bool

	datasets map[string]*Dataset
	order    []string // dataset paths in storage order

	// extents holds the committed row counts of the extensible
	// datasets, in storage order.
	extents []int

	chunkSize int
	chunks    [][]int // committed chunk records of each extensible dataset
	nChunks   int     // number of committed chunk records
}

// Create creates a new container at path with the layout given by s and
// writes the contents of its fixed datasets. It returns an error wrapping
// ErrExist if path already exists.
func Create(path string, s *Schema) (*File, error) {
	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var ext []datasetDef
	var order []string
	for _, d := range s.datasets {
		order = append(order, d.path)
		if d.extensible() {
			ext = append(ext, d)
			continue
		}
		for _, l := range d.shape {
			if l <= 0 {
				return nil, fmt.Errorf("store: fixed dataset %s must not be empty", d.path)
			}
		}
	}

	dims := []string{recordDim}
	lengths := []int{0}
	varDims := make([][]string, len(s.datasets))
	for i, d := range s.datasets {
		if d.extensible() {
			continue
		}
		for j, l := range d.shape {
			name := fmt.Sprintf("%s#%d", d.path, j)
			dims = append(dims, name)
			lengths = append(lengths, l)
			varDims[i] = append(varDims[i], name)
		}
	}
	if len(ext) > 0 {
		dims = append(dims, extentsName+"#0", heapName+"#1")
		lengths = append(lengths, len(ext)+1, chunkSize)
	}

	h := cdf.NewHeader(dims, lengths)
	for i, d := range s.datasets {
		if !d.extensible() {
			h.AddVariable(d.path, varDims[i], d.kind.prototype())
		}
	}
	if len(ext) > 0 {
		h.AddVariable(extentsName, []string{extentsName + "#0"}, []float64{0})
		h.AddAttribute(extentsName, "description",
			"committed number of rows of each extensible dataset, then the number of committed chunks")
		h.AddVariable(ownerName, []string{recordDim}, []int32{0})
		h.AddAttribute(ownerName, "description", "extensible dataset that owns each chunk")
		h.AddVariable(heapName, []string{recordDim, heapName + "#1"}, []uint8{0})
		for _, d := range ext {
			meta := []int32{int32(d.kind)}
			for _, l := range d.shape[1:] {
				meta = append(meta, int32(l))
			}
			h.AddAttribute(heapName, d.path, meta)
		}
		h.AddAttribute(heapName, orderAttr, strings.Join(order, "\n"))
	}
	for _, a := range s.attrs {
		h.AddAttribute("", a.name, a.value)
	}
	h.Define()

	if errs := h.Check(); len(errs) > 0 {
		return nil, fmt.Errorf("store: defining container %s: %v", path, errs[0])
	}

	ff, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrExist, path)
		}
		return nil, fmt.Errorf("store: creating container: %w", err)
	}
	cf, err := cdf.Create(ff, h)
	if err != nil {
		ff.Close()
		os.Remove(path)
		return nil, fmt.Errorf("store: writing container header: %w", err)
	}
	f := &File{ff: ff, cf: cf, path: path, writable: true, chunkSize: chunkSize}
	fail := func(err error) (*File, error) {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.index(); err != nil {
		return fail(err)
	}
	f.extents = make([]int, len(ext))
	f.chunks = make([][]int, len(ext))

	for _, d := range s.datasets {
		if d.extensible() {
			continue
		}
		if err := f.write(d.path, make([]int, len(d.shape)), d.shape[0], d.data); err != nil {
			return fail(err)
		}
	}
	if err := f.writeExtents(f.extents, 0); err != nil {
		return fail(err)
	}
	return f, nil
}

// Open opens an existing container. If writable is true the container is
// opened for reading and writing.
func Open(path string, writable bool) (*File, error) {
	var ff *os.File
	var err error
	if writable {
		ff, err = os.OpenFile(path, os.O_RDWR, 0644)
	} else {
		ff, err = os.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("store: opening container: %w", err)
	}
	cf, err := cdf.Open(ff)
	if err != nil {
		ff.Close()
		return nil, fmt.Errorf("store: reading container header %s: %w", path, err)
	}
	f := &File{ff: ff, cf: cf, path: path, writable: writable}
	if err := f.index(); err != nil {
		ff.Close()
		return nil, err
	}
	if err := f.readExtents(); err != nil {
		ff.Close()
		return nil, fmt.Errorf("store: container %s: %w", path, err)
	}
	return f, nil
}

// readExtents loads the committed extents and the chunk table.
func (f *File) readExtents() error {
	nExt := len(f.chunks)
	if nExt == 0 {
		return nil
	}
	h := f.cf.Header
	if l := h.Lengths(extentsName); len(l) != 1 || l[0] != nExt+1 {
		return fmt.Errorf("extensible datasets without matching extents")
	}
	if l := h.Lengths(heapName); len(l) != 2 || l[1] <= 0 {
		return fmt.Errorf("extensible datasets without a chunk heap")
	}
	f.chunkSize = h.Lengths(heapName)[1]

	r := f.cf.Reader(extentsName, nil, nil)
	buf := r.Zero(nExt + 1)
	if _, err := r.Read(buf); err != nil {
		return fmt.Errorf("reading extents: %w", err)
	}
	for i, v := range buf.([]float64) {
		if v < 0 || v != math.Trunc(v) {
			return fmt.Errorf("invalid extent %g", v)
		}
		if i < nExt {
			f.extents[i] = int(v)
		} else {
			f.nChunks = int(v)
		}
	}

	if f.nChunks > 0 {
		r = f.cf.Reader(ownerName, []int{0}, []int{f.nChunks - 1})
		owners := make([]int32, f.nChunks)
		if _, err := r.Read(owners); err != nil {
			return fmt.Errorf("reading chunk owners: %w", err)
		}
		for rec, o := range owners {
			if o < 0 || int(o) >= nExt {
				return fmt.Errorf("chunk %d has invalid owner %d", rec, o)
			}
			f.chunks[o] = append(f.chunks[o], rec)
		}
	}
	for _, p := range f.order {
		d := f.datasets[p]
		if d.ext < 0 {
			continue
		}
		if need := d.Len() * d.rowBytes(); need > len(f.chunks[d.ext])*f.chunkSize {
			return fmt.Errorf("dataset %s has %d rows but only %d chunks", p, d.Len(), len(f.chunks[d.ext]))
		}
	}
	return nil
}

// index builds the dataset table from the header.
func (f *File) index() error {
	f.datasets = make(map[string]*Dataset)
	f.order = nil
	h := f.cf.Header
	for _, v := range h.Variables() {
		if strings.HasPrefix(v, "_") {
			continue
		}
		if h.IsRecordVariable(v) {
			return fmt.Errorf("store: unexpected record variable %s", v)
		}
		var kind Kind
		switch h.ZeroValue(v, 0).(type) {
		case string, []uint8:
			kind = Char
		case []int16:
			kind = Int16
		case []int32:
			kind = Int32
		case []float64:
			kind = Float64
		default:
			return fmt.Errorf("store: dataset %s has an unsupported type", v)
		}
		lengths := h.Lengths(v)
		if len(lengths) == 0 {
			return fmt.Errorf("store: dataset %s is a scalar", v)
		}
		f.datasets[v] = &Dataset{
			f:     f,
			path:  v,
			kind:  kind,
			shape: append([]int(nil), lengths...),
			ext:   -1,
		}
		f.order = append(f.order, v)
	}

	var ext int
	for _, a := range h.Attributes(heapName) {
		if a == orderAttr {
			continue
		}
		meta, ok := h.GetAttribute(heapName, a).([]int32)
		if !ok || len(meta) == 0 || Kind(meta[0]).size() == 0 {
			return fmt.Errorf("store: extensible dataset %s has an invalid description", a)
		}
		shape := []int{Unlimited}
		for _, l := range meta[1:] {
			if l <= 0 {
				return fmt.Errorf("store: extensible dataset %s has an invalid row shape", a)
			}
			shape = append(shape, int(l))
		}
		if _, ok := f.datasets[a]; ok {
			return fmt.Errorf("store: repeated dataset %s", a)
		}
		f.datasets[a] = &Dataset{f: f, path: a, kind: Kind(meta[0]), shape: shape, ext: ext}
		ext++
	}
	f.extents = make([]int, ext)
	f.chunks = make([][]int, ext)
	if ext == 0 {
		return nil
	}

	var order string
	switch v := h.GetAttribute(heapName, orderAttr).(type) {
	case string:
		order = v
	case []uint8:
		order = string(v)
	}
	f.order = strings.Split(strings.TrimRight(order, "\x00"), "\n")
	if len(f.order) != len(f.datasets) {
		return fmt.Errorf("store: storage order lists %d of %d datasets", len(f.order), len(f.datasets))
	}
	for _, p := range f.order {
		if _, ok := f.datasets[p]; !ok {
			return fmt.Errorf("store: storage order names unknown dataset %q", p)
		}
	}
	return nil
}

// Path returns the file system path of the container.
func (f *File) Path() string { return f.path }

// Writable reports whether the container was opened for writing.
func (f *File) Writable() bool { return f.writable }

// Closed reports whether Close has been called.
func (f *File) Closed() bool { return f.ff == nil }

// Close flushes pending writes and releases the underlying file.
// Closing a closed File is a no-op.
func (f *File) Close() error {
	if f.ff == nil {
		return nil
	}
	ff := f.ff
	f.ff = nil
	var err error
	if f.writable {
		if err = cdf.UpdateNumRecs(ff); err == nil {
			err = ff.Sync()
		}
		if err != nil {
			err = fmt.Errorf("store: flushing %s: %w", f.path, err)
		}
	}
	if cerr := ff.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("store: closing %s: %w", f.path, cerr)
	}
	return err
}

// Dataset returns the dataset at path.
func (f *File) Dataset(path string) (*Dataset, error) {
	d, ok := f.datasets[Clean(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return d, nil
}

// Has reports whether a dataset exists at path.
func (f *File) Has(path string) bool {
	_, ok := f.datasets[Clean(path)]
	return ok
}

// Groups returns the names of the immediate child groups of the group at
// path, in storage order.
func (f *File) Groups(path string) []string {
	prefix := Clean(path)
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if !strings.HasPrefix(name, prefix) {
			return
		}
		rest := name[len(prefix):]
		i := strings.Index(rest, "/")
		if i <= 0 {
			return
		}
		g := rest[:i]
		if _, ok := seen[g]; ok {
			return
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	for _, v := range f.order {
		add(v)
	}
	for _, a := range f.cf.Header.Attributes("") {
		add(a)
	}
	return out
}

// Attr returns the raw value of attribute name of the group at path.
// The value is a string, []int16, []int32 or []float64.
func (f *File) Attr(path, name string) (interface{}, error) {
	v := f.cf.Header.GetAttribute("", Join(path, name))
	if v == nil {
		return nil, fmt.Errorf("%w: attribute %s", ErrNotFound, Join(path, name))
	}
	return v, nil
}

// Float64Attr returns a scalar DOUBLE attribute.
func (f *File) Float64Attr(path, name string) (float64, error) {
	v, err := f.Attr(path, name)
	if err != nil {
		return 0, err
	}
	vv, ok := v.([]float64)
	if !ok || len(vv) != 1 {
		return 0, fmt.Errorf("store: attribute %s is %T, not a scalar float64", Join(path, name), v)
	}
	return vv[0], nil
}

// Int32Attr returns a scalar INT attribute.
func (f *File) Int32Attr(path, name string) (int32, error) {
	v, err := f.Attr(path, name)
	if err != nil {
		return 0, err
	}
	vv, ok := v.([]int32)
	if !ok || len(vv) != 1 {
		return 0, fmt.Errorf("store: attribute %s is %T, not a scalar int32", Join(path, name), v)
	}
	return vv[0], nil
}

// StringAttr returns a CHAR attribute.
func (f *File) StringAttr(path, name string) (string, error) {
	v, err := f.Attr(path, name)
	if err != nil {
		return "", err
	}
	switch vv := v.(type) {
	case string:
		return strings.TrimRight(vv, "\x00"), nil
	case []uint8:
		return strings.TrimRight(string(vv), "\x00"), nil
	}
	return "", fmt.Errorf("store: attribute %s is %T, not a string", Join(path, name), v)
}

// Attrs returns the attributes of the group at path, keyed by their names
// relative to path. Attributes of nested groups are included with their
// relative group path, e.g. "satellite0/256".
func (f *File) Attrs(path string) map[string]interface{} {
	prefix := Clean(path)
	if prefix != "" {
		prefix += "/"
	}
	out := make(map[string]interface{})
	for _, a := range f.cf.Header.Attributes("") {
		if strings.HasPrefix(a, prefix) {
			out[a[len(prefix):]] = f.cf.Header.GetAttribute("", a)
		}
	}
	return out
}

// Strings reads a CHAR dataset created by Schema.AddStrings.
func (f *File) Strings(path string) ([]string, error) {
	d, err := f.Dataset(path)
	if err != nil {
		return nil, err
	}
	if d.kind != Char || len(d.shape) != 2 {
		return nil, fmt.Errorf("store: dataset %s is not a string table", path)
	}
	buf, err := d.ReadBytes(0, d.Len())
	if err != nil {
		return nil, err
	}
	width := d.shape[1]
	out := make([]string, d.Len())
	for i := range out {
		out[i] = strings.TrimRight(string(buf[i*width:(i+1)*width]), "\x00")
	}
	return out, nil
}

// Datasets returns the paths of all datasets in storage order.
func (f *File) Datasets() []string {
	return append([]string(nil), f.order...)
}

// write writes values to dataset v starting at the index begin. rows is
// the number of rows along the first axis that values spans.
func (f *File) write(v string, begin []int, rows int, values interface{}) error {
	end := make([]int, len(begin))
	copy(end, begin)
	end[0] += rows
	w := f.cf.Writer(v, begin, end)
	if w == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, v)
	}
	if _, err := w.Write(values); err != nil {
		return fmt.Errorf("store: writing dataset %s: %w", v, err)
	}
	return nil
}

// writeExtents persists the row counts of the extensible datasets followed
// by the number of allocated chunks.
func (f *File) writeExtents(extents []int, nChunks int) error {
	if len(extents) == 0 {
		return nil
	}
	v := make([]float64, len(extents)+1)
	for i, e := range extents {
		v[i] = float64(e)
	}
	v[len(extents)] = float64(nChunks)
	return f.write(extentsName, []int{0}, len(v), v)
}

// allocChunk claims chunk record rec for extensible dataset ext and fills
// it with zeros.
func (f *File) allocChunk(rec, ext int) error {
	if _, err := f.cf.Writer(ownerName, []int{rec}, nil).Write([]int32{int32(ext)}); err != nil {
		return fmt.Errorf("store: writing owner of chunk %d: %w", rec, err)
	}
	return f.writeChunk(rec, 0, make([]byte, f.chunkSize))
}

// writeChunk writes b at byte offset off of chunk record rec. b must fit in
// the chunk.
func (f *File) writeChunk(rec, off int, b []byte) error {
	if _, err := f.cf.Writer(heapName, []int{rec, off}, nil).Write(b); err != nil {
		return fmt.Errorf("store: writing chunk %d: %w", rec, err)
	}
	return nil
}

// readHeap reads bytes [from, to) of the data stored in chunks.
func (f *File) readHeap(chunks []int, from, to int) ([]byte, error) {
	out := make([]byte, to-from)
	for pos := from; pos < to; {
		rec, off := chunks[pos/f.chunkSize], pos%f.chunkSize
		n := f.chunkSize - off
		if n > to-pos {
			n = to - pos
		}
		r := f.cf.Reader(heapName, []int{rec, off}, []int{rec, off + n - 1})
		if _, err := r.Read(out[pos-from : pos-from+n]); err != nil {
			return nil, fmt.Errorf("store: reading chunk %d: %w", rec, err)
		}
		pos += n
	}
	return out, nil
}
