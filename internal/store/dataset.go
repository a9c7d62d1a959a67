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

import "fmt"

// Dataset is a typed, possibly extensible, n-dimensional array in a
// container. Rows are indexed along the first axis.
type Dataset struct {
	f     *File
	path  string
	kind  Kind
	shape []int // shape[0] is Unlimited for extensible datasets
	ext   int   // index into File.extents and File.chunks, or -1
}

// Path returns the full path of the dataset.
func (d *Dataset) Path() string { return d.path }

// Kind returns the element type of the dataset.
func (d *Dataset) Kind() Kind { return d.kind }

// Extensible reports whether rows can be appended to the dataset.
func (d *Dataset) Extensible() bool { return d.ext >= 0 }

// Len returns the number of committed rows.
func (d *Dataset) Len() int {
	if d.ext < 0 {
		return d.shape[0]
	}
	return d.f.extents[d.ext]
}

// RowSize returns the number of elements in one row.
func (d *Dataset) RowSize() int {
	n := 1
	for _, l := range d.shape[1:] {
		n *= l
	}
	return n
}

// rowBytes returns the number of bytes in one row.
func (d *Dataset) rowBytes() int { return d.RowSize() * d.kind.size() }

// Shape returns the current lengths of all axes.
func (d *Dataset) Shape() []int {
	s := append([]int(nil), d.shape...)
	s[0] = d.Len()
	return s
}

// read reads rows [begin, end).
func (d *Dataset) read(begin, end int) (interface{}, error) {
	if d.f.ff == nil {
		return nil, ErrClosed
	}
	if begin < 0 || end < begin || end > d.Len() {
		return nil, fmt.Errorf("%w: rows [%d, %d) of %s with %d rows", ErrRange, begin, end, d.path, d.Len())
	}
	if begin == end {
		return d.kind.make(0), nil
	}
	if d.ext >= 0 {
		rb := d.rowBytes()
		b, err := d.f.readHeap(d.f.chunks[d.ext], begin*rb, end*rb)
		if err != nil {
			return nil, fmt.Errorf("store: reading rows [%d, %d) of %s: %w", begin, end, d.path, err)
		}
		return decode(d.kind, b)
	}
	start := make([]int, len(d.shape))
	stop := make([]int, len(d.shape))
	start[0], stop[0] = begin, end
	r := d.f.cf.Reader(d.path, start, stop)
	buf := r.Zero((end - begin) * d.RowSize())
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("store: reading rows [%d, %d) of %s: %w", begin, end, d.path, err)
	}
	return buf, nil
}

// ReadFloat64 returns rows [begin, end) of a DOUBLE dataset, flattened in
// row-major order.
func (d *Dataset) ReadFloat64(begin, end int) ([]float64, error) {
	if d.kind != Float64 {
		return nil, fmt.Errorf("store: dataset %s is %v, not DOUBLE", d.path, d.kind)
	}
	v, err := d.read(begin, end)
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}

// ReadInt32 returns rows [begin, end) of an INT dataset.
func (d *Dataset) ReadInt32(begin, end int) ([]int32, error) {
	if d.kind != Int32 {
		return nil, fmt.Errorf("store: dataset %s is %v, not INT", d.path, d.kind)
	}
	v, err := d.read(begin, end)
	if err != nil {
		return nil, err
	}
	return v.([]int32), nil
}

// ReadInt16 returns rows [begin, end) of a SHORT dataset.
func (d *Dataset) ReadInt16(begin, end int) ([]int16, error) {
	if d.kind != Int16 {
		return nil, fmt.Errorf("store: dataset %s is %v, not SHORT", d.path, d.kind)
	}
	v, err := d.read(begin, end)
	if err != nil {
		return nil, err
	}
	return v.([]int16), nil
}

// ReadBytes returns rows [begin, end) of a CHAR dataset.
func (d *Dataset) ReadBytes(begin, end int) ([]uint8, error) {
	if d.kind != Char {
		return nil, fmt.Errorf("store: dataset %s is %v, not CHAR", d.path, d.kind)
	}
	v, err := d.read(begin, end)
	if err != nil {
		return nil, err
	}
	return v.([]uint8), nil
}

// Tx groups appends to extensible datasets. Rows written by a Tx are not
// visible through Dataset.Len until Commit succeeds, and an abandoned Tx
// leaves the committed extents untouched.
type Tx struct {
	f       *File
	pending map[int]int   // extent index -> uncommitted row count
	chunks  map[int][]int // extent index -> chunks allocated in tx
	next    int           // next free chunk record
	done    bool
}

// Begin starts a transaction on a writable container.
func (f *File) Begin() (*Tx, error) {
	if f.ff == nil {
		return nil, ErrClosed
	}
	if !f.writable {
		return nil, ErrReadOnly
	}
	return &Tx{f: f, pending: make(map[int]int), chunks: make(map[int][]int), next: f.nChunks}, nil
}

// Len returns the number of rows of d including rows appended in tx.
func (tx *Tx) Len(d *Dataset) int {
	if n, ok := tx.pending[d.ext]; ok && d.ext >= 0 {
		return n
	}
	return d.Len()
}

// chunk returns the record of the i'th chunk of extensible dataset ext,
// allocating it if i is one past the last chunk.
func (tx *Tx) chunk(ext, i int) (int, error) {
	committed := tx.f.chunks[ext]
	if i < len(committed) {
		return committed[i], nil
	}
	pending := tx.chunks[ext]
	if j := i - len(committed); j < len(pending) {
		return pending[j], nil
	}
	rec := tx.next
	if err := tx.f.allocChunk(rec, ext); err != nil {
		return 0, err
	}
	tx.next++
	tx.chunks[ext] = append(pending, rec)
	return rec, nil
}

// Append writes values as new rows at the end of d. The number of values
// must be a multiple of the row size of d.
func (tx *Tx) Append(d *Dataset, values interface{}) error {
	if tx.done {
		return fmt.Errorf("store: append to finished transaction")
	}
	if tx.f.ff == nil {
		return ErrClosed
	}
	if d.f != tx.f || d.ext < 0 {
		return fmt.Errorf("store: dataset %s is not extensible in this container", d.path)
	}
	kind, n, err := kindOf(values)
	if err != nil {
		return err
	}
	if kind != d.kind {
		return fmt.Errorf("store: appending %v values to %v dataset %s", kind, d.kind, d.path)
	}
	rs := d.RowSize()
	if n%rs != 0 {
		return fmt.Errorf("store: %d values do not fill whole rows of %s (row size %d)", n, d.path, rs)
	}
	if n == 0 {
		return nil
	}
	b, err := encode(values)
	if err != nil {
		return err
	}
	cur := tx.Len(d)
	cs := tx.f.chunkSize
	for pos := cur * d.rowBytes(); len(b) > 0; {
		rec, err := tx.chunk(d.ext, pos/cs)
		if err != nil {
			return err
		}
		off := pos % cs
		m := cs - off
		if m > len(b) {
			m = len(b)
		}
		if err := tx.f.writeChunk(rec, off, b[:m]); err != nil {
			return fmt.Errorf("store: appending to %s: %w", d.path, err)
		}
		b = b[m:]
		pos += m
	}
	tx.pending[d.ext] = cur + n/rs
	return nil
}

// Commit makes the appended rows visible by rewriting the extents in a
// single write.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("store: transaction already finished")
	}
	tx.done = true
	if len(tx.pending) == 0 {
		return nil
	}
	if tx.f.ff == nil {
		return ErrClosed
	}
	extents := append([]int(nil), tx.f.extents...)
	for i, n := range tx.pending {
		extents[i] = n
	}
	if err := tx.f.writeExtents(extents, tx.next); err != nil {
		return err
	}
	tx.f.extents = extents
	tx.f.nChunks = tx.next
	for i, c := range tx.chunks {
		tx.f.chunks[i] = append(tx.f.chunks[i], c...)
	}
	return nil
}

// Rollback abandons the transaction. Chunks and rows already written past
// the committed extents are reused by later appends.
func (tx *Tx) Rollback() {
	tx.done = true
	tx.pending = nil
	tx.chunks = nil
}
