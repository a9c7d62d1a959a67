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
	"fmt"
	"math"

	"github.com/cdx-library/cdx/internal/store"
)

// These errors are returned, possibly wrapped, by the readers and writers
// in this package. Use errors.Is to test for them.
var (
	// ErrWrongFormat is returned when a container's delay_type tag does not
	// match the variant being opened, or its record schema is unknown.
	ErrWrongFormat = errors.New("cdx: wrong container format")

	// ErrMissingLink is returned when an append omits a configured link.
	ErrMissingLink = errors.New("cdx: missing link")

	// ErrUnknownLink is returned when a link name is not part of the
	// container.
	ErrUnknownLink = errors.New("cdx: unknown link")

	// ErrWindowOutOfRange is returned when a requested time window is not
	// covered by the stored epochs.
	ErrWindowOutOfRange = errors.New("cdx: time window out of range")

	// ErrInconsistentLinkLengths is returned when the links of a container,
	// or the datasets of a single link, do not hold the same number of epochs.
	ErrInconsistentLinkLengths = errors.New("cdx: inconsistent link lengths")

	// ErrSchemaViolation is returned when a CIR does not follow the record
	// layout, e.g. when its first component is not the direct path.
	ErrSchemaViolation = errors.New("cdx: schema violation")

	// ErrAlreadyExists is returned when creating a container at a path that
	// is already in use.
	ErrAlreadyExists = errors.New("cdx: container already exists")

	// ErrClosed is returned by operations on a closed reader or writer.
	ErrClosed = errors.New("cdx: use of closed container")
)

// WindowErr is returned when a requested time window exceeds the stored
// data. It matches ErrWindowOutOfRange.
type WindowErr struct {
	Start, Length float64 // requested window [s]
	FileLength    float64 // total stored length [s]
}

func (e WindowErr) Error() string {
	switch {
	case e.Start < 0 || e.Length < 0 || math.IsNaN(e.Start) || math.IsNaN(e.Length):
		return fmt.Sprintf("cdx: invalid time window: start time (%g s) and length (%g s) must be non-negative",
			e.Start, e.Length)
	case e.Length == 0:
		return fmt.Sprintf("cdx: start time (%g s) is past the end of the file (%g s)", e.Start, e.FileLength)
	}
	return fmt.Sprintf("cdx: start time + length (%g s) exceeds file length (%g s) by %g s",
		e.Start+e.Length, e.FileLength, e.Start+e.Length-e.FileLength)
}

// Is makes WindowErr match ErrWindowOutOfRange.
func (e WindowErr) Is(target error) bool { return target == ErrWindowOutOfRange }

// storageErr translates storage layer errors into package errors.
func storageErr(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrExist):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.Is(err, store.ErrClosed):
		return ErrClosed
	}
	return fmt.Errorf("cdx: %s: %w", op, err)
}
