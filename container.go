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
	"reflect"
	"sort"

	"github.com/cdx-library/cdx/internal/store"
	"github.com/sirupsen/logrus"
)

// container holds the state shared by the readers and writers.
type container struct {
	// Log receives lifecycle events. It defaults to the logrus
	// standard logger.
	Log logrus.FieldLogger

	f      *store.File
	params *Parameters
	epochs int
}

// Parameters returns the global parameters of the container. The returned
// value must not be modified.
func (c *container) Parameters() *Parameters { return c.params }

// LinkNames returns the configured links in order.
func (c *container) LinkNames() []string {
	return append([]string(nil), c.params.LinkNames...)
}

// NumEpochs returns the number of stored epochs.
func (c *container) NumEpochs() int { return c.epochs }

// Length returns the duration covered by the stored epochs [s].
func (c *container) Length() float64 { return float64(c.epochs) / c.params.CIRRate }

// Path returns the file path of the container.
func (c *container) Path() string { return c.f.Path() }

func (c *container) closed() bool { return c.f == nil || c.f.Closed() }

func (c *container) log() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

// checkLinkSet checks that the keys of m, a map keyed by link name, are
// exactly the configured links.
func checkLinkSet(p *Parameters, m interface{}, what string) error {
	v := reflect.ValueOf(m)
	if v.Kind() != reflect.Map || v.Type().Key().Kind() != reflect.String {
		panic(fmt.Errorf("cdx: %s is a %T, not a map keyed by link name", what, m))
	}
	for _, l := range p.LinkNames {
		if !v.MapIndex(reflect.ValueOf(l).Convert(v.Type().Key())).IsValid() {
			return fmt.Errorf("%w: %s has no entry for link %q", ErrMissingLink, what, l)
		}
	}
	if v.Len() != len(p.LinkNames) {
		var unknown []string
		for _, k := range v.MapKeys() {
			if !p.HasLink(k.String()) {
				unknown = append(unknown, k.String())
			}
		}
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s has entries for %q", ErrUnknownLink, what, unknown)
	}
	return nil
}

// dataset looks up a dataset of a link and reports a missing one as a
// format error.
func (c *container) dataset(link, name string) (*store.Dataset, error) {
	d, err := c.f.Dataset(linkPath(link, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongFormat, err)
	}
	return d, nil
}

// closeWriter flushes and closes a container opened for writing.
func (c *container) closeWriter() error {
	if c.closed() {
		return nil
	}
	err := c.f.Close()
	if err != nil {
		return storageErr("closing", err)
	}
	c.log().WithFields(logrus.Fields{
		"path":   c.f.Path(),
		"epochs": c.epochs,
	}).Debug("cdx: closed container")
	return nil
}

// closeReader closes a container opened for reading. Errors are logged
// and discarded.
func (c *container) closeReader() {
	if c.closed() {
		return
	}
	if err := c.f.Close(); err != nil {
		c.log().WithError(err).WithField("path", c.f.Path()).Warn("cdx: closing container")
	}
}
