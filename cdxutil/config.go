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

package cdxutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cdx-library/cdx"
	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// checkInputFile makes sure that the input file is specified and expands
// any environment variables.
func checkInputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`cdx: you need to specify an input file (for example: --input="simulation.cdx")`)
	}
	return os.ExpandEnv(f), nil
}

// checkOutputFile makes sure that the output file is specified, that its
// directory exists and that it does not exist yet, and expands any
// environment variables.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`cdx: you need to specify an output file (for example: --output="simulation.cdd")`)
	}
	f = os.ExpandEnv(f)
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("cdx: the output directory doesn't exist: %v", err)
	}
	if _, err := os.Stat(f); err == nil {
		return f, fmt.Errorf("cdx: the output file %s already exists", f)
	}
	return f, nil
}

// getFloat64 returns a float64 from a viper configuration, accounting for
// the fact that it might be a string containing environment variables if
// it was set from a configuration file or the environment.
func getFloat64(varName string, cfg *viper.Viper) (float64, error) {
	i := cfg.Get(varName)
	if s, ok := i.(string); ok {
		i = strings.TrimSpace(os.ExpandEnv(s))
	}
	v, err := cast.ToFloat64E(i)
	if err != nil {
		return 0, fmt.Errorf("cdx: invalid value for %s: %v", varName, err)
	}
	return v, nil
}

// convertOptions returns the converter options specified in cfg.
func convertOptions(cfg *viper.Viper) (cdx.ConvertOptions, error) {
	o := cdx.ConvertOptions{Log: logrus.StandardLogger()}
	var err error
	if o.DelayBefore, err = getFloat64("delay-before", cfg); err != nil {
		return o, err
	}
	if o.DelayAfter, err = getFloat64("delay-after", cfg); err != nil {
		return o, err
	}
	if o.SamplingFrequency, err = getFloat64("sampling-frequency", cfg); err != nil {
		return o, err
	}
	return o, nil
}
