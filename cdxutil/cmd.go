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

// Package cdxutil contains the command-line interface to the CDX
// container library.
package cdxutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cdx-library/cdx"
	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to the cdx command.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "verbose",
			usage: `
              verbose specifies whether to log debugging messages.`,
			shorthand:  "v",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "format",
			usage: `
              format specifies the output format of the container summary,
              either "toml" or "yaml".`,
			defaultVal: "toml",
			flagsets:   []*pflag.FlagSet{infoCmd.Flags()},
		},
		{
			name: "input",
			usage: `
              input specifies the path to the input container. It can be a
              local path, an http(s) URL, or a gs://, s3:// or file:// blob.`,
			shorthand:  "i",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{powerCmd.Flags(), convertCmd.Flags()},
		},
		{
			name: "output",
			usage: `
              output specifies the path to the output file. For the power
              command, an empty path writes to standard output.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{powerCmd.Flags(), convertCmd.Flags()},
		},
		{
			name: "link",
			usage: `
              link specifies the name of the link to read.`,
			shorthand:  "l",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{powerCmd.Flags()},
		},
		{
			name: "start",
			usage: `
              start specifies the start of the time window [s].`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{powerCmd.Flags()},
		},
		{
			name: "length",
			usage: `
              length specifies the length of the time window [s]. A length
              of zero selects everything from start to the end of the file.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{powerCmd.Flags()},
		},
		{
			name: "delay-before",
			usage: `
              delay-before specifies the extent of the delay axis before the
              direct path [s].`,
			shorthand:  "b",
			defaultVal: cdx.DefaultConvertOptions.DelayBefore,
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "delay-after",
			usage: `
              delay-after specifies the extent of the delay axis after the
              direct path [s].`,
			shorthand:  "a",
			defaultVal: cdx.DefaultConvertOptions.DelayAfter,
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "sampling-frequency",
			usage: `
              sampling-frequency specifies the sampling rate of the delay
              axis [Hz].`,
			shorthand:  "s",
			defaultVal: cdx.DefaultConvertOptions.SamplingFrequency,
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("CDX")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(infoCmd)
	Root.AddCommand(powerCmd)
	Root.AddCommand(convertCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("cdx: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// setLog configures the standard logger for the command line.
func setLog() {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if Cfg.GetBool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "cdx",
	Short: "Inspect and convert channel impulse response containers.",
	Long: `cdx reads, summarizes and converts CDX containers, which hold time series
of channel impulse responses (CIRs) for a set of propagation links.
Use the subcommands specified below to access the functionality.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'CDX_var' where 'var' is the
name of the variable to be set, with dashes replaced by underscores.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setConfig(); err != nil {
			return err
		}
		setLog()
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of CDX.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "CDX v%s\n", cdx.Version)
	},
	DisableAutoGenTag: true,
}

// infoCmd is a command that summarizes a container.
var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Summarize a container",
	Long: `info prints the parameters, links and length of a continuous-delay or
discrete-delay container in TOML or YAML format.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := maybeDownload(context.TODO(), os.ExpandEnv(args[0]), logrus.StandardLogger())
		if err != nil {
			return err
		}
		s, err := Info(path)
		if err != nil {
			return err
		}
		return s.Write(cmd.OutOrStdout(), Cfg.GetString("format"))
	},
	DisableAutoGenTag: true,
}

// powerCmd is a command that computes the channel power of a link.
var powerCmd = &cobra.Command{
	Use:   "power",
	Short: "Compute the channel power of a link",
	Long: `power reads the CIRs of one link of a discrete-delay container in the
time window given by --start and --length and writes the time and the channel
power of each epoch as CSV.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := checkInputFile(Cfg.GetString("input"))
		if err != nil {
			return err
		}
		input, err = maybeDownload(context.TODO(), input, logrus.StandardLogger())
		if err != nil {
			return err
		}
		start, err := getFloat64("start", Cfg)
		if err != nil {
			return err
		}
		length, err := getFloat64("length", Cfg)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if output := os.ExpandEnv(Cfg.GetString("output")); output != "" {
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return WritePower(w, input, Cfg.GetString("link"), start, length)
	},
	DisableAutoGenTag: true,
}

// convertCmd is a command that converts a continuous-delay container to
// a discrete-delay container.
var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a continuous-delay container to a discrete-delay container",
	Long: `convert samples the CIRs of a continuous-delay container on a fixed delay
axis running from -delay-before to delay-after in steps of
1/sampling-frequency and writes them to a new discrete-delay container.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := checkInputFile(Cfg.GetString("input"))
		if err != nil {
			return err
		}
		input, err = maybeDownload(context.TODO(), input, logrus.StandardLogger())
		if err != nil {
			return err
		}
		output, err := checkOutputFile(Cfg.GetString("output"))
		if err != nil {
			return err
		}
		o, err := convertOptions(Cfg)
		if err != nil {
			return err
		}
		log := logrus.WithFields(logrus.Fields{"input": input, "output": output})
		log.Info("cdxutil: converting")
		if err := cdx.ConvertContinuousToDiscrete(input, output, o); err != nil {
			return err
		}
		log.Info("cdxutil: conversion finished")
		return nil
	},
	DisableAutoGenTag: true,
}
