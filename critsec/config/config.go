// Copyright 2020 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the global critsec configuration and the stress
// profiles read from TOML files.
package config

import (
	"flag"
	"fmt"
	"reflect"

	"github.com/BurntSushi/toml"

	"gvisor.dev/critsec/pkg/hart"
	"gvisor.dev/critsec/pkg/log"
	"gvisor.dev/critsec/pkg/sim"
)

// Config holds the options shared by every command. Fields tagged with
// "flag" are populated by NewFromFlags.
type Config struct {
	// LogFilename is the file logs are written to. Empty means stderr.
	LogFilename string `flag:"log"`

	// LogFormat is either "text" or "json".
	LogFormat string `flag:"log-format"`

	// LogLevel is the minimum level logged: warning, info or debug.
	LogLevel string `flag:"log-level"`

	// Debug enables debug logging. It overrides LogLevel.
	Debug bool `flag:"debug"`

	// AlsoLogToStderr copies log messages to stderr when LogFilename is
	// set.
	AlsoLogToStderr bool `flag:"alsologtostderr"`
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("log", "", "file path where log messages are written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.String("log-level", "info", "minimum level logged: warning, info or debug.")
	flagSet.Bool("debug", false, "enable debug logging, same as --log-level=debug.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr as well as to --log.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		getter, ok := fl.Value.(flag.Getter)
		if !ok {
			panic(fmt.Sprintf("Flag %q does not implement flag.Getter", name))
		}
		obj.Field(i).Set(reflect.ValueOf(getter.Get()))
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// Level returns the log level selected by LogLevel and Debug.
func (c *Config) Level() log.Level {
	if c.Debug {
		return log.Debug
	}
	l, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.Info
	}
	return l
}

// Log prints the configuration to the log.
func (c *Config) Log() {
	log.Infof("Config: log=%q log-format=%s log-level=%s debug=%t alsologtostderr=%t", c.LogFilename, c.LogFormat, c.LogLevel, c.Debug, c.AlsoLogToStderr)
}

// Profile describes a stress run.
//
// A profile file looks like:
//
//	harts = 4
//
//	[stress]
//	iterations = 10000
//	nesting = 2
//	hold_spins = 4
//	interrupts = true
type Profile struct {
	// Harts is the number of simulated harts.
	Harts int `toml:"harts" json:"harts" yaml:"harts"`

	// Stress configures each hart.
	Stress sim.StressConfig `toml:"stress" json:"stress" yaml:"stress"`
}

// DefaultProfile returns the profile used when no file is given.
func DefaultProfile() Profile {
	return Profile{
		Harts: 4,
		Stress: sim.StressConfig{
			Iterations: 10000,
			Nesting:    2,
			HoldSpins:  4,
			Interrupts: true,
		},
	}
}

// Validate returns an error if p cannot be run.
func (p *Profile) Validate() error {
	if p.Harts < 1 || p.Harts > hart.MaxHarts {
		return fmt.Errorf("harts must be in [1, %d], got %d", hart.MaxHarts, p.Harts)
	}
	if err := p.Stress.Validate(); err != nil {
		return fmt.Errorf("invalid stress section: %w", err)
	}
	return nil
}

// DecodeProfile parses a TOML profile on top of the defaults. Unknown keys
// are an error.
func DecodeProfile(data string) (Profile, error) {
	p := DefaultProfile()
	md, err := toml.Decode(data, &p)
	if err != nil {
		return Profile{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Profile{}, fmt.Errorf("unknown profile keys: %v", undecoded)
	}
	return p, nil
}

// LoadProfile reads a TOML profile from path on top of the defaults.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Profile{}, fmt.Errorf("profile %q has unknown keys: %v", path, undecoded)
	}
	return p, nil
}
