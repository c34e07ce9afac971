// Copyright 2026 The gVisor Authors.
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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"gvisor.dev/critsec/critsec/config"
	"gvisor.dev/critsec/pkg/log"
	"gvisor.dev/critsec/pkg/sim"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	profile string
	output  string
	timeout time.Duration

	// Overrides, applied only when set on the command line.
	harts      int
	iterations int
	nesting    int
	holdSpins  int
	interrupts bool
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "Run the compiled-in backend on simulated harts and report violations."
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [options] - Run critical sections on simulated harts.

The run is described by a TOML profile (see -profile). Flags given on the
command line override the profile.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	def := config.DefaultProfile()
	f.StringVar(&s.profile, "profile", "", "path to a TOML stress profile.")
	f.StringVar(&s.output, "o", "text", "output format (text, json, yaml).")
	f.DurationVar(&s.timeout, "timeout", time.Minute, "abort the run after this long, 0 means no limit.")
	f.IntVar(&s.harts, "harts", def.Harts, "number of simulated harts.")
	f.IntVar(&s.iterations, "iterations", def.Stress.Iterations, "sections entered by each hart.")
	f.IntVar(&s.nesting, "nesting", def.Stress.Nesting, "depth of each section.")
	f.IntVar(&s.holdSpins, "hold-spins", def.Stress.HoldSpins, "spin hints issued while holding a section.")
	f.BoolVar(&s.interrupts, "interrupts", def.Stress.Interrupts, "raise an interrupt on the next hart after each section.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := checkFormat(s.output); err != nil {
		Fatalf("%v", err)
	}
	p, err := s.resolve(f)
	if err != nil {
		Fatalf("%v", err)
	}

	m, err := sim.New(p.Harts)
	if err != nil {
		Fatalf("creating machine: %v", err)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	r, err := sim.Stress(ctx, m, p.Stress)
	if err != nil {
		Fatalf("%v", err)
	}
	if err := writeReport(os.Stdout, s.output, r); err != nil {
		Fatalf("writing report: %v", err)
	}
	if err := r.Violations(); err != nil {
		log.Warningf("stress found violations: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// resolve loads the profile and applies the flags set on the command line.
func (s *Stress) resolve(f *flag.FlagSet) (config.Profile, error) {
	p := config.DefaultProfile()
	if s.profile != "" {
		var err error
		if p, err = config.LoadProfile(s.profile); err != nil {
			return config.Profile{}, err
		}
	}
	f.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "harts":
			p.Harts = s.harts
		case "iterations":
			p.Stress.Iterations = s.iterations
		case "nesting":
			p.Stress.Nesting = s.nesting
		case "hold-spins":
			p.Stress.HoldSpins = s.holdSpins
		case "interrupts":
			p.Stress.Interrupts = s.interrupts
		}
	})
	if err := p.Validate(); err != nil {
		return config.Profile{}, err
	}
	log.Debugf("stress profile: %+v", p)
	return p, nil
}

func writeReport(w io.Writer, format string, r *sim.Report) error {
	if enc, ok := encoders[format]; ok {
		return enc(w, r)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "backend\t%s\n", r.Backend)
	fmt.Fprintf(tw, "harts\t%d\n", r.Harts)
	for id, n := range r.Grants {
		fmt.Fprintf(tw, "grants[%d]\t%d\n", id, n)
	}
	fmt.Fprintf(tw, "handlers\t%d\n", r.Handlers)
	fmt.Fprintf(tw, "overlaps\t%d\n", r.Overlaps)
	fmt.Fprintf(tw, "unmasked\t%d\n", r.Unmasked)
	fmt.Fprintf(tw, "lost updates\t%d\n", r.LostUpdates)
	fmt.Fprintf(tw, "max bypass\t%d\n", r.MaxBypass)
	fmt.Fprintf(tw, "elapsed\t%v\n", r.Elapsed)
	return tw.Flush()
}
