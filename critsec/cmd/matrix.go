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
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"gvisor.dev/critsec/pkg/buildmatrix"
	"gvisor.dev/critsec/pkg/log"
)

// Matrix implements subcommands.Command for the "matrix" command.
type Matrix struct {
	dir    string
	check    bool
	runTests bool
	output   string
}

// backendPkgs are the packages whose behavior depends on the selected backend.
var backendPkgs = []string{"./pkg/critical", "./pkg/sim", "./pkg/atomiccell"}

// Name implements subcommands.Command.Name.
func (*Matrix) Name() string {
	return "matrix"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Matrix) Synopsis() string {
	return "Print or check the backend chosen for every build tag combination."
}

// Usage implements subcommands.Command.Usage.
func (*Matrix) Usage() string {
	return `matrix [options] - Print the backend selected by each combination of
noatomicrmw, critsec_polyfill and critsec_singlehart. With -check, each
combination is also type-checked and unsound ones must fail to build.
With -run-tests, the tests of the backend-dependent packages are run under
every sound combination.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Matrix) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.dir, "dir", "pkg/critical", "directory of the critical package.")
	f.BoolVar(&m.check, "check", false, "type-check every combination with the go command.")
	f.BoolVar(&m.runTests, "run-tests", false, "run the backend-dependent tests under every sound combination.")
	f.StringVar(&m.output, "o", "text", "output format (text, json, yaml).")
}

// Execute implements subcommands.Command.Execute.
func (m *Matrix) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := checkFormat(m.output); err != nil {
		Fatalf("%v", err)
	}

	sels, err := buildmatrix.Analyze(m.dir)
	if err != nil {
		Fatalf("analyzing %q: %v", m.dir, err)
	}
	if err := m.write(os.Stdout, sels); err != nil {
		Fatalf("writing matrix: %v", err)
	}

	status := subcommands.ExitSuccess
	if err := buildmatrix.Verify(sels); err != nil {
		log.Warningf("%v", err)
		status = subcommands.ExitFailure
	}
	if m.check {
		if !m.checkAll(ctx, sels) {
			status = subcommands.ExitFailure
		}
	}
	if m.runTests {
		for _, s := range sels {
			if !s.Sound {
				continue
			}
			if err := buildmatrix.RunTests(ctx, m.dir, s.Tags, backendPkgs...); err != nil {
				log.Warningf("%v: %v", s, err)
				status = subcommands.ExitFailure
				continue
			}
			log.Infof("%v: tests passed", s)
		}
	}
	return status
}

// checkAll type-checks every selection and reports whether each one built
// exactly when it is sound.
func (m *Matrix) checkAll(ctx context.Context, sels []buildmatrix.Selection) bool {
	ok := true
	for _, s := range sels {
		err := buildmatrix.Check(ctx, m.dir, s.Tags)
		var be *buildmatrix.BuildError
		switch {
		case s.Sound && err != nil:
			log.Warningf("%v: want success, got %v", s, err)
			ok = false
		case !s.Sound && err == nil:
			log.Warningf("%v: want build failure, got success", s)
			ok = false
		case !s.Sound && !errors.As(err, &be):
			log.Warningf("%v: want build failure, got %v", s, err)
			ok = false
		default:
			log.Infof("%v: ok", s)
		}
	}
	return ok
}

func (m *Matrix) write(w io.Writer, sels []buildmatrix.Selection) error {
	if enc, ok := encoders[m.output]; ok {
		return enc(w, sels)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TAGS\tFILES\tBACKEND\tSOUND")
	for _, s := range sels {
		tags := strings.Join(s.Tags, ",")
		if tags == "" {
			tags = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", tags, strings.Join(s.Files, ","), s.Backend, s.Sound)
	}
	return tw.Flush()
}
