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

// Package buildmatrix validates the compile-time backend selection of
// package critical against every combination of the tags that drive it.
//
// Backends are files named backend_<name>.go, each guarded by a //go:build
// line. For any set of tags exactly one of them must be compiled in. Files
// named in Rejected exist only to make a combination fail to compile.
package buildmatrix

import (
	"context"
	"fmt"
	"go/build/constraint"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"
	"golang.org/x/tools/go/packages"

	"gvisor.dev/critsec/tools/constraintutil"
)

// Tags are the build tags that take part in backend selection.
var Tags = []string{"noatomicrmw", "critsec_polyfill", "critsec_singlehart"}

// Rejected lists backends whose only purpose is a compile error.
var Rejected = map[string]bool{
	"unsound":  true,
	"conflict": true,
}

// Selection is the outcome of one tag combination.
type Selection struct {
	// Tags are the enabled tags.
	Tags []string `json:"tags" yaml:"tags"`

	// Files are the backend files compiled in.
	Files []string `json:"files" yaml:"files"`

	// Backend is the name of the selected backend, or empty if the number
	// of selected files is not exactly one.
	Backend string `json:"backend" yaml:"backend"`

	// Sound is true if the combination is expected to compile.
	Sound bool `json:"sound" yaml:"sound"`
}

// String implements fmt.Stringer.
func (s Selection) String() string {
	tags := strings.Join(s.Tags, ",")
	if tags == "" {
		tags = "(none)"
	}
	return fmt.Sprintf("%s -> %s", tags, s.Backend)
}

// Want returns the backend that set is meant to select.
func Want(set map[string]bool) string {
	switch {
	case set["critsec_polyfill"] && set["critsec_singlehart"]:
		return "conflict"
	case set["critsec_polyfill"]:
		return "polyfill"
	case set["critsec_singlehart"]:
		return "singlehart"
	case set["noatomicrmw"]:
		return "unsound"
	default:
		return "native"
	}
}

// Combinations returns every subset of tags, smallest first.
func Combinations(tags []string) [][]string {
	n := len(tags)
	combos := make([][]string, 0, 1<<n)
	for mask := 0; mask < 1<<n; mask++ {
		var c []string
		for i, t := range tags {
			if mask&(1<<i) != 0 {
				c = append(c, t)
			}
		}
		combos = append(combos, c)
	}
	sort.SliceStable(combos, func(i, j int) bool { return len(combos[i]) < len(combos[j]) })
	return combos
}

// Analyze evaluates the backend files in dir for every combination of Tags.
func Analyze(dir string) ([]Selection, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "backend_*.go"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no backend files in %q", dir)
	}
	sort.Strings(paths)

	type backendFile struct {
		name string
		base string
		expr constraint.Expr
	}
	known := make(map[string]bool, len(Tags))
	for _, t := range Tags {
		known[t] = true
	}
	var files []backendFile
	for _, p := range paths {
		if strings.HasSuffix(p, "_test.go") {
			continue
		}
		e, err := constraintutil.FromFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading build constraint of %q: %w", p, err)
		}
		if e == nil {
			return nil, fmt.Errorf("backend file %q has no //go:build line", p)
		}
		for _, tag := range constraintutil.Tags(e) {
			if !known[tag] {
				return nil, fmt.Errorf("backend file %q uses tag %q, which is not one of %v", p, tag, Tags)
			}
		}
		base := filepath.Base(p)
		files = append(files, backendFile{
			name: strings.TrimSuffix(strings.TrimPrefix(base, "backend_"), ".go"),
			base: base,
			expr: e,
		})
	}

	var sels []Selection
	for _, combo := range Combinations(Tags) {
		set := make(map[string]bool, len(combo))
		for _, t := range combo {
			set[t] = true
		}
		sel := Selection{Tags: combo}
		var names []string
		for _, f := range files {
			if constraintutil.Eval(f.expr, set) {
				sel.Files = append(sel.Files, f.base)
				names = append(names, f.name)
			}
		}
		if len(names) == 1 {
			sel.Backend = names[0]
			sel.Sound = !Rejected[names[0]]
		}
		sels = append(sels, sel)
	}
	return sels, nil
}

// Verify checks that every selection in sels picks exactly the backend Want
// asks for.
func Verify(sels []Selection) error {
	var problems []string
	for _, s := range sels {
		set := make(map[string]bool, len(s.Tags))
		for _, t := range s.Tags {
			set[t] = true
		}
		if len(s.Files) != 1 {
			problems = append(problems, fmt.Sprintf("tags %v select %d backend files %v, want 1", s.Tags, len(s.Files), s.Files))
			continue
		}
		if want := Want(set); s.Backend != want {
			problems = append(problems, fmt.Sprintf("tags %v select backend %q, want %q", s.Tags, s.Backend, want))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("backend matrix is inconsistent:\n\t%s", strings.Join(problems, "\n\t"))
	}
	return nil
}

// BuildError reports a package that failed to type-check.
type BuildError struct {
	Tags   []string
	Errors []string
}

// Error implements error.Error.
func (e *BuildError) Error() string {
	return fmt.Sprintf("build with tags %v failed: %s", e.Tags, strings.Join(e.Errors, "; "))
}

// Check loads and type-checks the package in dir with the given tags. It
// returns a *BuildError if the package does not compile.
func Check(ctx context.Context, dir string, tags []string) error {
	pkgPath, root, err := ImportPath(dir)
	if err != nil {
		return err
	}
	cfg := &packages.Config{
		Context:    ctx,
		Mode:       packages.NeedName | packages.NeedTypes | packages.NeedSyntax | packages.NeedTypesInfo,
		Dir:        root,
		BuildFlags: []string{"-tags=" + strings.Join(tags, ",")},
	}
	pkgs, err := packages.Load(cfg, pkgPath)
	if err != nil {
		return fmt.Errorf("loading %s: %w", pkgPath, err)
	}
	var errs []string
	packages.Visit(pkgs, nil, func(p *packages.Package) {
		for _, e := range p.Errors {
			errs = append(errs, e.Error())
		}
	})
	if len(errs) > 0 {
		return &BuildError{Tags: tags, Errors: errs}
	}
	return nil
}

// TestError reports a test run that failed under a tag combination.
type TestError struct {
	Tags   []string
	Output string
	Err    error
}

// Error implements error.Error.
func (e *TestError) Error() string {
	return fmt.Sprintf("go test with tags %v: %v\n%s", e.Tags, e.Err, e.Output)
}

// Unwrap returns the underlying exec error.
func (e *TestError) Unwrap() error { return e.Err }

// RunTests runs "go test" on pkgs from the module root containing dir, with
// the given tags. Test results are never cached. It returns a *TestError
// holding the combined output if any package fails.
func RunTests(ctx context.Context, dir string, tags []string, pkgs ...string) error {
	_, root, err := ImportPath(dir)
	if err != nil {
		return err
	}
	args := append([]string{"test", "-count=1", "-tags=" + strings.Join(tags, ",")}, pkgs...)
	cmd := exec.CommandContext(ctx, "go", args...)
	cmd.Dir = root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &TestError{Tags: tags, Output: string(out), Err: err}
	}
	return nil
}

// ImportPath returns the import path of the package in dir and the root of
// the module that contains it.
func ImportPath(dir string) (pkgPath, root string, err error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", "", err
	}
	for root = abs; ; {
		data, err := os.ReadFile(filepath.Join(root, "go.mod"))
		if err == nil {
			modPath := modfile.ModulePath(data)
			if modPath == "" {
				return "", "", fmt.Errorf("%s/go.mod has no module directive", root)
			}
			rel, err := filepath.Rel(root, abs)
			if err != nil {
				return "", "", err
			}
			if rel == "." {
				return modPath, root, nil
			}
			return modPath + "/" + filepath.ToSlash(rel), root, nil
		}
		if !os.IsNotExist(err) {
			return "", "", err
		}
		parent := filepath.Dir(root)
		if parent == root {
			return "", "", fmt.Errorf("no go.mod above %q", abs)
		}
		root = parent
	}
}
