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
	"bytes"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"gvisor.dev/critsec/critsec/config"
	"gvisor.dev/critsec/pkg/buildmatrix"
	"gvisor.dev/critsec/pkg/sim"
)

func testReport() *sim.Report {
	return &sim.Report{
		Backend:   "native",
		Harts:     2,
		Grants:    []uint64{10, 12},
		Handlers:  3,
		MaxBypass: 1,
	}
}

func TestWriteReportText(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReport(&buf, "text", testReport()); err != nil {
		t.Fatalf("writeReport failed: %v", err)
	}
	for _, want := range []string{"backend", "native", "grants[1]", "12", "max bypass"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("text report %q does not contain %q", buf.String(), want)
		}
	}
}

func TestWriteReportEncoded(t *testing.T) {
	want := testReport()
	for _, tc := range []struct {
		format string
		decode func([]byte, any) error
	}{
		{"json", json.Unmarshal},
		{"yaml", yaml.Unmarshal},
	} {
		t.Run(tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := writeReport(&buf, tc.format, want); err != nil {
				t.Fatalf("writeReport failed: %v", err)
			}
			var got sim.Report
			if err := tc.decode(buf.Bytes(), &got); err != nil {
				t.Fatalf("decoding %s report: %v\n%s", tc.format, err, buf.String())
			}
			if diff := cmp.Diff(want, &got); diff != "" {
				t.Errorf("report mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCheckFormat(t *testing.T) {
	for _, ok := range []string{"text", "json", "yaml"} {
		if err := checkFormat(ok); err != nil {
			t.Errorf("checkFormat(%q) = %v", ok, err)
		}
	}
	if err := checkFormat("csv"); err == nil {
		t.Errorf("checkFormat(csv) succeeded")
	}
}

func TestMatrixWrite(t *testing.T) {
	sels := []buildmatrix.Selection{
		{Files: []string{"backend_native.go"}, Backend: "native", Sound: true},
		{Tags: []string{"noatomicrmw"}, Files: []string{"backend_unsound.go"}, Backend: "unsound"},
	}
	m := &Matrix{output: "text"}
	var buf bytes.Buffer
	if err := m.write(&buf, sels); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], "-") || !strings.Contains(lines[1], "native") {
		t.Errorf("unexpected row for no tags: %q", lines[1])
	}
	if !strings.Contains(lines[2], "noatomicrmw") || !strings.HasSuffix(lines[2], "false") {
		t.Errorf("unexpected row for noatomicrmw: %q", lines[2])
	}
}

func newStressFlags(t *testing.T, args ...string) (*Stress, *flag.FlagSet) {
	t.Helper()
	s := &Stress{}
	f := flag.NewFlagSet("stress", flag.ContinueOnError)
	s.SetFlags(f)
	if err := f.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	return s, f
}

func TestStressResolveDefaults(t *testing.T) {
	s, f := newStressFlags(t)
	p, err := s.resolve(f)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if diff := cmp.Diff(config.DefaultProfile(), p); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}
}

func TestStressResolveOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.toml")
	if err := os.WriteFile(path, []byte("harts = 3\n[stress]\niterations = 9\nnesting = 4\n"), 0644); err != nil {
		t.Fatal(err)
	}
	s, f := newStressFlags(t, "-profile", path, "-iterations=20", "-interrupts=false")
	p, err := s.resolve(f)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	want := config.DefaultProfile()
	want.Harts = 3
	want.Stress.Iterations = 20
	want.Stress.Nesting = 4
	want.Stress.Interrupts = false
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}
}

func TestStressResolveInvalid(t *testing.T) {
	s, f := newStressFlags(t, "-harts=0")
	if _, err := s.resolve(f); err == nil {
		t.Errorf("resolve accepted zero harts")
	}
}
