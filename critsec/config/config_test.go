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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gvisor.dev/critsec/pkg/log"
	"gvisor.dev/critsec/pkg/sim"
)

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{LogFormat: "text", LogLevel: "info"}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse([]string{"-log=/tmp/x.log", "-log-format=json", "-debug", "-alsologtostderr"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{LogFilename: "/tmp/x.log", LogFormat: "json", LogLevel: "info", Debug: true, AlsoLogToStderr: true}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Lookup("log-format").Value.Set("xml"); err != nil {
		t.Fatalf("Flag set: %v", err)
	}
	if _, err := NewFromFlags(testFlags); err == nil || !strings.Contains(err.Error(), "invalid log format") {
		t.Errorf("NewFromFlags() err = %v, want invalid log format", err)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse([]string{"-log-level=loud"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := NewFromFlags(testFlags); err == nil || !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("NewFromFlags() err = %v, want invalid log level", err)
	}
}

func TestLevel(t *testing.T) {
	for _, tc := range []struct {
		conf Config
		want log.Level
	}{
		{Config{LogLevel: "info"}, log.Info},
		{Config{LogLevel: "warning"}, log.Warning},
		{Config{LogLevel: "DEBUG"}, log.Debug},
		{Config{LogLevel: "warning", Debug: true}, log.Debug},
	} {
		if got := tc.conf.Level(); got != tc.want {
			t.Errorf("%+v.Level() = %v, want %v", tc.conf, got, tc.want)
		}
	}
}

func TestDefaultProfileValid(t *testing.T) {
	p := DefaultProfile()
	if err := p.Validate(); err != nil {
		t.Errorf("default profile is invalid: %v", err)
	}
}

func TestDecodeProfile(t *testing.T) {
	for _, tc := range []struct {
		name    string
		data    string
		want    Profile
		wantErr string
	}{
		{
			name: "empty",
			want: DefaultProfile(),
		},
		{
			name: "partial",
			data: "harts = 2\n[stress]\niterations = 50\n",
			want: Profile{
				Harts: 2,
				Stress: sim.StressConfig{
					Iterations: 50,
					Nesting:    2,
					HoldSpins:  4,
					Interrupts: true,
				},
			},
		},
		{
			name: "full",
			data: "harts = 3\n[stress]\niterations = 7\nnesting = 1\nhold_spins = 0\ninterrupts = false\n",
			want: Profile{
				Harts:  3,
				Stress: sim.StressConfig{Iterations: 7, Nesting: 1},
			},
		},
		{
			name:    "unknown key",
			data:    "harts = 2\ncores = 3\n",
			wantErr: "unknown profile keys",
		},
		{
			name:    "bad type",
			data:    "harts = \"two\"\n",
			wantErr: "harts",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeProfile(tc.data)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("DecodeProfile() err = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeProfile() failed: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("profile mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	if err := os.WriteFile(path, []byte("harts = 1\n[stress]\nnesting = 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if p.Harts != 1 || p.Stress.Nesting != 3 {
		t.Errorf("LoadProfile = %+v, want harts 1 and nesting 3", p)
	}
	if _, err := LoadProfile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("LoadProfile succeeded on a missing file")
	}
}

func TestProfileValidate(t *testing.T) {
	p := DefaultProfile()
	p.Harts = 0
	if err := p.Validate(); err == nil {
		t.Errorf("Validate accepted zero harts")
	}
	p = DefaultProfile()
	p.Stress.Iterations = 0
	if err := p.Validate(); err == nil {
		t.Errorf("Validate accepted zero iterations")
	}
}
