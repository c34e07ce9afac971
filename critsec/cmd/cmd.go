// Copyright 2018 The gVisor Authors.
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

// Package cmd holds implementations of the critsec commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"gvisor.dev/critsec/pkg/log"
)

// Fatalf logs the message and exits with status 128.
func Fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, "critsec: "+format+"\n", args...)
	os.Exit(128)
}

// outputFunc writes v to w in a machine readable format.
type outputFunc func(w io.Writer, v any) error

// encoders are the machine readable output formats. "text" is handled by
// each command.
var encoders = map[string]outputFunc{
	"json": outputJSON,
	"yaml": outputYAML,
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// checkFormat returns an error if format is not text or a known encoder.
func checkFormat(format string) error {
	if format == "text" {
		return nil
	}
	if _, ok := encoders[format]; !ok {
		return fmt.Errorf("unsupported output format %q, must be text, json or yaml", format)
	}
	return nil
}
