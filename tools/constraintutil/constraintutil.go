// Copyright 2021 The gVisor Authors.
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

// Package constraintutil reads and evaluates Go build constraints.
package constraintutil

import (
	"bufio"
	"bytes"
	"fmt"
	"go/build/constraint"
	"io"
	"os"
	"sort"
	"strings"
)

// FromReader returns the //go:build constraint in the Go source file read
// from r, or nil if the file has none.
//
// Like the go tool, it only looks at the leading block of comments and blank
// lines; a //go:build line after the package clause does not count.
func FromReader(r io.Reader) (constraint.Expr, error) {
	const (
		slashStar = "/*"
		starSlash = "*/"
	)
	s := bufio.NewScanner(r)
	var (
		inComment bool
		e         constraint.Expr
	)
Lines:
	for s.Scan() {
		line := bytes.TrimSpace(s.Bytes())
		if !inComment && constraint.IsGoBuild(string(line)) {
			if e != nil {
				return nil, fmt.Errorf("multiple go:build directives")
			}
			var err error
			if e, err = constraint.Parse(string(line)); err != nil {
				return nil, err
			}
		}
		for len(line) > 0 {
			if inComment {
				i := bytes.Index(line, []byte(starSlash))
				if i < 0 {
					continue Lines
				}
				inComment = false
				line = bytes.TrimSpace(line[i+len(starSlash):])
				continue
			}
			if bytes.HasPrefix(line, []byte("//")) {
				continue Lines
			}
			if bytes.HasPrefix(line, []byte(slashStar)) {
				inComment = true
				line = bytes.TrimSpace(line[len(slashStar):])
				continue
			}
			// Anything else ends the header.
			break Lines
		}
	}
	return e, s.Err()
}

// FromString is FromReader on a string.
func FromString(str string) (constraint.Expr, error) {
	return FromReader(strings.NewReader(str))
}

// FromFile is FromReader on the file at path.
func FromFile(path string) (constraint.Expr, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return FromReader(f)
}

// Eval reports whether e is satisfied when exactly the tags in set are
// enabled. A nil e is always satisfied.
func Eval(e constraint.Expr, set map[string]bool) bool {
	if e == nil {
		return true
	}
	return e.Eval(func(tag string) bool { return set[tag] })
}

// Tags returns the sorted, de-duplicated tags referenced by e.
func Tags(e constraint.Expr) []string {
	seen := make(map[string]bool)
	var walk func(constraint.Expr)
	walk = func(e constraint.Expr) {
		switch e := e.(type) {
		case *constraint.TagExpr:
			seen[e.Tag] = true
		case *constraint.NotExpr:
			walk(e.X)
		case *constraint.AndExpr:
			walk(e.X)
			walk(e.Y)
		case *constraint.OrExpr:
			walk(e.X)
			walk(e.Y)
		}
	}
	if e != nil {
		walk(e)
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
