// Command trustcheck keeps the verification core free of transport and
// storage dependencies.
//
// The core packages sign, verify and evaluate; they must stay usable
// offline and must not reach into the runner, gateway or stores that sit
// on top of them.
//
// Usage:
//
//	go run ./tools/trustcheck [-root <module-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// corePackages are checked, relative to the module root.
var corePackages = []string{
	"pkg/canonicalize",
	"pkg/capability",
	"pkg/contracts",
	"pkg/crypto",
	"pkg/delegation",
	"pkg/invariants",
	"pkg/provenance",
}

// forbidden import path fragments for non-test files in corePackages.
var forbidden = []string{
	"net/http",
	"database/sql",
	"avs/pkg/artifacts",
	"avs/pkg/fuzz",
	"avs/pkg/gateway",
	"avs/pkg/llm",
	"avs/pkg/report",
	"avs/pkg/runner",
	"avs/pkg/store",
	"aws-sdk-go",
	"cloud.google.com",
}

// Violation is one forbidden import.
type Violation struct {
	File     string
	Line     int
	Import   string
	Fragment string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d imports %q (forbidden: %q)", v.File, v.Line, v.Import, v.Fragment)
}

// check scans the core packages under root.
func check(root string) ([]Violation, error) {
	var out []Violation
	fset := token.NewFileSet()
	for _, pkg := range corePackages {
		dir := filepath.Join(root, filepath.FromSlash(pkg))
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", pkg, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
				continue
			}
			path := filepath.Join(dir, name)
			f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			for _, imp := range f.Imports {
				importPath := strings.Trim(imp.Path.Value, `"`)
				for _, frag := range forbidden {
					if strings.Contains(importPath, frag) {
						rel, _ := filepath.Rel(root, path)
						out = append(out, Violation{
							File:     filepath.ToSlash(rel),
							Line:     fset.Position(imp.Pos()).Line,
							Import:   importPath,
							Fragment: frag,
						})
					}
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Line < out[j].Line
	})
	return out, nil
}

func run(root string, stdout, stderr io.Writer) int {
	violations, err := check(root)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 2
	}
	for _, v := range violations {
		_, _ = fmt.Fprintf(stdout, "VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		_, _ = fmt.Fprintf(stdout, "%d forbidden import(s) in the verification core\n", len(violations))
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "verification core imports are clean")
	return 0
}

func main() {
	root := flag.String("root", ".", "Module root directory")
	flag.Parse()
	os.Exit(run(*root, os.Stdout, os.Stderr))
}
