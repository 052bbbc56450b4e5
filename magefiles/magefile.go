//go:build mage

// Package main provides build targets for the quire project using Mage.
//
// Usage:
//
//	mage build     Compile the quire binary to bin/
//	mage test      Run all tests
//	mage testRace  Run all tests with the race detector
//	mage lint      Run golangci-lint
//	mage check     Lint, then test with the race detector
//	mage clean     Remove build artifacts
//	mage install   Install quire to GOPATH/bin
//	mage stats     Print Go LOC and documentation word counts
package main

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName = "quire"
	binaryDir  = "bin"
	cmdDir     = "./cmd/quire"
	versionVar = "github.com/mesh-intelligence/quire/internal/cli.Version"
)

// ldflags stamps the version from QUIRE_VERSION when set.
func ldflags() string {
	if v := os.Getenv("QUIRE_VERSION"); v != "" {
		return fmt.Sprintf("-X %s=%s", versionVar, strings.TrimPrefix(v, "v"))
	}
	return ""
}

// Build compiles the quire binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV("go", "build", "-v", "-ldflags", ldflags(), "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Test runs all tests.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// TestRace runs all tests with the race detector. The corpus package
// scans files concurrently.
func TestRace() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Check lints, then runs the race-enabled tests.
func Check() {
	mg.SerialDeps(Lint, TestRace)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV("go", "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output("go", "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}

// Stats prints Go lines of code and documentation word counts.
func Stats() error {
	fsys := os.DirFS(".")
	goFiles, err := doublestar.Glob(fsys, "**/*.go", doublestar.WithFilesOnly())
	if err != nil {
		return err
	}

	var prodLines, testLines int
	for _, path := range goFiles {
		// Build tooling and reference material are not project code.
		if strings.HasPrefix(path, "magefiles/") || strings.HasPrefix(path, "_") || strings.HasPrefix(path, "vendor/") {
			continue
		}
		count, err := countLines(path)
		if err != nil {
			continue
		}
		if strings.HasSuffix(path, "_test.go") {
			testLines += count
		} else {
			prodLines += count
		}
	}

	docWords, err := countDocWords(fsys)
	if err != nil {
		return err
	}

	fmt.Printf("Lines of code (Go, production): %d\n", prodLines)
	fmt.Printf("Lines of code (Go, tests):      %d\n", testLines)
	fmt.Printf("Lines of code (Go, total):      %d\n", prodLines+testLines)
	fmt.Printf("Words (documentation):          %d\n", docWords)
	return nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}

// countDocWords counts words in the top-level markdown files and in
// docs/.
func countDocWords(fsys fs.FS) (int, error) {
	total := 0
	seen := map[string]bool{}
	for _, pattern := range []string{"*.md", "docs/**/*.md"} {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return 0, err
		}
		for _, path := range matches {
			if seen[path] {
				continue
			}
			seen[path] = true
			words, err := countWordsInFile(path)
			if err != nil {
				continue
			}
			total += words
		}
	}
	return total, nil
}

func countWordsInFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	count := 0
	inWord := false
	for _, r := range string(data) {
		if unicode.IsSpace(r) {
			inWord = false
		} else if !inWord {
			inWord = true
			count++
		}
	}
	return count, nil
}
