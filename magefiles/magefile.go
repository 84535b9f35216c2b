//go:build mage

// Mage targets for flexi. Run "mage -l" for the list; "mage" alone builds
// bin/flexi.
//
// Test targets live in the test namespace. test:integration builds the
// binary before driving it end to end.
package main

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName     = "flexi"
	binaryDir      = "bin"
	cmdDir         = "./cmd/flexi"
	integrationPkg = "./tests/integration"
	coverProfile   = "coverage.out"
)

// Default target.
var Default = Build

// Test groups the test targets.
type Test mg.Namespace

// Build compiles bin/flexi.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV("go", "build", "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// All runs the unit and integration tests.
func (Test) All() {
	mg.SerialDeps(Test.Unit, Test.Integration)
}

// Unit runs every package except the integration suite, with -race.
func (Test) Unit() error {
	pkgs, err := unitPackages()
	if err != nil {
		return err
	}
	return sh.RunV("go", append([]string{"test", "-race"}, pkgs...)...)
}

// Integration builds the binary and runs the end-to-end suite against it.
func (Test) Integration() error {
	mg.Deps(Build)
	return sh.RunV("go", "test", "-count=1", integrationPkg)
}

// Cover writes a coverage profile for internal/ and pkg/ and prints the
// per-function summary.
func (Test) Cover() error {
	if err := sh.RunV("go", "test", "-coverprofile="+coverProfile, "./internal/...", "./pkg/..."); err != nil {
		return err
	}
	return sh.RunV("go", "tool", "cover", "-func="+coverProfile)
}

// Lint runs go vet and golangci-lint.
func Lint() error {
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}
	return sh.RunV("golangci-lint", "run", "./...")
}

// Check lints, then runs the unit tests.
func Check() {
	mg.SerialDeps(Lint, Test.Unit)
}

// Clean removes bin/ and the coverage profile.
func Clean() error {
	for _, p := range []string{binaryDir, coverProfile} {
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	return nil
}

// Install puts flexi into GOPATH/bin.
func Install() error {
	return sh.RunV("go", "install", cmdDir)
}

// Stats prints Go line counts per package directory.
func Stats() error {
	type count struct{ prod, test int }
	byDir := make(map[string]*count)

	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch {
			case path == ".":
				return nil
			case strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_"),
				path == binaryDir, path == "magefiles":
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		n, err := countLines(path)
		if err != nil {
			return err
		}
		dir := filepath.Dir(path)
		c := byDir[dir]
		if c == nil {
			c = &count{}
			byDir[dir] = c
		}
		if strings.HasSuffix(path, "_test.go") {
			c.test += n
		} else {
			c.prod += n
		}
		return nil
	})
	if err != nil {
		return err
	}

	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var total count
	fmt.Printf("%-24s %8s %8s\n", "PACKAGE", "CODE", "TESTS")
	for _, dir := range dirs {
		c := byDir[dir]
		total.prod += c.prod
		total.test += c.test
		fmt.Printf("%-24s %8d %8d\n", dir, c.prod, c.test)
	}
	fmt.Printf("%-24s %8d %8d\n", "total", total.prod, total.test)
	return nil
}

// unitPackages lists the module packages outside tests/.
func unitPackages() ([]string, error) {
	out, err := sh.Output("go", "list", "./...")
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for _, pkg := range strings.Fields(out) {
		if strings.Contains(pkg, "/tests/") || strings.HasSuffix(pkg, "/tests") {
			continue
		}
		pkgs = append(pkgs, pkg)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no unit test packages found")
	}
	return pkgs, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}
