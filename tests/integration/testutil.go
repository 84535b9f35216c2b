// Package integration provides CLI integration tests for flexi.
package integration

import (
	"bufio"
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

var (
	// flexiBin is the path to the built flexi binary.
	flexiBin string
	// buildErr captures any build error.
	buildErr error
)

// BuildError wraps a build error with output.
type BuildError struct {
	Err    error
	Output string
}

func (e *BuildError) Error() string {
	return e.Err.Error() + ": " + e.Output
}

// FindProjectRoot finds the project root by walking up and looking for go.mod.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

// TestEnv provides an isolated test environment with its own config and data directory.
type TestEnv struct {
	t       *testing.T
	TempDir string
	Config  string
	DataDir string
}

// NewTestEnv creates a new isolated test environment.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	if buildErr != nil {
		t.Fatalf("failed to build flexi: %v", buildErr)
	}
	if flexiBin == "" {
		t.Fatal("flexi binary not built (flexiBin is empty)")
	}

	tempDir := t.TempDir()
	dataDir := filepath.Join(tempDir, "data")
	configDir := filepath.Join(tempDir, "config")

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	configContent := "backend: sqlite\ndata_dir: " + dataDir + "\n"
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	return &TestEnv{
		t:       t,
		TempDir: tempDir,
		Config:  configDir,
		DataDir: dataDir,
	}
}

// CmdResult holds the result of a flexi command execution.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// RunFlexi executes the flexi CLI with the given arguments.
func (e *TestEnv) RunFlexi(args ...string) CmdResult {
	e.t.Helper()

	allArgs := append([]string{"--config-dir", e.Config}, args...)
	cmd := exec.Command(flexiBin, allArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			e.t.Fatalf("failed to run flexi: %v", err)
		}
	}

	return CmdResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}
}

// MustRunFlexi executes the flexi CLI and fails the test if it returns non-zero.
func (e *TestEnv) MustRunFlexi(args ...string) CmdResult {
	e.t.Helper()
	result := e.RunFlexi(args...)
	if result.ExitCode != 0 {
		e.t.Fatalf("flexi %v failed with exit code %d:\nstdout: %s\nstderr: %s",
			args, result.ExitCode, result.Stdout, result.Stderr)
	}
	return result
}

// WriteFile writes content into the environment's temp directory and
// returns the path.
func (e *TestEnv) WriteFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.TempDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// OpenDB opens the environment's database directly, the way a client of the
// generated views would. The connection is closed with the test.
func (e *TestEnv) OpenDB() *sql.DB {
	e.t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(e.DataDir, "flexi.db"))
	if err != nil {
		e.t.Fatalf("failed to open database: %v", err)
	}
	e.t.Cleanup(func() { db.Close() })
	return db
}

// Exec runs a statement against the environment's database.
func (e *TestEnv) Exec(query string, args ...any) {
	e.t.Helper()
	db := e.OpenDB()
	if _, err := db.Exec(query, args...); err != nil {
		e.t.Fatalf("exec %q: %v", query, err)
	}
	db.Close()
}

// ParseJSON parses JSON output into the target type.
func ParseJSON[T any](t *testing.T, jsonStr string) T {
	t.Helper()
	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", jsonStr, err)
	}
	return result
}

// Report mirrors the action report printed with --json.
type Report struct {
	RunID   string `json:"runId"`
	Entries []struct {
		Kind         string `json:"kind"`
		ClassName    string `json:"className"`
		PropertyName string `json:"propertyName"`
		Rows         int    `json:"rows"`
	} `json:"entries"`
}

// Class mirrors "class show --json".
type Class struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Ctlo       int64  `json:"ctlo"`
	Properties []struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		Column int    `json:"column"`
		Rules  struct {
			Type string `json:"type"`
		} `json:"rules"`
	} `json:"properties"`
}

// ExportedClass is one line of classes.jsonl.
type ExportedClass struct {
	ClassID int64            `json:"class_id"`
	Name    string           `json:"name"`
	Ctlv    map[string]int64 `json:"ctlv"`
}

// ReadJSONLFile reads a JSONL file (one JSON object per line) and returns a slice.
func ReadJSONLFile[T any](t *testing.T, path string) []T {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open JSONL file %s: %v", path, err)
	}
	defer f.Close()

	var results []T
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record T
		if err := json.Unmarshal(line, &record); err != nil {
			t.Fatalf("failed to parse JSONL line in %s: %v", path, err)
		}
		results = append(results, record)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("failed to scan JSONL file %s: %v", path, err)
	}
	return results
}
