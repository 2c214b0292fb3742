// Package integration provides end-to-end tests that run the labelkit binary.
package integration

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

var (
	// labelkitBin is the path to the built labelkit binary.
	labelkitBin string
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

// TestEnv provides an isolated config directory and dataset root.
type TestEnv struct {
	t         *testing.T
	TempDir   string
	ConfigDir string
	Root      string
	// Env holds extra KEY=VALUE pairs for every invocation.
	Env []string
}

// NewTestEnv creates a new isolated test environment.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	if buildErr != nil {
		t.Fatalf("failed to build labelkit: %v", buildErr)
	}
	if labelkitBin == "" {
		t.Fatal("labelkit binary not built (labelkitBin is empty)")
	}

	tempDir := t.TempDir()
	return &TestEnv{
		t:         t,
		TempDir:   tempDir,
		ConfigDir: filepath.Join(tempDir, "config"),
		Root:      filepath.Join(tempDir, "dataset"),
	}
}

// DataDir is the default run ledger directory.
func (e *TestEnv) DataDir() string {
	return filepath.Join(e.Root, ".labelkit")
}

// CmdResult holds the result of a labelkit command execution.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// RunLabelkit executes labelkit with --config-dir and --root prepended.
func (e *TestEnv) RunLabelkit(args ...string) CmdResult {
	e.t.Helper()
	return e.RunLabelkitRaw(append([]string{"--config-dir", e.ConfigDir, "--root", e.Root}, args...)...)
}

// RunLabelkitRaw executes labelkit with exactly args. LABELKIT_* variables
// of the test process are not inherited.
func (e *TestEnv) RunLabelkitRaw(args ...string) CmdResult {
	e.t.Helper()

	cmd := exec.Command(labelkitBin, args...)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "LABELKIT_") {
			cmd.Env = append(cmd.Env, kv)
		}
	}
	cmd.Env = append(cmd.Env, e.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			e.t.Fatalf("failed to run labelkit: %v", err)
		}
	}

	return CmdResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}
}

// MustRunLabelkit executes labelkit and fails the test if it returns non-zero.
func (e *TestEnv) MustRunLabelkit(args ...string) CmdResult {
	e.t.Helper()
	result := e.RunLabelkit(args...)
	if result.ExitCode != 0 {
		e.t.Fatalf("labelkit %v failed with exit code %d:\nstdout: %s\nstderr: %s",
			args, result.ExitCode, result.Stdout, result.Stderr)
	}
	return result
}

// WriteFile writes content to a path relative to the dataset root.
func (e *TestEnv) WriteFile(rel, content string) {
	e.t.Helper()
	path := filepath.Join(e.Root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("write %s: %v", path, err)
	}
}

// ReadFile reads a path relative to the dataset root.
func (e *TestEnv) ReadFile(rel string) string {
	e.t.Helper()
	data, err := os.ReadFile(filepath.Join(e.Root, rel))
	if err != nil {
		e.t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
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
