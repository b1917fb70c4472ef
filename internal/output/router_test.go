package output

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aryankumar/fanout/internal/executor"
	"github.com/aryankumar/fanout/internal/hostlist"
)

// Scenario: with an output directory configured, each task writes exactly
// its own captured stdout to a file named after its endpoint identity,
// with no cross-contamination.
func TestRouter_PerEndpointFiles(t *testing.T) {
	dir := t.TempDir()
	router := NewRouter(executor.OutputOptions{OutDir: dir}, nil, nil)
	if err := router.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	endpoints := []hostlist.Endpoint{
		{Host: "web1"},
		{Host: "web2", Port: "2222", User: "admin"},
	}
	payloads := []string{"output of web1\n", "output of web2\n"}

	for i, ep := range endpoints {
		stdout, stderr, err := router.Open(ep)
		if err != nil {
			t.Fatalf("Open(%s): %v", ep.Identity(), err)
		}
		if _, err := stdout.Write([]byte(payloads[i])); err != nil {
			t.Fatalf("Write: %v", err)
		}
		stdout.Close()
		stderr.Close()
	}

	for i, ep := range endpoints {
		data, err := os.ReadFile(filepath.Join(dir, ep.Identity()))
		if err != nil {
			t.Fatalf("reading %s: %v", ep.Identity(), err)
		}
		if string(data) != payloads[i] {
			t.Errorf("file %s = %q, want %q", ep.Identity(), data, payloads[i])
		}
	}
}

func TestRouter_ErrDir(t *testing.T) {
	outDir := t.TempDir()
	errDir := t.TempDir()
	router := NewRouter(executor.OutputOptions{OutDir: outDir, ErrDir: errDir}, nil, nil)
	if err := router.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	ep := hostlist.Endpoint{Host: "db1"}
	stdout, stderr, err := router.Open(ep)
	if err != nil {
		t.Fatal(err)
	}
	stdout.Write([]byte("to stdout"))
	stderr.Write([]byte("to stderr"))
	stdout.Close()
	stderr.Close()

	out, err := os.ReadFile(filepath.Join(outDir, "db1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "to stdout" {
		t.Errorf("stdout file = %q", out)
	}

	errData, err := os.ReadFile(filepath.Join(errDir, "db1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(errData) != "to stderr" {
		t.Errorf("stderr file = %q", errData)
	}
}

func TestRouter_PrepareCreatesDirectories(t *testing.T) {
	base := t.TempDir()
	outDir := filepath.Join(base, "out", "nested")
	router := NewRouter(executor.OutputOptions{OutDir: outDir}, nil, nil)

	if err := router.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	info, err := os.Stat(outDir)
	if err != nil || !info.IsDir() {
		t.Errorf("output directory not created: %v", err)
	}
}

func TestRouter_PrepareFailure(t *testing.T) {
	base := t.TempDir()
	// A regular file blocks directory creation underneath it
	blocker := filepath.Join(base, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	router := NewRouter(executor.OutputOptions{OutDir: filepath.Join(blocker, "out")}, nil, nil)
	if err := router.Prepare(); err == nil {
		t.Fatal("expected Prepare to fail under a regular file")
	}
}

func TestRouter_NoSinksDiscard(t *testing.T) {
	router := NewRouter(executor.OutputOptions{}, nil, nil)
	stdout, stderr, err := router.Open(hostlist.Endpoint{Host: "web1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stdout.Write([]byte("dropped")); err != nil {
		t.Errorf("discard write failed: %v", err)
	}
	stdout.Close()
	stderr.Close()
}
