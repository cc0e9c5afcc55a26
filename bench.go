package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/exp/rand"
)

// benchOptions mirrors the go test flags that are forwarded to the test
// binary, plus the knobs for remote runs.
type benchOptions struct {
	bench    string
	count    int
	cpu      int
	benchMem bool
	run      string

	remote        bool
	instanceType  string
	region        string
	securityGroup string
	sshUser       string
}

// benchArgs returns the -test.* flags understood by a compiled test binary.
func benchArgs(opts benchOptions) []string {
	args := []string{
		fmt.Sprintf("-test.bench=%s", opts.bench),
		fmt.Sprintf("-test.count=%d", opts.count),
		fmt.Sprintf("-test.benchmem=%t", opts.benchMem),
		fmt.Sprintf("-test.run=%s", opts.run),
	}
	if opts.cpu > 0 {
		args = append(args, fmt.Sprintf("-test.cpu=%d", opts.cpu))
	}
	return args
}

// compileBenchmarkBinary runs go test -c for pkg, cross compiling for
// goos/goarch, and returns the path of the resulting binary.
func compileBenchmarkBinary(ctx context.Context, pkg, goos, goarch string) (fileName string, err error) {
	fileName = filepath.Join(os.TempDir(), "bench-"+randString(7))

	cmd := exec.CommandContext(ctx, "go", "test", "-c", "-o", fileName, pkg)
	cmd.Env = append(os.Environ(), "GOOS="+goos, "GOARCH="+goarch)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to build test binary: \nstdout: %s\nstderr: %s, %w", stdout.String(), stderr.String(), err)
	}

	// go test -c writes nothing when the package has no test files
	if _, err := os.Stat(fileName); err != nil {
		return "", fmt.Errorf("binary not found: %w - cmd %s failed", err, cmd.String())
	}

	return fileName, nil
}

// packageDir returns the source directory of pkg. go test runs a test binary
// from there, so testdata/ lookups resolve the same way.
func packageDir(ctx context.Context, pkg string) (string, error) {
	out, err := exec.CommandContext(ctx, "go", "list", "-f", "{{.Dir}}", pkg).Output()
	if err != nil {
		return "", fmt.Errorf("unable to locate package %s: %w", pkg, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// runLocal executes a compiled test binary on this machine from dir.
func runLocal(ctx context.Context, binary, dir string, opts benchOptions, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, binary, benchArgs(opts)...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to run the benchmark: %w", err)
	}
	return nil
}

// gitCommitID describes the commit being benchmarked. A dirty work tree gets a
// -dirty suffix; outside of git it is "not a git repo".
func gitCommitID(dir string) (string, error) {
	git := func(args ...string) ([]byte, error) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		return cmd.Output()
	}

	if _, err := git("rev-parse", "--is-inside-work-tree"); err != nil {
		return "not a git repo", nil
	}

	out, err := git("rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	commitID := strings.TrimSpace(string(out))

	out, err = git("status", "--porcelain")
	if err != nil {
		return "", err
	}
	if len(out) > 0 {
		commitID += "-dirty"
	}

	return commitID, nil
}

func randString(n int) string {
	r := rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}
