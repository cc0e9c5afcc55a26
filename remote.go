package main

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

const remoteBinary = "/tmp/bench"

func sshTarget(user, publicIP string) string {
	return fmt.Sprintf("%s@%s", user, publicIP)
}

func scpArgs(keyPath, user, publicIP, fileName string) []string {
	return []string{
		"-o", "StrictHostKeyChecking=no",
		"-i", keyPath,
		fileName,
		sshTarget(user, publicIP) + ":" + remoteBinary,
	}
}

// shellQuote wraps s in single quotes for the remote shell, which sees the
// ssh command line as one string.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sshArgs(keyPath, user, publicIP string, opts benchOptions) []string {
	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-i", keyPath,
		sshTarget(user, publicIP),
		"cd /tmp && " + remoteBinary,
	}
	for _, arg := range benchArgs(opts) {
		args = append(args, shellQuote(arg))
	}
	return args
}

// remoteSteps uploads and runs the test binary on a ready instance.
type remoteSteps struct {
	upload func(ctx context.Context, keyPath, user, publicIP, fileName string) error
	run    func(ctx context.Context, keyPath, user, publicIP string, opts benchOptions, stdout, stderr io.Writer) error
}

var sshSteps = remoteSteps{upload: scp, run: sshExec}

func scp(ctx context.Context, keyPath, user, publicIP, fileName string) error {
	cmd := exec.CommandContext(ctx, "scp", scpArgs(keyPath, user, publicIP, fileName)...)
	var uploadStdout, uploadStderr strings.Builder
	cmd.Stdout = &uploadStdout
	cmd.Stderr = &uploadStderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to upload the binary: \nstdout: %s\nstderr: %s, %w", uploadStdout.String(), uploadStderr.String(), err)
	}
	return nil
}

// sshExec runs the uploaded binary and streams its output as it is produced.
func sshExec(ctx context.Context, keyPath, user, publicIP string, opts benchOptions, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, "ssh", sshArgs(keyPath, user, publicIP, opts)...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to run the benchmark: %w", err)
	}
	return nil
}
