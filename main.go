package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/gbotrel/shownotes/e007"
	"github.com/spf13/cobra"
)

// shownotes accompanies the show notes in ./e007.
//
// shownotes add 2 2 calls e007.Add.
//
// shownotes bench [pkg] is used like go test -bench=. ...; it compiles the
// package's test binary (go test -c) and runs the benchmarks with the flags
// forwarded. With --remote the binary is cross compiled for an ec2 instance
// started for the occasion, uploaded over scp, and run over ssh with the
// output streamed back. The instance is terminated when the ssh session ends
// or the command is interrupted.

const clearStr = "                                                                                                            "

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "shownotes",
		Short:         "Companion tool for the testing and benchmarking show notes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(addCommand(), benchCommand())
	return rootCmd
}

func addCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add A B",
		Short: "Print A + B",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid operand %q: %w", args[0], err)
			}
			b, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid operand %q: %w", args[1], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), e007.Add(a, b))
			return nil
		},
	}
}

func benchCommand() *cobra.Command {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "bench [package]",
		Short: "Run a package's benchmarks locally or on a fresh ec2 instance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg := "."
			if len(args) == 1 {
				pkg = args[0]
			}
			if opts.count < 1 {
				return fmt.Errorf("count must be at least 1, got %d", opts.count)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
			defer stop()

			if opts.remote {
				return runRemote(ctx, pkg, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			}
			return runLocalBench(ctx, pkg, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	// same as go test ...
	cmd.Flags().StringVar(&opts.bench, "bench", ".", "run only those benchmarks matching a regular expression")
	cmd.Flags().IntVar(&opts.count, "count", 5, "run each benchmark n times")
	cmd.Flags().IntVar(&opts.cpu, "cpu", 0, "number of parallel CPUs to use")
	cmd.Flags().BoolVar(&opts.benchMem, "benchmem", false, "print memory allocation statistics")
	cmd.Flags().StringVar(&opts.run, "run", "NONE", "run only those tests and examples matching the regular expression")

	cmd.Flags().BoolVar(&opts.remote, "remote", false, "run on a dedicated ec2 instance")
	cmd.Flags().StringVar(&opts.instanceType, "type", "t2.micro", "ec2 instance type")
	cmd.Flags().StringVar(&opts.region, "region", "us-east-2", "aws region")
	cmd.Flags().StringVar(&opts.securityGroup, "security-group", defaultSecurityGroup, "security group allowing inbound ssh")
	cmd.Flags().StringVar(&opts.sshUser, "ssh-user", "ubuntu", "login user of the instance image")

	return cmd
}

func runLocalBench(ctx context.Context, pkg string, opts benchOptions, stdout, stderr io.Writer) error {
	commitID, err := gitCommitID(".")
	if err != nil {
		return err
	}

	dir, err := packageDir(ctx, pkg)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "\rbuilding test binary for %s..."+clearStr, pkg)
	binary, err := compileBenchmarkBinary(ctx, pkg, runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	defer os.Remove(binary)

	fmt.Fprintf(stdout, "\rrunning benchmark..."+clearStr+"\n")
	fmt.Fprintf(stdout, "platform: %s/%s (%d CPUs)\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	fmt.Fprintf(stdout, "commit ID: %s\n", commitID)

	return runLocal(ctx, binary, dir, opts, stdout, stderr)
}

// runRemote is the ec2 flow: resolve identity and key pair, build for the
// instance architecture, start the instance, upload, run, terminate.
func runRemote(ctx context.Context, pkg string, opts benchOptions, stdout, stderr io.Writer) error {
	commitID, err := gitCommitID(".")
	if err != nil {
		return err
	}

	c, err := newCloud(ctx, opts, stdout)
	if err != nil {
		return err
	}
	if err := c.ensureKeyPair(ctx); err != nil {
		return err
	}

	arch, err := c.instanceArch(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "\rbuilding test binary for %s (linux/%s)..."+clearStr, pkg, arch.GOARCH())
	binary, err := compileBenchmarkBinary(ctx, pkg, "linux", arch.GOARCH())
	if err != nil {
		return err
	}

	return runRemoteWith(ctx, c, arch, binary, commitID, opts, sshSteps, stdout, stderr)
}

// runRemoteWith starts an instance, uploads and runs binary on it, then
// terminates the instance. binary is removed once the run is over.
func runRemoteWith(ctx context.Context, c *cloud, arch instanceArch, binary, commitID string, opts benchOptions, steps remoteSteps, stdout, stderr io.Writer) error {
	defer os.Remove(binary)

	fmt.Fprintf(stdout, "\rstarting %s instance..."+clearStr, c.instanceType)
	publicIP, instanceID, err := c.startInstance(ctx, arch)
	if err != nil {
		return err
	}
	// ctx is cancelled on interrupt, but the instance must still go away
	defer c.terminateInstance(context.WithoutCancel(ctx), instanceID)

	done := make(chan error, 1)
	go func() {
		fmt.Fprintf(stdout, "\rssh ready (%s). uploading benchmark binary..."+clearStr, publicIP)
		if err := steps.upload(ctx, c.privateKeyPath(), opts.sshUser, publicIP, binary); err != nil {
			done <- err
			return
		}

		fmt.Fprintf(stdout, "\rrunning benchmark..."+clearStr+"\n")
		fmt.Fprintf(stdout, "ec2-user: %s\n", c.userName)
		fmt.Fprintf(stdout, "instance IP: %s\n", publicIP)
		fmt.Fprintf(stdout, "instance type: %s\n", c.instanceType)
		fmt.Fprintf(stdout, "commit ID: %s\n", commitID)

		done <- steps.run(ctx, c.privateKeyPath(), opts.sshUser, publicIP, opts, stdout, stderr)
	}()

	// an interrupt cancels ctx, which kills scp/ssh, so done always arrives
	err = <-done
	if ctx.Err() != nil {
		fmt.Fprintln(stdout, "\ninterrupted")
		return nil
	}
	return err
}
