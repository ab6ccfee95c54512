package resource

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Backend starts launcher processes and answers liveness queries for the
// handles it returned.
type Backend interface {
	Kind() string
	Submit(ctx context.Context, spec LaunchSpec) (handle string, err error)
	Alive(ctx context.Context, handle string) bool
}

// LaunchSpec selects exactly one job record for a launcher to execute.
type LaunchSpec struct {
	Experiment    string
	JobID         int
	StoreAddress  string
	Database      string
	ExperimentDir string
}

// Args returns the launcher's command line arguments.
func (s LaunchSpec) Args() []string {
	args := []string{
		"launch",
		"--experiment-name", s.Experiment,
		"--database-address", s.StoreAddress,
		"--job-id", strconv.Itoa(s.JobID),
	}
	if s.Database != "" {
		args = append(args, "--database-name", s.Database)
	}
	return args
}

// OutputFile is where the launcher's stdout and stderr go.
func (s LaunchSpec) OutputFile() string {
	return filepath.Join(s.ExperimentDir, "output", fmt.Sprintf("%08d.out", s.JobID))
}

// DefaultLauncher returns the path of the running binary, which carries
// the launch subcommand.
func DefaultLauncher() string {
	exe, err := os.Executable()
	if err != nil {
		return "gomint"
	}
	return exe
}

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// osCommandRunner is the real implementation using os/exec.
type osCommandRunner struct{}

func (r *osCommandRunner) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	switch e := runErr.(type) {
	case nil:
		return stdout, stderr, 0, nil
	case *exec.ExitError:
		return stdout, stderr, e.ExitCode(), nil
	default:
		return stdout, stderr, -1, runErr
	}
}
