package resource

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/me/gomint/internal/logging"
)

// queueSystem describes the commands of one batch-queue flavour.
type queueSystem struct {
	submit   string
	submitID *regexp.Regexp
	// submitArgs returns the submit flags for a job name, output file and
	// optional queue, excluding the script path.
	submitArgs func(name, output, queue string) []string
	// status returns the command that queries one job.
	status func(id string) (string, []string)
	// running interprets the status command's result.
	running func(stdout string, exitCode int) bool
}

var queueSystems = map[string]queueSystem{
	"sge": {
		submit:   "qsub",
		submitID: regexp.MustCompile(`Your job (\d+)`),
		submitArgs: func(name, output, queue string) []string {
			args := []string{"-S", "/bin/bash", "-N", name, "-o", output, "-j", "y"}
			if queue != "" {
				args = append(args, "-q", queue)
			}
			return args
		},
		status: func(id string) (string, []string) { return "qstat", []string{"-j", id} },
		running: func(_ string, exitCode int) bool {
			return exitCode == 0
		},
	},
	"pbs": {
		submit:   "qsub",
		submitID: regexp.MustCompile(`^\s*(\d+)`),
		submitArgs: func(name, output, queue string) []string {
			args := []string{"-S", "/bin/bash", "-N", name, "-o", output, "-j", "oe"}
			if queue != "" {
				args = append(args, "-q", queue)
			}
			return args
		},
		status: func(id string) (string, []string) { return "qstat", []string{id} },
		running: func(stdout string, exitCode int) bool {
			if exitCode != 0 {
				return false
			}
			// Last line: "<id> <name> <user> <time> <state> <queue>"; C is completed.
			lines := strings.Split(strings.TrimSpace(stdout), "\n")
			fields := strings.Fields(lines[len(lines)-1])
			return len(fields) < 5 || fields[4] != "C"
		},
	},
	"slurm": {
		submit:   "sbatch",
		submitID: regexp.MustCompile(`Submitted batch job (\d+)`),
		submitArgs: func(name, output, queue string) []string {
			args := []string{"-J", name, "-o", output}
			if queue != "" {
				args = append(args, "-p", queue)
			}
			return args
		},
		status: func(id string) (string, []string) { return "squeue", []string{"-h", "-j", id, "-o", "%T"} },
		running: func(stdout string, exitCode int) bool {
			if exitCode != 0 {
				return false
			}
			switch strings.TrimSpace(stdout) {
			case "PENDING", "RUNNING", "CONFIGURING", "COMPLETING", "SUSPENDED", "REQUEUED", "RESIZING":
				return true
			}
			return false
		},
	},
}

// ClusterBackend submits launchers to a batch queue (SGE, PBS or Slurm).
// The handle is the queue's job id.
type ClusterBackend struct {
	kind     string
	system   queueSystem
	launcher string
	queue    string
	runner   CommandRunner
	logger   *slog.Logger
}

// NewClusterBackend creates a backend for kind, one of "sge", "pbs" or "slurm".
func NewClusterBackend(kind, launcher, queue string, logger *slog.Logger) (*ClusterBackend, error) {
	return newClusterBackendWithRunner(kind, launcher, queue, logger, &osCommandRunner{})
}

// newClusterBackendWithRunner is used by tests to inject a mock CommandRunner.
func newClusterBackendWithRunner(kind, launcher, queue string, logger *slog.Logger, runner CommandRunner) (*ClusterBackend, error) {
	system, ok := queueSystems[kind]
	if !ok {
		return nil, fmt.Errorf("unknown queue system %q", kind)
	}
	if launcher == "" {
		launcher = DefaultLauncher()
	}
	return &ClusterBackend{
		kind:     kind,
		system:   system,
		launcher: launcher,
		queue:    queue,
		runner:   runner,
		logger:   logging.Component(logger, kind+"-backend"),
	}, nil
}

func (b *ClusterBackend) Kind() string { return b.kind }

// Submit writes a job script next to the output file and hands it to the
// queue's submit command.
func (b *ClusterBackend) Submit(ctx context.Context, spec LaunchSpec) (string, error) {
	outPath := spec.OutputFile()
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("job %d: create output dir: %w", spec.JobID, err)
	}
	script := strings.TrimSuffix(outPath, ".out") + ".sh"
	if err := os.WriteFile(script, []byte(b.script(spec)), 0o755); err != nil {
		return "", fmt.Errorf("job %d: write job script: %w", spec.JobID, err)
	}

	name := fmt.Sprintf("%s-%d", spec.Experiment, spec.JobID)
	args := append(b.system.submitArgs(name, outPath, b.queue), script)
	stdout, stderr, exitCode, err := b.runner.Run(ctx, b.system.submit, args...)
	if err != nil {
		return "", fmt.Errorf("job %d: %s: %w", spec.JobID, b.system.submit, err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("job %d: %s exited %d: %s", spec.JobID, b.system.submit, exitCode, strings.TrimSpace(stderr))
	}

	m := b.system.submitID.FindStringSubmatch(stdout)
	if m == nil {
		return "", fmt.Errorf("job %d: cannot parse %s output %q", spec.JobID, b.system.submit, strings.TrimSpace(stdout))
	}
	b.logger.Debug("submitted", "job_id", spec.JobID, "queue_id", m[1])
	return m[1], nil
}

// Alive queries the queue for the job. A query that cannot run at all is
// logged and treated as alive so a queue outage does not break every
// pending job.
func (b *ClusterBackend) Alive(ctx context.Context, handle string) bool {
	name, args := b.system.status(handle)
	stdout, stderr, exitCode, err := b.runner.Run(ctx, name, args...)
	if err != nil {
		b.logger.Warn("liveness query failed", "queue_id", handle, "error", err, "stderr", strings.TrimSpace(stderr))
		return true
	}
	return b.system.running(stdout, exitCode)
}

func (b *ClusterBackend) script(spec LaunchSpec) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&sb, "cd %s\n", shellQuote(spec.ExperimentDir))
	sb.WriteString("exec " + shellQuote(b.launcher))
	for _, a := range spec.Args() {
		sb.WriteString(" " + shellQuote(a))
	}
	sb.WriteString("\n")
	return sb.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
