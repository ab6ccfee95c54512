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

// defaultContainerLauncher is the launcher looked up on the image's PATH.
const defaultContainerLauncher = "gomint"

var containerNameInvalid = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// DockerBackend runs each launcher in a detached, self-removing container
// using the Docker CLI. The experiment directory is mounted at the same
// path so job records, objectives and output files resolve unchanged. The
// handle is the container name.
type DockerBackend struct {
	image    string
	launcher string
	runner   CommandRunner
	logger   *slog.Logger
}

// NewDockerBackend creates a backend starting containers from image.
// launcher is the launcher path inside the image.
func NewDockerBackend(image, launcher string, logger *slog.Logger) *DockerBackend {
	return newDockerBackendWithRunner(image, launcher, logger, &osCommandRunner{})
}

// newDockerBackendWithRunner is used by tests to inject a mock CommandRunner.
func newDockerBackendWithRunner(image, launcher string, logger *slog.Logger, runner CommandRunner) *DockerBackend {
	if launcher == "" {
		launcher = defaultContainerLauncher
	}
	return &DockerBackend{
		image:    image,
		launcher: launcher,
		runner:   runner,
		logger:   logging.Component(logger, "docker-backend"),
	}
}

func (b *DockerBackend) Kind() string { return "docker" }

// Submit starts the container and returns once Docker has accepted it.
func (b *DockerBackend) Submit(ctx context.Context, spec LaunchSpec) (string, error) {
	if b.image == "" {
		return "", fmt.Errorf("job %d: no image configured", spec.JobID)
	}
	outPath := spec.OutputFile()
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("job %d: create output dir: %w", spec.JobID, err)
	}

	name := containerName(spec)
	args := []string{
		"run", "-d", "--rm",
		"--name", name,
		"--network", "host",
		"--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		"-w", spec.ExperimentDir,
	}
	for _, dir := range b.mounts(spec) {
		args = append(args, "-v", dir+":"+dir)
	}
	args = append(args, b.image, "sh", "-c", b.command(spec))

	stdout, stderr, exitCode, err := b.runner.Run(ctx, "docker", args...)
	if err != nil {
		return "", fmt.Errorf("job %d: docker run: %w", spec.JobID, err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("job %d: docker run exited %d: %s", spec.JobID, exitCode, strings.TrimSpace(stderr))
	}

	b.logger.Debug("container started",
		"job_id", spec.JobID,
		"image", b.image,
		"container", name,
		"container_id", shortID(stdout),
	)
	return name, nil
}

// Alive inspects the container. It is removed on exit, so a failed inspect
// means the launcher has finished. A Docker CLI that cannot run at all is
// logged and treated as alive.
func (b *DockerBackend) Alive(ctx context.Context, handle string) bool {
	stdout, stderr, exitCode, err := b.runner.Run(ctx, "docker", "inspect", "-f", "{{.State.Running}}", handle)
	if err != nil {
		b.logger.Warn("liveness query failed", "container", handle, "error", err, "stderr", strings.TrimSpace(stderr))
		return true
	}
	return exitCode == 0 && strings.TrimSpace(stdout) == "true"
}

// mounts returns the host directories the container needs: the experiment
// directory and, for a file store outside it, the store's directory.
func (b *DockerBackend) mounts(spec LaunchSpec) []string {
	dirs := []string{spec.ExperimentDir}
	addr := spec.StoreAddress
	if addr == "" || strings.Contains(addr, "://") || !filepath.IsAbs(addr) {
		return dirs
	}
	storeDir := filepath.Dir(addr)
	if rel, err := filepath.Rel(spec.ExperimentDir, storeDir); err == nil && !strings.HasPrefix(rel, "..") {
		return dirs
	}
	return append(dirs, storeDir)
}

func (b *DockerBackend) command(spec LaunchSpec) string {
	var sb strings.Builder
	sb.WriteString("exec " + shellQuote(b.launcher))
	for _, a := range spec.Args() {
		sb.WriteString(" " + shellQuote(a))
	}
	fmt.Fprintf(&sb, " >%s 2>&1", shellQuote(spec.OutputFile()))
	return sb.String()
}

func containerName(spec LaunchSpec) string {
	exp := strings.Trim(containerNameInvalid.ReplaceAllString(spec.Experiment, "-"), "-.")
	if exp == "" {
		exp = "experiment"
	}
	return fmt.Sprintf("gomint-%s-%d", exp, spec.JobID)
}

func shortID(stdout string) string {
	id := strings.TrimSpace(stdout)
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
