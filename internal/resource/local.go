package resource

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/me/gomint/internal/logging"
)

// LocalBackend runs each launcher as a child process of the scheduler.
// The handle is the child's pid.
type LocalBackend struct {
	launcher string
	logger   *slog.Logger

	mu       sync.Mutex
	children map[int]chan struct{} // closed once the child has been reaped
}

// NewLocalBackend creates a LocalBackend starting launcher. An empty
// launcher means the running binary.
func NewLocalBackend(launcher string, logger *slog.Logger) *LocalBackend {
	if launcher == "" {
		launcher = DefaultLauncher()
	}
	return &LocalBackend{
		launcher: launcher,
		logger:   logging.Component(logger, "local-backend"),
		children: make(map[int]chan struct{}),
	}
}

func (b *LocalBackend) Kind() string { return "local" }

// Submit starts the launcher in the experiment directory without waiting
// for it. The child is not bound to ctx: dispatched jobs are never cancelled.
func (b *LocalBackend) Submit(_ context.Context, spec LaunchSpec) (string, error) {
	outPath := spec.OutputFile()
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("job %d: create output dir: %w", spec.JobID, err)
	}
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("job %d: open output file: %w", spec.JobID, err)
	}
	defer out.Close()

	cmd := exec.Command(b.launcher, spec.Args()...)
	cmd.Dir = spec.ExperimentDir
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("job %d: start launcher: %w", spec.JobID, err)
	}

	pid := cmd.Process.Pid
	done := make(chan struct{})
	b.mu.Lock()
	b.children[pid] = done
	b.mu.Unlock()

	go func() {
		err := cmd.Wait()
		close(done)
		b.logger.Debug("launcher exited", "job_id", spec.JobID, "pid", pid, "error", err)
	}()

	b.logger.Debug("launcher started", "job_id", spec.JobID, "pid", pid, "output", outPath)
	return strconv.Itoa(pid), nil
}

// Alive reports whether the process is still running. Children of this
// scheduler are tracked directly; pids from an earlier scheduler run are
// checked with signal 0.
func (b *LocalBackend) Alive(_ context.Context, handle string) bool {
	pid, err := strconv.Atoi(handle)
	if err != nil || pid <= 0 {
		return false
	}

	b.mu.Lock()
	done, tracked := b.children[pid]
	b.mu.Unlock()
	if tracked {
		select {
		case <-done:
			b.mu.Lock()
			delete(b.children, pid)
			b.mu.Unlock()
			return false
		default:
			return true
		}
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
