package objective

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Command runs an executable objective. It receives the job id as its only
// argument and the parameters as a JSON object on stdin, and prints the
// result as JSON on the last non-empty line of stdout. Anything it writes
// to stderr is passed through.
type Command struct {
	dir    string
	name   string
	args   []string
	stderr io.Writer
	logger *slog.Logger
}

func newCommand(exptDir, mainFile string, logger *slog.Logger) (Objective, error) {
	if _, err := os.Stat(mainFile); err != nil {
		return nil, fmt.Errorf("command objective: %w", err)
	}
	return &Command{dir: exptDir, name: mainFile, stderr: os.Stderr, logger: logger}, nil
}

const pythonShim = `import importlib, json, sys
sys.path.insert(0, sys.argv[1])
module = importlib.import_module(sys.argv[2])
params = json.load(sys.stdin)
out = sys.stdout
sys.stdout = sys.stderr
result = module.main(int(sys.argv[3]), params)
def encode(o):
    if hasattr(o, "tolist"):
        return o.tolist()
    return float(o)
out.write("\n" + json.dumps(result, default=encode) + "\n")
`

// pythonInterpreter runs Python objectives. GOMINT_PYTHON overrides it.
func pythonInterpreter() string {
	if p := os.Getenv("GOMINT_PYTHON"); p != "" {
		return p
	}
	return "python3"
}

// newPython runs main(job_id, params) from a Python module through a small
// shim; parameters arrive as lists of floats.
func newPython(exptDir, mainFile string, logger *slog.Logger) (Objective, error) {
	if _, err := os.Stat(mainFile); err != nil {
		return nil, fmt.Errorf("python objective: %w", err)
	}
	module := strings.TrimSuffix(filepath.Base(mainFile), ".py")
	return &Command{
		dir:    exptDir,
		name:   pythonInterpreter(),
		args:   []string{"-c", pythonShim, filepath.Dir(mainFile), module},
		stderr: os.Stderr,
		logger: logger,
	}, nil
}

func (o *Command) Evaluate(ctx context.Context, jobID int, params map[string][]float64) (Result, error) {
	input, err := json.Marshal(params)
	if err != nil {
		return Result{}, fmt.Errorf("encode params: %w", err)
	}

	args := append(append([]string{}, o.args...), strconv.Itoa(jobID))
	cmd := exec.CommandContext(ctx, o.name, args...)
	cmd.Dir = o.dir
	cmd.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = o.stderr

	o.logger.Debug("running objective", "job_id", jobID, "command", o.name)
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("run %s: %w", filepath.Base(o.name), err)
	}

	line := lastLine(stdout.String())
	if line == "" {
		return Result{}, fmt.Errorf("%w: objective printed nothing", ErrMalformedResult)
	}
	var raw any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Result{}, fmt.Errorf("%w: %q is not JSON: %v", ErrMalformedResult, line, err)
	}
	return Normalize(raw)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
