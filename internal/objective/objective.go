// Package objective resolves and runs the user's objective function for a
// job, and normalizes what it returns.
package objective

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/me/gomint/internal/logging"
	"github.com/me/gomint/pkg/model"
)

// Objective evaluates the user's function at one parameter assignment.
type Objective interface {
	Evaluate(ctx context.Context, jobID int, params map[string][]float64) (Result, error)
}

// Func adapts a Go function returning a dynamically shaped value.
type Func func(ctx context.Context, jobID int, params map[string][]float64) (any, error)

// Evaluate calls f and normalizes its return value.
func (f Func) Evaluate(ctx context.Context, jobID int, params map[string][]float64) (Result, error) {
	raw, err := f(ctx, jobID, params)
	if err != nil {
		return Result{}, err
	}
	return Normalize(raw)
}

// Factory builds the objective for a main file inside an experiment directory.
type Factory func(exptDir, mainFile string, logger *slog.Logger) (Objective, error)

// Resolver maps job languages to objective factories.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Resolver struct {
	factories map[string]Factory
	logger    *slog.Logger
}

// NewResolver creates a Resolver with the built-in languages.
func NewResolver(logger *slog.Logger) *Resolver {
	r := &Resolver{
		factories: make(map[string]Factory),
		logger:    logging.Component(logger, "objective"),
	}
	r.Register(newJavaScript, "javascript", "js")
	r.Register(newCommand, "command", "shell")
	r.Register(newPython, "python")
	return r
}

// Register installs f for each language name.
func (r *Resolver) Register(f Factory, languages ...string) {
	for _, lang := range languages {
		r.factories[model.NormalizeLanguage(lang)] = f
	}
}

// Languages lists the registered language names in sorted order.
func (r *Resolver) Languages() []string {
	out := make([]string, 0, len(r.factories))
	for lang := range r.factories {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the objective a job runs.
func (r *Resolver) Resolve(job *model.Job) (Objective, error) {
	lang := model.NormalizeLanguage(job.Language)
	f, ok := r.factories[lang]
	if !ok {
		return nil, fmt.Errorf("unsupported language %q (available: %v)", job.Language, r.Languages())
	}
	if job.MainFile == "" {
		return nil, fmt.Errorf("job has no main-file")
	}
	mainFile := job.MainFile
	if !filepath.IsAbs(mainFile) {
		mainFile = filepath.Join(job.ExperimentDir, mainFile)
	}
	r.logger.Debug("resolving objective", "job_id", job.ID, "language", lang, "main_file", mainFile)
	return f(job.ExperimentDir, mainFile, r.logger)
}
