package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/me/gomint/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const braninJSON = `{
	"language"        : "PYTHON",
	"main-file"       : "branin.py",
	"experiment-name" : "simple-braningo",
	"variables" : {
		"x" : {
			"type" : "FLOAT",
			"size" : 1,
			"min"  : -5,
			"max"  : 10
		},
		"y" : {
			"type" : "FLOAT",
			"size" : 1,
			"min"  : 0,
			"max"  : 15
		}
	}
}`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	return dir
}

func TestLoad_JSONWithDefaults(t *testing.T) {
	dir := writeConfig(t, "config.json", braninJSON)

	cfg, err := Load(dir, "")
	require.NoError(t, err)

	assert.Equal(t, "simple-braningo", cfg.ExperimentName)
	assert.Equal(t, DefaultChooser, cfg.Chooser)
	assert.Equal(t, "config.json", cfg.File)
	assert.Equal(t, 5*time.Second, cfg.PollingInterval())

	require.Len(t, cfg.Variables, 2)
	assert.Equal(t, "x", cfg.Variables[0].Name)
	assert.Equal(t, "y", cfg.Variables[1].Name)
	assert.Equal(t, -5.0, cfg.Variables[0].Min)

	require.Len(t, cfg.Tasks, 1)
	assert.Equal(t, model.MainTask, cfg.Tasks[0].Name)
	assert.Equal(t, "OBJECTIVE", cfg.Tasks[0].Type)

	require.Len(t, cfg.Resources, 1)
	r := cfg.Resources[0]
	assert.Equal(t, "Main", r.Name)
	assert.Equal(t, "local", r.Scheduler)
	assert.Equal(t, 1, r.MaxConcurrent)
	assert.Equal(t, 0, r.MaxFinishedJobs)
	assert.Equal(t, []string{model.MainTask}, r.Tasks)

	assert.Equal(t, filepath.Join(cfg.ExperimentDir, "gomint.db"), cfg.Database.Address)
	assert.Equal(t, "gomint", cfg.Database.Name)

	mainFile, lang, err := cfg.ResolveTask(model.MainTask)
	require.NoError(t, err)
	assert.Equal(t, "branin.py", mainFile)
	assert.Equal(t, "python", lang)
}

func TestLoad_DatabaseAddressResolution(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "elsewhere.db")
	cases := []struct {
		name    string
		address string
		want    func(dir string) string
	}{
		{"relative", "jobs.db", func(dir string) string { return filepath.Join(dir, "jobs.db") }},
		{"relative subdir", "db/jobs.db", func(dir string) string { return filepath.Join(dir, "db", "jobs.db") }},
		{"sqlite prefix", "sqlite://jobs.db", func(dir string) string { return filepath.Join(dir, "jobs.db") }},
		{"absolute", abs, func(string) string { return abs }},
		{"sqlite absolute", "sqlite://" + abs, func(string) string { return abs }},
		{"memory", ":memory:", func(string) string { return ":memory:" }},
		{"mongo", "mongodb://localhost:27017", func(string) string { return "mongodb://localhost:27017" }},
		{"mongo srv", "mongodb+srv://cluster.example.net", func(string) string { return "mongodb+srv://cluster.example.net" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := `{
	"main-file": "branin.py",
	"experiment-name": "db",
	"database": {"address": "` + tc.address + `"},
	"variables": {"x": {"type": "FLOAT", "size": 1, "min": 0, "max": 1}}
}`
			dir := writeConfig(t, "config.json", body)

			cfg, err := Load(dir, "")
			require.NoError(t, err)
			assert.Equal(t, tc.want(cfg.ExperimentDir), cfg.Database.Address)
		})
	}
}

func TestLoad_PreservesResourceOrder(t *testing.T) {
	body := `
experiment-name: ordered
language: javascript
main-file: obj.js
variables:
  z: {min: 0, max: 1}
  a: {type: int, size: 3, min: 1, max: 9}
tasks:
  main:
    type: objective
  cheap:
    type: objective
    main-file: cheap.js
    resources: [cluster]
resources:
  workstation:
    max-concurrent: 2
  cluster:
    scheduler: SLURM
    max-concurrent: 10
    max-finished-jobs: 50
    queue: short
database:
  address: mongodb://localhost:27017
polling-time: 0.5
`
	dir := writeConfig(t, "config.yaml", body)

	cfg, err := Load(dir, "config.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"z", "a"}, []string{cfg.Variables[0].Name, cfg.Variables[1].Name})
	assert.Equal(t, VariableTypeInt, cfg.Variables[1].Type)
	assert.Equal(t, 3, cfg.Variables[1].Size)

	require.Len(t, cfg.Resources, 2)
	assert.Equal(t, "workstation", cfg.Resources[0].Name)
	assert.Equal(t, []string{"main"}, cfg.Resources[0].Tasks)
	assert.Equal(t, "cluster", cfg.Resources[1].Name)
	assert.Equal(t, "slurm", cfg.Resources[1].Scheduler)
	assert.Equal(t, 50, cfg.Resources[1].MaxFinishedJobs)
	assert.Equal(t, "short", cfg.Resources[1].Queue)
	assert.Equal(t, []string{"main", "cheap"}, cfg.Resources[1].Tasks)

	assert.Equal(t, "mongodb://localhost:27017", cfg.Database.Address)
	assert.Equal(t, 500*time.Millisecond, cfg.PollingInterval())

	mainFile, _, err := cfg.ResolveTask("cheap")
	require.NoError(t, err)
	assert.Equal(t, "cheap.js", mainFile, "task-level main-file wins")
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"), "")
	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "experiment-dir", cfgErr.Key)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := writeConfig(t, "config.json", `{"variables": {"x": {"min": 0,}`)
	_, err := Load(dir, "")
	assert.True(t, model.IsFatal(err))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		key  string
	}{
		{"no variables", `{"language": "js", "main-file": "a.js"}`, "variables"},
		{"min not below max", `{"language": "js", "main-file": "a.js", "variables": {"x": {"min": 3, "max": 3}}}`, "variables.x"},
		{"no main file", `{"language": "js", "variables": {"x": {"min": 0, "max": 1}}}`, "main-file"},
		{"no language", `{"main-file": "a.js", "variables": {"x": {"min": 0, "max": 1}}}`, "language"},
		{"bad scheduler", `{"language": "js", "main-file": "a.js", "scheduler": "lsf", "variables": {"x": {"min": 0, "max": 1}}}`, "resources.Main"},
		{"bad variable type", `{"language": "js", "main-file": "a.js", "variables": {"x": {"type": "ENUM", "min": 0, "max": 1}}}`, "variables.x"},
		{"docker without image", `{"language": "js", "main-file": "a.js", "scheduler": "docker", "variables": {"x": {"min": 0, "max": 1}}}`, "resources.Main"},
		{"unknown task resource", `{"language": "js", "main-file": "a.js", "variables": {"x": {"min": 0, "max": 1}}, "tasks": {"main": {"resources": ["gpu"]}}}`, "tasks.main"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.body))
			require.NoError(t, err)

			err = cfg.Validate()
			require.Error(t, err)

			found := false
			for _, e := range unwrapAll(err) {
				var cfgErr *model.ConfigurationError
				if errors.As(e, &cfgErr) && cfgErr.Key == tt.key {
					found = true
				}
			}
			assert.True(t, found, "expected a configuration error for %q, got %v", tt.key, err)
		})
	}
}

func TestResolveTask_UnknownTask(t *testing.T) {
	cfg, err := Parse([]byte(braninJSON))
	require.NoError(t, err)
	_, _, err = cfg.ResolveTask("other")
	assert.Error(t, err)
}

func TestTaskOptions(t *testing.T) {
	cfg, err := Parse([]byte(braninJSON))
	require.NoError(t, err)
	opts := cfg.TaskOptions([]string{"main", "missing"})
	assert.Len(t, opts, 1)
	assert.Equal(t, "OBJECTIVE", opts["main"].Type)
}

func unwrapAll(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
