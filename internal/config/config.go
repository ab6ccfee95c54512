package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/me/gomint/pkg/model"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the experiment file leaves a key out.
const (
	DefaultFile           = "config.json"
	DefaultExperimentName = "unnamed-experiment"
	DefaultChooser        = "random"
	DefaultResourceName   = "Main"
	DefaultScheduler      = "local"
	DefaultMaxConcurrent  = 1
	DefaultPollingTime    = 5.0
	DefaultDatabaseName   = "gomint"
	DefaultDatabaseFile   = "gomint.db"
	DefaultTaskType       = "OBJECTIVE"
	VariableTypeFloat     = "FLOAT"
	VariableTypeInt       = "INT"
	schedulerLocal        = "local"
	schedulerDocker       = "docker"
	defaultVariableSize   = 1
)

// Schedulers lists the resource backends a resource may name.
var Schedulers = []string{"local", "docker", "sge", "pbs", "slurm"}

// Variable is one named dimension group of the search space.
type Variable struct {
	Name string
	Type string
	Size int
	Min  float64
	Max  float64
}

// Task is one objective output channel.
type Task struct {
	Name      string
	Type      string
	MainFile  string
	Language  string
	Resources []string
}

// Resource describes one execution venue.
type Resource struct {
	Name            string
	Scheduler       string
	MaxConcurrent   int
	MaxFinishedJobs int // 0 means unbounded
	Queue           string
	Image           string
	Tasks           []string
}

// Database selects the job store.
type Database struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// Config is a fully defaulted experiment configuration. Variables, Tasks
// and Resources keep the order they appear in the file.
type Config struct {
	ExperimentDir   string
	File            string
	ExperimentName  string
	Chooser         string
	Language        string
	MainFile        string
	Variables       []Variable
	Tasks           []Task
	Resources       []Resource
	Database        Database
	PollingTime     float64
	PollingSchedule string
	Launcher        string
}

type rawConfig struct {
	ExperimentName  string    `yaml:"experiment-name"`
	Chooser         string    `yaml:"chooser"`
	Language        string    `yaml:"language"`
	MainFile        string    `yaml:"main-file"`
	Variables       yaml.Node `yaml:"variables"`
	Tasks           yaml.Node `yaml:"tasks"`
	Resources       yaml.Node `yaml:"resources"`
	ResourceName    string    `yaml:"resource-name"`
	Scheduler       string    `yaml:"scheduler"`
	MaxConcurrent   *int      `yaml:"max-concurrent"`
	MaxFinishedJobs *int      `yaml:"max-finished-jobs"`
	Queue           string    `yaml:"queue"`
	Image           string    `yaml:"image"`
	Database        *Database `yaml:"database"`
	PollingTime     *float64  `yaml:"polling-time"`
	PollingSchedule string    `yaml:"polling-schedule"`
	Launcher        string    `yaml:"launcher"`
}

type rawVariable struct {
	Type string   `yaml:"type"`
	Size *int     `yaml:"size"`
	Min  *float64 `yaml:"min"`
	Max  *float64 `yaml:"max"`
}

type rawTask struct {
	Type      string   `yaml:"type"`
	MainFile  string   `yaml:"main-file"`
	Language  string   `yaml:"language"`
	Resources []string `yaml:"resources"`
}

type rawResource struct {
	Scheduler       string `yaml:"scheduler"`
	MaxConcurrent   *int   `yaml:"max-concurrent"`
	MaxFinishedJobs *int   `yaml:"max-finished-jobs"`
	Queue           string `yaml:"queue"`
	Image           string `yaml:"image"`
}

// Load reads file (DefaultFile when empty) from exptDir, applies defaults
// and validates the result.
func Load(exptDir, file string) (*Config, error) {
	if file == "" {
		file = DefaultFile
	}
	dir, err := filepath.Abs(exptDir)
	if err != nil {
		return nil, model.NewConfigurationError("experiment-dir", "resolve %q: %v", exptDir, err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, model.NewConfigurationError("experiment-dir", "cannot find experiment directory %s", dir)
	}

	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, file)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &model.ConfigurationError{Key: "config", Message: "read " + path, Err: err}
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		// Tabs may indent JSON but not YAML; valid JSON has none inside strings.
		data = bytes.ReplaceAll(data, []byte("\t"), []byte(" "))
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ExperimentDir = dir
	cfg.File = filepath.Base(path)
	cfg.Database.Address = resolveDatabaseAddress(dir, cfg.Database.Address)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes an experiment document and applies defaults. It does not
// validate and leaves ExperimentDir and the default database address unset.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &model.ConfigurationError{Key: "config", Message: "did not load properly", Err: err}
	}

	cfg := &Config{
		ExperimentName:  raw.ExperimentName,
		Chooser:         raw.Chooser,
		Language:        raw.Language,
		MainFile:        raw.MainFile,
		PollingTime:     DefaultPollingTime,
		PollingSchedule: strings.TrimSpace(raw.PollingSchedule),
		Launcher:        raw.Launcher,
		Database:        Database{Name: DefaultDatabaseName},
	}
	if cfg.ExperimentName == "" {
		cfg.ExperimentName = DefaultExperimentName
	}
	if cfg.Chooser == "" {
		cfg.Chooser = DefaultChooser
	}
	if raw.PollingTime != nil {
		cfg.PollingTime = *raw.PollingTime
	}
	if raw.Database != nil {
		if raw.Database.Name != "" {
			cfg.Database.Name = raw.Database.Name
		}
		cfg.Database.Address = raw.Database.Address
	}

	var err error
	if cfg.Variables, err = parseVariables(&raw.Variables); err != nil {
		return nil, err
	}
	if cfg.Tasks, err = parseTasks(&raw.Tasks); err != nil {
		return nil, err
	}
	if cfg.Resources, err = parseResources(&raw); err != nil {
		return nil, err
	}
	cfg.assignTasks()
	return cfg, nil
}

// orderedPairs walks a mapping node in document order. An absent node
// yields nothing.
func orderedPairs(key string, n *yaml.Node, fn func(name string, value *yaml.Node) error) error {
	if n.Kind == 0 {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return model.NewConfigurationError(key, "must be a mapping")
	}
	seen := map[string]bool{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		name := n.Content[i].Value
		if seen[name] {
			return model.NewConfigurationError(key, "duplicate entry %q", name)
		}
		seen[name] = true
		if err := fn(name, n.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func parseVariables(n *yaml.Node) ([]Variable, error) {
	var out []Variable
	err := orderedPairs("variables", n, func(name string, value *yaml.Node) error {
		var rv rawVariable
		if err := value.Decode(&rv); err != nil {
			return &model.ConfigurationError{Key: "variables." + name, Message: "decode", Err: err}
		}
		v := Variable{Name: name, Type: strings.ToUpper(rv.Type), Size: defaultVariableSize}
		if v.Type == "" {
			v.Type = VariableTypeFloat
		}
		if rv.Size != nil {
			v.Size = *rv.Size
		}
		if rv.Min == nil || rv.Max == nil {
			return model.NewConfigurationError("variables."+name, "min and max are required")
		}
		v.Min, v.Max = *rv.Min, *rv.Max
		out = append(out, v)
		return nil
	})
	return out, err
}

func parseTasks(n *yaml.Node) ([]Task, error) {
	var out []Task
	err := orderedPairs("tasks", n, func(name string, value *yaml.Node) error {
		var rt rawTask
		if err := value.Decode(&rt); err != nil {
			return &model.ConfigurationError{Key: "tasks." + name, Message: "decode", Err: err}
		}
		t := Task{
			Name:      name,
			Type:      strings.ToUpper(rt.Type),
			MainFile:  rt.MainFile,
			Language:  rt.Language,
			Resources: rt.Resources,
		}
		if t.Type == "" {
			t.Type = DefaultTaskType
		}
		out = append(out, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		out = []Task{{Name: model.MainTask, Type: DefaultTaskType}}
	}
	return out, nil
}

// parseResources reads the resources mapping, or builds the single
// default resource from the top-level keys when there is none.
func parseResources(raw *rawConfig) ([]Resource, error) {
	defaults := Resource{
		Scheduler:     strings.ToLower(raw.Scheduler),
		MaxConcurrent: DefaultMaxConcurrent,
		Queue:         raw.Queue,
		Image:         raw.Image,
	}
	if defaults.Scheduler == "" {
		defaults.Scheduler = DefaultScheduler
	}
	if raw.MaxConcurrent != nil {
		defaults.MaxConcurrent = *raw.MaxConcurrent
	}
	if raw.MaxFinishedJobs != nil {
		defaults.MaxFinishedJobs = *raw.MaxFinishedJobs
	}

	var out []Resource
	err := orderedPairs("resources", &raw.Resources, func(name string, value *yaml.Node) error {
		var rr rawResource
		if err := value.Decode(&rr); err != nil {
			return &model.ConfigurationError{Key: "resources." + name, Message: "decode", Err: err}
		}
		r := defaults
		r.Name = name
		if rr.Scheduler != "" {
			r.Scheduler = strings.ToLower(rr.Scheduler)
		}
		if rr.MaxConcurrent != nil {
			r.MaxConcurrent = *rr.MaxConcurrent
		}
		if rr.MaxFinishedJobs != nil {
			r.MaxFinishedJobs = *rr.MaxFinishedJobs
		}
		if rr.Queue != "" {
			r.Queue = rr.Queue
		}
		if rr.Image != "" {
			r.Image = rr.Image
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		r := defaults
		r.Name = raw.ResourceName
		if r.Name == "" {
			r.Name = DefaultResourceName
		}
		out = []Resource{r}
	}
	return out, nil
}

// assignTasks gives each resource the tasks that name it, plus every task
// that names no resource at all.
func (c *Config) assignTasks() {
	for i := range c.Resources {
		r := &c.Resources[i]
		r.Tasks = nil
		for _, t := range c.Tasks {
			if len(t.Resources) == 0 || slices.Contains(t.Resources, r.Name) {
				r.Tasks = append(r.Tasks, t.Name)
			}
		}
	}
}

// Validate checks the configuration for errors that must stop the
// scheduler before anything is dispatched.
func (c *Config) Validate() error {
	var errs []error

	if c.ExperimentDir != "" {
		if info, err := os.Stat(c.ExperimentDir); err != nil || !info.IsDir() {
			errs = append(errs, model.NewConfigurationError("experiment-dir", "cannot find experiment directory %s", c.ExperimentDir))
		}
	}
	if len(c.Variables) == 0 {
		errs = append(errs, model.NewConfigurationError("variables", "at least one variable is required"))
	}
	for _, v := range c.Variables {
		key := "variables." + v.Name
		if v.Type != VariableTypeFloat && v.Type != VariableTypeInt {
			errs = append(errs, model.NewConfigurationError(key, "unknown type %q", v.Type))
		}
		if v.Size < 1 {
			errs = append(errs, model.NewConfigurationError(key, "size must be at least 1, got %d", v.Size))
		}
		if !(v.Min < v.Max) {
			errs = append(errs, model.NewConfigurationError(key, "min (%g) must be less than max (%g)", v.Min, v.Max))
		}
	}

	resourceNames := map[string]bool{}
	for _, r := range c.Resources {
		resourceNames[r.Name] = true
	}
	for _, t := range c.Tasks {
		if _, _, err := c.ResolveTask(t.Name); err != nil {
			errs = append(errs, err)
		}
		for _, name := range t.Resources {
			if !resourceNames[name] {
				errs = append(errs, model.NewConfigurationError("tasks."+t.Name, "unknown resource %q", name))
			}
		}
	}

	for _, r := range c.Resources {
		key := "resources." + r.Name
		if !slices.Contains(Schedulers, r.Scheduler) {
			errs = append(errs, model.NewConfigurationError(key, "unknown scheduler %q", r.Scheduler))
		}
		if r.Scheduler == schedulerDocker && r.Image == "" {
			errs = append(errs, model.NewConfigurationError(key, "docker resources need an image"))
		}
		if r.MaxConcurrent < 1 {
			errs = append(errs, model.NewConfigurationError(key, "max-concurrent must be at least 1"))
		}
		if r.MaxFinishedJobs < 0 {
			errs = append(errs, model.NewConfigurationError(key, "max-finished-jobs must not be negative"))
		}
		if len(r.Tasks) == 0 {
			errs = append(errs, model.NewConfigurationError(key, "no task is assigned to this resource"))
		}
	}

	if c.PollingSchedule == "" && c.PollingTime <= 0 {
		errs = append(errs, model.NewConfigurationError("polling-time", "must be positive"))
	}
	return errors.Join(errs...)
}

// Task returns the named task.
func (c *Config) Task(name string) (Task, bool) {
	for _, t := range c.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return Task{}, false
}

// TaskOptions returns the configured options for the named tasks, as
// handed to the chooser.
func (c *Config) TaskOptions(names []string) map[string]Task {
	out := make(map[string]Task, len(names))
	for _, name := range names {
		if t, ok := c.Task(name); ok {
			out[name] = t
		}
	}
	return out
}

// ResolveTask returns the main file and language a job for the task runs.
// The task's own settings win over the experiment-level defaults.
func (c *Config) ResolveTask(name string) (mainFile, language string, err error) {
	t, ok := c.Task(name)
	if !ok {
		return "", "", model.NewConfigurationError("tasks", "unknown task %q", name)
	}
	mainFile = t.MainFile
	if mainFile == "" {
		mainFile = c.MainFile
	}
	if mainFile == "" {
		return "", "", model.NewConfigurationError("main-file", "main-file not specified for task %s", name)
	}
	language = t.Language
	if language == "" {
		language = c.Language
	}
	if language == "" {
		return "", "", model.NewConfigurationError("language", "language not specified for task %s", name)
	}
	return mainFile, model.NormalizeLanguage(language), nil
}

// Resource returns the named resource.
func (c *Config) Resource(name string) (Resource, bool) {
	for _, r := range c.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}

// PollingInterval is the sleep between sweeps when no resource is accepting.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingTime * float64(time.Second))
}

// IsLocal reports whether the resource runs jobs as local child processes.
func (r Resource) IsLocal() bool {
	return r.Scheduler == schedulerLocal
}

// IsDocker reports whether the resource runs jobs in containers.
func (r Resource) IsDocker() bool {
	return r.Scheduler == schedulerDocker
}

// String renders a short description used in startup logs.
func (r Resource) String() string {
	limit := "unbounded"
	if r.MaxFinishedJobs > 0 {
		limit = fmt.Sprint(r.MaxFinishedJobs)
	}
	return fmt.Sprintf("%s(%s, max-concurrent=%d, max-finished-jobs=%s)", r.Name, r.Scheduler, r.MaxConcurrent, limit)
}

// resolveDatabaseAddress anchors relative SQLite paths at the experiment
// directory, where every backend starts the launcher. Mongo URIs and
// in-memory databases pass through.
func resolveDatabaseAddress(dir, addr string) string {
	if addr == "" {
		return filepath.Join(dir, DefaultDatabaseFile)
	}
	if strings.HasPrefix(addr, "mongodb://") || strings.HasPrefix(addr, "mongodb+srv://") {
		return addr
	}
	path := strings.TrimPrefix(addr, "sqlite://")
	if path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
