package objective

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dop251/goja"
)

// JavaScript runs a main(job_id, params) function defined in a script,
// in process.
type JavaScript struct {
	path   string
	logger *slog.Logger
}

func newJavaScript(_, mainFile string, logger *slog.Logger) (Objective, error) {
	if _, err := os.Stat(mainFile); err != nil {
		return nil, fmt.Errorf("javascript objective: %w", err)
	}
	return &JavaScript{path: mainFile, logger: logger}, nil
}

// Evaluate loads the script into a fresh runtime and calls main. The
// runtime is interrupted when ctx is done.
func (o *JavaScript) Evaluate(ctx context.Context, jobID int, params map[string][]float64) (Result, error) {
	src, err := os.ReadFile(o.path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", o.path, err)
	}

	vm := goja.New()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	console := vm.NewObject()
	if err := console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a.Export()
		}
		o.logger.Info("console.log", "job_id", jobID, "args", args)
		return goja.Undefined()
	}); err != nil {
		return Result{}, fmt.Errorf("set console: %w", err)
	}
	if err := vm.Set("console", console); err != nil {
		return Result{}, fmt.Errorf("set console: %w", err)
	}

	if _, err := vm.RunScript(o.path, string(src)); err != nil {
		return Result{}, fmt.Errorf("load %s: %w", o.path, err)
	}
	main, ok := goja.AssertFunction(vm.Get("main"))
	if !ok {
		return Result{}, errors.New(o.path + " does not define a main function")
	}

	jsParams := make(map[string]any, len(params))
	for name, values := range params {
		arr := make([]any, len(values))
		for i, v := range values {
			arr[i] = v
		}
		jsParams[name] = arr
	}

	val, err := main(goja.Undefined(), vm.ToValue(jobID), vm.ToValue(jsParams))
	if err != nil {
		return Result{}, fmt.Errorf("JavaScript error: %w", err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return Result{}, fmt.Errorf("%w: main returned nothing", ErrMalformedResult)
	}
	return Normalize(val.Export())
}
