package objective

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"

	"github.com/me/gomint/pkg/model"
)

// Result is what an objective produced for one job: the primary
// observation and, for decoupled sampling, extra observations made along
// the way.
type Result struct {
	// Values maps task name to the primary observation.
	Values map[string]float64
	Extras []Extra
}

// Extra is one additional observation at a nearby point. Overrides replace
// the first value of the named parameters of the originating job. Err is
// set when this entry could not be normalized; it does not affect the
// primary observation or the other extras.
type Extra struct {
	Overrides map[string]float64
	Values    map[string]float64
	Err       error
}

// Primary returns a Result with a single observation for the main task.
func Primary(v float64) Result {
	return Result{Values: map[string]float64{model.MainTask: v}}
}

// PrimaryWithExtras returns a Result with a main-task observation and the
// given extras.
func PrimaryWithExtras(v float64, extras ...Extra) Result {
	r := Primary(v)
	r.Extras = extras
	return r
}

// NewExtra builds a main-task extra observation.
func NewExtra(overrides map[string]float64, v float64) Extra {
	return Extra{Overrides: maps.Clone(overrides), Values: map[string]float64{model.MainTask: v}}
}

// ErrMalformedResult is wrapped by every Normalize failure.
var ErrMalformedResult = errors.New("malformed objective result")

// Normalize interprets a dynamically typed objective return value:
//   - a number is the main-task observation;
//   - a map of task name to number gives one observation per task;
//   - a list holds [overrides, value] pairs, the first being the primary
//     observation and the rest extras.
//
// Failures in the primary shape are returned as errors; failures in an
// extra are recorded on that Extra.
func Normalize(raw any) (Result, error) {
	list, ok := raw.([]any)
	if !ok {
		values, err := normalizeValue(raw)
		if err != nil {
			return Result{}, err
		}
		return Result{Values: values}, nil
	}

	if len(list) == 0 {
		return Result{}, fmt.Errorf("%w: empty list", ErrMalformedResult)
	}
	_, values, err := normalizePair(list[0])
	if err != nil {
		return Result{}, fmt.Errorf("primary: %w", err)
	}
	res := Result{Values: values}
	for i, item := range list[1:] {
		overrides, values, err := normalizePair(item)
		if err != nil {
			res.Extras = append(res.Extras, Extra{Err: fmt.Errorf("extra %d: %w", i+1, err)})
			continue
		}
		res.Extras = append(res.Extras, Extra{Overrides: overrides, Values: values})
	}
	return res, nil
}

// normalizePair reads [overrides, value]. Anything between the two is ignored.
func normalizePair(item any) (map[string]float64, map[string]float64, error) {
	pair, ok := item.([]any)
	if !ok || len(pair) < 2 {
		return nil, nil, fmt.Errorf("%w: want [overrides, value], got %v", ErrMalformedResult, item)
	}
	rawOverrides, ok := asMap(pair[0])
	if !ok {
		return nil, nil, fmt.Errorf("%w: overrides must be an object, got %T", ErrMalformedResult, pair[0])
	}
	overrides := make(map[string]float64, len(rawOverrides))
	for name, v := range rawOverrides {
		f, ok := firstNumber(v)
		if !ok {
			return nil, nil, fmt.Errorf("%w: override %q is not a number: %v", ErrMalformedResult, name, v)
		}
		overrides[name] = f
	}
	values, err := normalizeValue(pair[len(pair)-1])
	if err != nil {
		return nil, nil, err
	}
	return overrides, values, nil
}

func normalizeValue(raw any) (map[string]float64, error) {
	if f, ok := toFloat(raw); ok {
		if !finite(f) {
			return nil, fmt.Errorf("%w: non-finite value %v", ErrMalformedResult, f)
		}
		return map[string]float64{model.MainTask: f}, nil
	}
	m, ok := asMap(raw)
	if !ok || len(m) == 0 {
		return nil, fmt.Errorf("%w: want a number or task map, got %T", ErrMalformedResult, raw)
	}
	out := make(map[string]float64, len(m))
	for task, v := range m {
		f, ok := toFloat(v)
		if !ok || !finite(f) {
			return nil, fmt.Errorf("%w: task %q value %v is not a finite number", ErrMalformedResult, task, v)
		}
		out[task] = f
	}
	return out, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]float64:
		out := make(map[string]any, len(m))
		for k, f := range m {
			out[k] = f
		}
		return out, true
	}
	return nil, false
}

// firstNumber accepts a number or a non-empty list whose first element is one.
func firstNumber(v any) (float64, bool) {
	if l, ok := v.([]any); ok {
		if len(l) == 0 {
			return 0, false
		}
		v = l[0]
	}
	if l, ok := v.([]float64); ok {
		if len(l) == 0 {
			return 0, false
		}
		v = l[0]
	}
	f, ok := toFloat(v)
	return f, ok && finite(f)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
