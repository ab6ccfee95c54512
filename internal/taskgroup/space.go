package taskgroup

import (
	"fmt"
	"math"
	"strings"

	"github.com/me/gomint/internal/config"
	"github.com/me/gomint/pkg/model"
)

// Space maps between named job parameters and points of the unit
// hypercube the choosers work in. Dimensions follow variable order, each
// variable contributing Size consecutive slots.
type Space struct {
	vars []config.Variable
	dims int
}

// NewSpace builds a space from the configured variables.
func NewSpace(vars []config.Variable) (*Space, error) {
	if len(vars) == 0 {
		return nil, fmt.Errorf("space: no variables")
	}
	s := &Space{vars: vars}
	for _, v := range vars {
		if v.Size < 1 || !(v.Min < v.Max) {
			return nil, fmt.Errorf("space: invalid variable %q", v.Name)
		}
		s.dims += v.Size
	}
	return s, nil
}

// Dims is the length of every vector in the space.
func (s *Space) Dims() int { return s.dims }

// Variables returns the variables in vector order.
func (s *Space) Variables() []config.Variable { return s.vars }

// Paramify maps a unit-hypercube vector to job parameters. Coordinates
// outside [0,1] are clamped; INT variables are rounded.
func (s *Space) Paramify(vector []float64) (map[string]model.Param, error) {
	if len(vector) != s.dims {
		return nil, fmt.Errorf("paramify: vector has %d dimensions, space has %d", len(vector), s.dims)
	}
	params := make(map[string]model.Param, len(s.vars))
	i := 0
	for _, v := range s.vars {
		values := make([]float64, v.Size)
		for k := range values {
			u := clamp01(vector[i])
			x := v.Min + u*(v.Max-v.Min)
			if v.Type == config.VariableTypeInt {
				x = math.Round(x)
			}
			values[k] = x
			i++
		}
		params[v.Name] = model.Param{Type: strings.ToLower(v.Type), Values: values}
	}
	return params, nil
}

// Vectorify is the inverse of Paramify.
func (s *Space) Vectorify(params map[string]model.Param) ([]float64, error) {
	out := make([]float64, 0, s.dims)
	for _, v := range s.vars {
		p, ok := params[v.Name]
		if !ok {
			return nil, fmt.Errorf("vectorify: missing parameter %q", v.Name)
		}
		if len(p.Values) != v.Size {
			return nil, fmt.Errorf("vectorify: parameter %q has %d values, want %d", v.Name, len(p.Values), v.Size)
		}
		for _, x := range p.Values {
			out = append(out, (x-v.Min)/(v.Max-v.Min))
		}
	}
	return out, nil
}

func clamp01(u float64) float64 {
	switch {
	case math.IsNaN(u), u < 0:
		return 0
	case u > 1:
		return 1
	}
	return u
}
