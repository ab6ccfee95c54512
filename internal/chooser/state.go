package chooser

import (
	"math/rand/v2"
	"time"

	"github.com/me/gomint/pkg/model"
)

// Hypers State keys shared by the built-in engines.
const (
	stateSeed  = "seed"
	stateDraws = "draws"
)

// stateFloat reads a number from a decoded State map. Store round trips
// turn every number into float64, but freshly built maps may hold ints.
func stateFloat(h *model.Hypers, key string) (float64, bool) {
	if h == nil || h.State == nil {
		return 0, false
	}
	switch v := h.State[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// stream is a reproducible random source: the seed is persisted once and
// the draw count advances the PCG stream, so a restarted scheduler does
// not replay earlier suggestions.
type stream struct {
	seed  uint64
	draws uint64
	rng   *rand.Rand
}

func restoreStream(h *model.Hypers) *stream {
	s := &stream{}
	if seed, ok := stateFloat(h, stateSeed); ok {
		s.seed = uint64(seed)
	} else {
		s.seed = uint64(time.Now().UnixNano()) & (1<<53 - 1)
	}
	if draws, ok := stateFloat(h, stateDraws); ok {
		s.draws = uint64(draws)
	}
	s.rng = rand.New(rand.NewPCG(s.seed, s.draws))
	return s
}

func (s *stream) uniform(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = s.rng.Float64()
	}
	s.draws++
	return out
}

func (s *stream) normal() float64 {
	return s.rng.NormFloat64()
}

// save records the stream position in state.
func (s *stream) save(state map[string]any) {
	state[stateSeed] = float64(s.seed)
	state[stateDraws] = float64(s.draws + 1)
}
