// Package search implements cross-validated model selection: candidate
// generation over hyperparameter/preprocessing configurations, dispatch of
// fit-evaluate tasks across interchangeable execution backends, reduction of
// per-split results into a ranked bounded result table, refitting of the
// winning configuration and ensemble construction.
package search

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/scisearch/scisearch/pkg/errors"
)

// ParamSet maps parameter names to values. A candidate configuration is one
// ParamSet covering both estimator hyperparameters and preprocessing
// settings; the estimator-only view is derived by filtering against the
// stage's declared parameter names.
type ParamSet map[string]interface{}

// Clone returns a shallow copy.
func (p ParamSet) Clone() ParamSet {
	out := make(ParamSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Filter returns the sub-mapping restricted to the given names.
func (p ParamSet) Filter(names []string) ParamSet {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	out := make(ParamSet)
	for k, v := range p {
		if allowed[k] {
			out[k] = v
		}
	}
	return out
}

// ParameterGrid specifies an exhaustive search space: every parameter maps
// to the finite list of values to try.
type ParameterGrid map[string][]interface{}

// Validate fails fast on malformed grids, before any execution starts.
func (g ParameterGrid) Validate() error {
	if len(g) == 0 {
		return errors.NewValidationError("param_grid", "grid is empty", nil)
	}
	for name, values := range g {
		if len(values) == 0 {
			return errors.NewValidationError("param_grid", "parameter has no values", name)
		}
	}
	return nil
}

// Enumerate produces the deterministic Cartesian-product enumeration of all
// combinations. Parameter names are iterated in sorted order so the output
// order is stable; the last name varies fastest.
func (g ParameterGrid) Enumerate() ([]ParamSet, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 1
	for _, name := range names {
		total *= len(g[name])
	}

	out := make([]ParamSet, 0, total)
	idx := make([]int, len(names))
	for {
		ps := make(ParamSet, len(names))
		for i, name := range names {
			ps[name] = g[name][idx[i]]
		}
		out = append(out, ps)

		// Odometer increment, last name fastest.
		i := len(names) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(g[names[i]]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			break
		}
	}
	return out, nil
}

// Size returns the number of combinations the grid spans.
func (g ParameterGrid) Size() int {
	total := 1
	for _, values := range g {
		total *= len(values)
	}
	return total
}

// Distribution is a continuous parameter distribution for randomized search.
type Distribution interface {
	Sample(r *rand.Rand) interface{}
}

// Uniform samples uniformly from [Lo, Hi).
type Uniform struct {
	Lo, Hi float64
}

// Sample implements Distribution.
func (u Uniform) Sample(r *rand.Rand) interface{} {
	return u.Lo + r.Float64()*(u.Hi-u.Lo)
}

// LogUniform samples log-uniformly from [Lo, Hi). Both bounds must be
// positive.
type LogUniform struct {
	Lo, Hi float64
}

// Sample implements Distribution.
func (u LogUniform) Sample(r *rand.Rand) interface{} {
	lo, hi := math.Log(u.Lo), math.Log(u.Hi)
	return math.Exp(lo + r.Float64()*(hi-lo))
}

// IntUniform samples integers uniformly from [Lo, Hi].
type IntUniform struct {
	Lo, Hi int
}

// Sample implements Distribution.
func (u IntUniform) Sample(r *rand.Rand) interface{} {
	return u.Lo + r.IntN(u.Hi-u.Lo+1)
}

// ParameterDistributions specifies a randomized search space: each parameter
// maps to either a finite []interface{} list (sampled uniformly) or a
// Distribution.
type ParameterDistributions map[string]interface{}

// Validate fails fast on malformed specifications.
func (d ParameterDistributions) Validate() error {
	if len(d) == 0 {
		return errors.NewValidationError("param_distributions", "specification is empty", nil)
	}
	for name, v := range d {
		switch vv := v.(type) {
		case []interface{}:
			if len(vv) == 0 {
				return errors.NewValidationError("param_distributions", "parameter has no values", name)
			}
		case Distribution:
		default:
			return errors.NewValidationError("param_distributions",
				"parameter must be a []interface{} list or a Distribution",
				fmt.Sprintf("%s (%T)", name, v))
		}
	}
	return nil
}

// allFinite reports whether every parameter is a finite list.
func (d ParameterDistributions) allFinite() bool {
	for _, v := range d {
		if _, ok := v.([]interface{}); !ok {
			return false
		}
	}
	return true
}

// asGrid converts an all-finite specification to a ParameterGrid.
func (d ParameterDistributions) asGrid() ParameterGrid {
	g := make(ParameterGrid, len(d))
	for name, v := range d {
		g[name] = v.([]interface{})
	}
	return g
}

// Sample produces nIter candidate configurations. When every parameter is a
// finite list, it samples combinations without replacement from the full
// grid (capped at the grid size); when any parameter is a continuous
// distribution, each configuration is drawn independently, with
// replacement. Output order is stable for a fixed seed.
func (d ParameterDistributions) Sample(nIter int, seed uint64) ([]ParamSet, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if nIter <= 0 {
		return nil, errors.NewValidationError("n_iter", "must be positive", nIter)
	}

	r := rand.New(rand.NewPCG(seed, seed))

	if d.allFinite() {
		combos, err := d.asGrid().Enumerate()
		if err != nil {
			return nil, err
		}
		if nIter >= len(combos) {
			if nIter > len(combos) {
				errors.Warn(errors.Newf("n_iter=%d exceeds the %d possible combinations, evaluating all of them", nIter, len(combos)))
			}
			return combos, nil
		}
		perm := r.Perm(len(combos))
		out := make([]ParamSet, nIter)
		for i := 0; i < nIter; i++ {
			out[i] = combos[perm[i]]
		}
		return out, nil
	}

	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ParamSet, nIter)
	for i := 0; i < nIter; i++ {
		ps := make(ParamSet, len(names))
		for _, name := range names {
			switch vv := d[name].(type) {
			case []interface{}:
				ps[name] = vv[r.IntN(len(vv))]
			case Distribution:
				ps[name] = vv.Sample(r)
			}
		}
		out[i] = ps
	}
	return out, nil
}
