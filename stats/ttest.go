// Package stats provides the two-sample hypothesis tests used by the
// statistical-test feature selector: Welch's t-test and the Mann-Whitney U
// test (normal approximation).
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/scisearch/scisearch/pkg/errors"
)

// WelchTTest returns the two-sided p-value of Welch's unequal-variance
// t-test between samples a and b.
func WelchTTest(a, b []float64) (float64, error) {
	if len(a) < 2 || len(b) < 2 {
		return 0, errors.NewValueError("WelchTTest", "each sample needs at least two observations")
	}

	meanA, varA := stat.MeanVariance(a, nil)
	meanB, varB := stat.MeanVariance(b, nil)
	na, nb := float64(len(a)), float64(len(b))

	se := varA/na + varB/nb
	if se == 0 {
		// Identical constant samples carry no evidence either way.
		return 1, nil
	}
	t := (meanA - meanB) / math.Sqrt(se)

	// Welch-Satterthwaite degrees of freedom.
	df := se * se / ((varA*varA)/(na*na*(na-1)) + (varB*varB)/(nb*nb*(nb-1)))

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * dist.CDF(-math.Abs(t))
	return p, nil
}

// MannWhitneyU returns the two-sided p-value of the Mann-Whitney U test
// using the normal approximation with tie correction.
func MannWhitneyU(a, b []float64) (float64, error) {
	na, nb := len(a), len(b)
	if na == 0 || nb == 0 {
		return 0, errors.NewValueError("MannWhitneyU", "empty sample")
	}

	type obs struct {
		v     float64
		fromA bool
	}
	all := make([]obs, 0, na+nb)
	for _, v := range a {
		all = append(all, obs{v, true})
	}
	for _, v := range b {
		all = append(all, obs{v, false})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].v < all[j].v })

	// Midranks with tie groups.
	ranks := make([]float64, len(all))
	tieCorrection := 0.0
	for i := 0; i < len(all); {
		j := i
		for j < len(all) && all[j].v == all[i].v {
			j++
		}
		mid := float64(i+j+1) / 2 // average of 1-based ranks i+1..j
		for k := i; k < j; k++ {
			ranks[k] = mid
		}
		t := float64(j - i)
		tieCorrection += t*t*t - t
		i = j
	}

	var rankSumA float64
	for i, o := range all {
		if o.fromA {
			rankSumA += ranks[i]
		}
	}

	fa, fb := float64(na), float64(nb)
	u := rankSumA - fa*(fa+1)/2
	mu := fa * fb / 2
	n := fa + fb
	sigma2 := fa * fb / 12 * ((n + 1) - tieCorrection/(n*(n-1)))
	if sigma2 <= 0 {
		return 1, nil
	}

	// Continuity correction.
	z := (math.Abs(u-mu) - 0.5) / math.Sqrt(sigma2)
	if z < 0 {
		z = 0
	}
	norm := distuv.Normal{Mu: 0, Sigma: 1}
	p := 2 * norm.CDF(-z)
	if p > 1 {
		p = 1
	}
	return p, nil
}
