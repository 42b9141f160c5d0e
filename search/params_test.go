package search

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scierrors "github.com/scisearch/scisearch/pkg/errors"
)

func TestParameterGridEnumerate(t *testing.T) {
	grid := ParameterGrid{
		"a": {1, 2, 3},
		"b": {"x", "y"},
		"c": {true, false},
	}

	combos, err := grid.Enumerate()
	require.NoError(t, err)
	assert.Len(t, combos, 12, "product of value counts")
	assert.Equal(t, 12, grid.Size())

	// Every combination is unique.
	seen := make(map[string]bool, len(combos))
	for _, ps := range combos {
		key := fmt.Sprintf("%v|%v|%v", ps["a"], ps["b"], ps["c"])
		assert.False(t, seen[key], "duplicate combination %s", key)
		seen[key] = true
	}
}

func TestParameterGridValidate(t *testing.T) {
	tests := []struct {
		name string
		grid ParameterGrid
	}{
		{name: "empty grid", grid: ParameterGrid{}},
		{name: "parameter without values", grid: ParameterGrid{"a": {}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.grid.Validate())
		})
	}
}

func TestParameterDistributionsSampleDeterminism(t *testing.T) {
	dists := ParameterDistributions{
		"lr":    LogUniform{Lo: 1e-4, Hi: 1},
		"depth": IntUniform{Lo: 2, Hi: 10},
		"kind":  []interface{}{"gini", "entropy"},
	}

	first, err := dists.Sample(20, 7)
	require.NoError(t, err)
	second, err := dists.Sample(20, 7)
	require.NoError(t, err)

	require.Len(t, first, 20)
	for i := range first {
		assert.Equal(t, first[i], second[i], "sample %d differs between seeded runs", i)
	}

	other, err := dists.Sample(20, 8)
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "different seeds should diverge")
}

func TestParameterDistributionsFiniteWithoutReplacement(t *testing.T) {
	dists := ParameterDistributions{
		"a": []interface{}{1, 2, 3},
		"b": []interface{}{"x", "y"},
	}

	samples, err := dists.Sample(4, 3)
	require.NoError(t, err)
	require.Len(t, samples, 4)

	seen := make(map[string]bool)
	for _, ps := range samples {
		key := fmt.Sprintf("%v|%v", ps["a"], ps["b"])
		assert.False(t, seen[key], "finite sampling must not repeat combinations")
		seen[key] = true
	}
}

func TestParameterDistributionsCapWarning(t *testing.T) {
	var warned []error
	scierrors.SetWarningHandler(func(w error) { warned = append(warned, w) })
	defer scierrors.SetWarningHandler(nil)

	dists := ParameterDistributions{"a": []interface{}{1, 2}}
	samples, err := dists.Sample(10, 1)
	require.NoError(t, err)
	assert.Len(t, samples, 2, "capped at the grid size")
	assert.NotEmpty(t, warned)
}

func TestParamSetFilter(t *testing.T) {
	full := ParamSet{"alpha": 0.1, "scaling": true, "pca": false}
	est := full.Filter([]string{"alpha"})

	require.Len(t, est, 1)
	assert.Equal(t, 0.1, est["alpha"])

	// The estimator view is a sub-mapping of the full view.
	for k, v := range est {
		assert.Equal(t, full[k], v)
	}
}
