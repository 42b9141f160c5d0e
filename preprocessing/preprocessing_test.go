package preprocessing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})

	s := NewStandardScaler(true, true)
	require.NoError(t, s.Fit(X, nil))

	out, err := s.Transform(X)
	require.NoError(t, err)

	// First column standardized, zero-variance second column centered
	// but left unscaled.
	assert.InDelta(t, 2.5, s.Mean[0], 1e-12)
	assert.Equal(t, 1.0, s.Scale[1], "zero std falls back to scale 1")

	var sum, sumSq float64
	for i := 0; i < 4; i++ {
		v := out.At(i, 0)
		sum += v
		sumSq += v * v
	}
	assert.InDelta(t, 0, sum, 1e-12)
	assert.InDelta(t, 4, sumSq, 1e-9, "unit population variance")
	assert.InDelta(t, 0, out.At(0, 1), 1e-12)
}

func TestStandardScalerErrors(t *testing.T) {
	s := NewStandardScaler(true, true)

	_, err := s.Transform(mat.NewDense(1, 2, nil))
	assert.Error(t, err, "transform before fit")

	require.NoError(t, s.Fit(mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6}), nil))
	_, err = s.Transform(mat.NewDense(1, 3, nil))
	assert.Error(t, err, "feature count mismatch")
}

func TestImputerMean(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{
		1, 4,
		math.NaN(), 6,
		3, math.NaN(),
	})

	im := NewImputer("mean", 0)
	require.NoError(t, im.Fit(X, nil))

	out, err := im.Transform(X)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, out.At(1, 0), 1e-12, "mean of observed column values")
	assert.InDelta(t, 5.0, out.At(2, 1), 1e-12)
	assert.Equal(t, 1.0, out.At(0, 0), "observed entries pass through")
}

func TestImputerKNN(t *testing.T) {
	// Row 3 is closest to rows 0 and 1 in the shared features.
	X := mat.NewDense(4, 2, []float64{
		1.0, 10,
		1.2, 12,
		9.0, 90,
		1.1, math.NaN(),
	})

	im := NewImputer("knn", 2)
	require.NoError(t, im.Fit(X, nil))

	out, err := im.Transform(X)
	require.NoError(t, err)
	assert.InDelta(t, 11.0, out.At(3, 1), 1e-9, "average over the two nearest neighbors")
}

func TestImputerKNNManyRows(t *testing.T) {
	// Enough rows that the imputation loop spans several worker ranges;
	// every imputed entry must still match a serial per-row computation.
	const n = 64
	X := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64(i)*2)
		if i%5 == 0 {
			X.Set(i, 2, math.NaN())
		} else {
			X.Set(i, 2, float64(i)*3)
		}
	}

	im := NewImputer("knn", 3)
	require.NoError(t, im.Fit(X, nil))

	out, err := im.Transform(X)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		if i%5 != 0 {
			assert.Equal(t, float64(i)*3, out.At(i, 2), "observed entries pass through")
			continue
		}
		want := im.knnValue(X.RawRowView(i), 2)
		assert.InDelta(t, want, out.At(i, 2), 1e-12, "row %d", i)
	}
}

func TestImputerUnknownStrategy(t *testing.T) {
	im := NewImputer("median", 0)
	assert.Error(t, im.Fit(mat.NewDense(2, 1, []float64{1, 2}), nil))
}

func TestGroupSelector(t *testing.T) {
	X := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	labels := []string{"shape_area", "texture_mean", "shape_perimeter"}

	g := NewGroupSelector([]string{"shape"}, labels)
	require.NoError(t, g.Fit(X, nil))
	assert.Equal(t, []int{0, 2}, g.Support())

	out, err := g.Transform(X)
	require.NoError(t, err)
	_, c := out.Dims()
	assert.Equal(t, 2, c)
	assert.Equal(t, 3.0, out.At(0, 1))

	assert.Equal(t, []string{"shape_area", "shape_perimeter"}, SelectLabels(labels, g.Support()))

	g2 := NewGroupSelector([]string{"intensity"}, labels)
	assert.Error(t, g2.Fit(X, nil), "no matching feature")
}

func TestVarianceSelector(t *testing.T) {
	X := mat.NewDense(4, 3, []float64{
		1, 5, 0.1,
		2, 5, 0.1,
		3, 5, 0.1,
		4, 5, 0.1,
	})

	v := NewVarianceSelector(0.0)
	require.NoError(t, v.Fit(X, nil))
	assert.Equal(t, []int{0}, v.Support(), "constant columns are dropped")

	v2 := NewVarianceSelector(100.0)
	assert.Error(t, v2.Fit(X, nil), "threshold removing every feature")
}

func TestModelSelector(t *testing.T) {
	// Column 0 tracks y exactly; column 1 is noise around a constant.
	X := mat.NewDense(6, 2, []float64{
		0, 3.1,
		0, 2.9,
		0, 3.0,
		1, 3.2,
		1, 2.8,
		1, 3.0,
	})
	y := []float64{0, 0, 0, 1, 1, 1}

	m := NewModelSelector()
	require.NoError(t, m.Fit(X, y))
	assert.Contains(t, m.Support(), 0)
	assert.NotContains(t, m.Support(), 1)
}

func TestStatisticalSelector(t *testing.T) {
	// Column 0 separates the classes; column 1 does not.
	X := mat.NewDense(10, 2, []float64{
		0.1, 5.0,
		0.2, 4.9,
		0.0, 5.1,
		0.3, 5.2,
		0.1, 4.8,
		9.1, 5.1,
		9.2, 4.9,
		9.0, 5.0,
		9.3, 5.2,
		9.1, 4.8,
	})
	y := []float64{0, 0, 0, 0, 0, 1, 1, 1, 1, 1}

	for _, test := range []string{"ttest", "mannwhitneyu"} {
		t.Run(test, func(t *testing.T) {
			s := NewStatisticalSelector(test, 0.05)
			require.NoError(t, s.Fit(X, y))
			assert.Equal(t, []int{0}, s.Support())
		})
	}

	t.Run("unknown test", func(t *testing.T) {
		s := NewStatisticalSelector("anova", 0.05)
		assert.Error(t, s.Fit(X, y))
	})
}

func TestPCA(t *testing.T) {
	// Rank-1 data along (1, 1) plus tiny noise on the second axis.
	X := mat.NewDense(6, 2, []float64{
		1, 1.01,
		2, 2.00,
		3, 2.99,
		4, 4.01,
		5, 5.00,
		6, 5.99,
	})

	t.Run("explicit component count", func(t *testing.T) {
		p := NewPCA(1)
		require.NoError(t, p.Fit(X, nil))
		assert.Equal(t, 1, p.NKept())

		out, err := p.Transform(X)
		require.NoError(t, err)
		r, c := out.Dims()
		assert.Equal(t, 6, r)
		assert.Equal(t, 1, c)
	})

	t.Run("variance target keeps the dominant component", func(t *testing.T) {
		p := NewPCA(0)
		require.NoError(t, p.Fit(X, nil))
		assert.Equal(t, 1, p.NKept(), "first component explains over 95% of the variance")
	})

	t.Run("transform is centered", func(t *testing.T) {
		p := NewPCA(1)
		require.NoError(t, p.Fit(X, nil))
		out, err := p.Transform(X)
		require.NoError(t, err)

		var sum float64
		for i := 0; i < 6; i++ {
			sum += out.At(i, 0)
		}
		assert.InDelta(t, 0, sum, 1e-9)
	})
}
