package preprocessing

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/scisearch/scisearch/core/model"
	"github.com/scisearch/scisearch/pkg/errors"
)

// PCA projects features onto their leading principal components.
// NComponents == 0 keeps enough components to explain 95% of the variance.
type PCA struct {
	model.BaseEstimator

	NComponents int

	Mean       []float64
	Components *mat.Dense // (n_features x n_kept)
}

// NewPCA creates a PCA artifact.
func NewPCA(nComponents int) *PCA {
	return &PCA{NComponents: nComponents}
}

// Fit computes the principal components of X. y is ignored.
func (p *PCA) Fit(X mat.Matrix, _ []float64) error {
	r, c := X.Dims()
	if r < 2 || c == 0 {
		return errors.NewValueError("PCA.Fit", "need at least two samples")
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(X, nil); !ok {
		return errors.NewValueError("PCA.Fit", "principal component decomposition failed")
	}

	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	keep := p.NComponents
	if keep <= 0 {
		var total float64
		for _, v := range vars {
			total += v
		}
		var cum float64
		for i, v := range vars {
			cum += v
			if cum/total >= 0.95 {
				keep = i + 1
				break
			}
		}
		if keep == 0 {
			keep = len(vars)
		}
	}
	if keep > len(vars) {
		keep = len(vars)
	}

	p.Components = mat.DenseCopyOf(vecs.Slice(0, c, 0, keep))

	p.Mean = make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		p.Mean[j] = stat.Mean(col, nil)
	}

	p.SetFitted()
	return nil
}

// Transform centers X with the training means and projects it onto the kept
// components.
func (p *PCA) Transform(X mat.Matrix) (*mat.Dense, error) {
	if !p.IsFitted() {
		return nil, errors.NewNotFittedError("PCA", "Transform")
	}
	r, c := X.Dims()
	if c != len(p.Mean) {
		return nil, errors.NewDimensionError("PCA.Transform", len(p.Mean), c, 1)
	}

	centered := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			centered.Set(i, j, X.At(i, j)-p.Mean[j])
		}
	}

	_, k := p.Components.Dims()
	out := mat.NewDense(r, k, nil)
	out.Mul(centered, p.Components)
	return out, nil
}

// NKept returns the number of retained components.
func (p *PCA) NKept() int {
	if p.Components == nil {
		return 0
	}
	_, k := p.Components.Dims()
	return k
}
