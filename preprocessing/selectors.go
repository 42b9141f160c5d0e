package preprocessing

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/scisearch/scisearch/core/model"
	"github.com/scisearch/scisearch/pkg/errors"
	scistats "github.com/scisearch/scisearch/stats"
)

// ColumnSelector is implemented by all selection artifacts so the chain can
// track which feature labels survive preprocessing.
type ColumnSelector interface {
	Support() []int
}

func selectColumns(X mat.Matrix, support []int) *mat.Dense {
	r, _ := X.Dims()
	out := mat.NewDense(r, len(support), nil)
	for i := 0; i < r; i++ {
		for k, j := range support {
			out.Set(i, k, X.At(i, j))
		}
	}
	return out
}

// SelectLabels returns the labels surviving a selection.
func SelectLabels(labels []string, support []int) []string {
	out := make([]string, 0, len(support))
	for _, j := range support {
		if j < len(labels) {
			out = append(out, labels[j])
		}
	}
	return out
}

// GroupSelector keeps the features whose label carries one of the requested
// group prefixes. Feature labels follow the "group_name" convention, e.g.
// "texture_entropy" belongs to group "texture".
type GroupSelector struct {
	model.BaseEstimator

	Groups  []string
	Labels  []string
	Columns []int
}

// NewGroupSelector creates a GroupSelector keeping the given groups.
func NewGroupSelector(groups, labels []string) *GroupSelector {
	return &GroupSelector{Groups: groups, Labels: labels}
}

// Fit resolves the group prefixes against the feature labels.
func (g *GroupSelector) Fit(X mat.Matrix, _ []float64) error {
	_, c := X.Dims()
	if len(g.Labels) != c {
		return errors.NewDimensionError("GroupSelector.Fit", len(g.Labels), c, 1)
	}
	g.Columns = g.Columns[:0]
	for j, label := range g.Labels {
		for _, grp := range g.Groups {
			if strings.HasPrefix(label, grp) {
				g.Columns = append(g.Columns, j)
				break
			}
		}
	}
	if len(g.Columns) == 0 {
		return errors.NewValueError("GroupSelector.Fit", "no feature matches the selected groups")
	}
	g.SetFitted()
	return nil
}

// Transform keeps only the selected columns.
func (g *GroupSelector) Transform(X mat.Matrix) (*mat.Dense, error) {
	if !g.IsFitted() {
		return nil, errors.NewNotFittedError("GroupSelector", "Transform")
	}
	return selectColumns(X, g.Columns), nil
}

// Support returns the retained column indices.
func (g *GroupSelector) Support() []int { return g.Columns }

// VarianceSelector drops features whose variance is at or below Threshold.
type VarianceSelector struct {
	model.BaseEstimator

	Threshold float64
	Columns   []int
}

// NewVarianceSelector creates a VarianceSelector.
func NewVarianceSelector(threshold float64) *VarianceSelector {
	return &VarianceSelector{Threshold: threshold}
}

// Fit computes feature variances and records the surviving columns.
func (v *VarianceSelector) Fit(X mat.Matrix, _ []float64) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewValueError("VarianceSelector.Fit", "empty data")
	}
	v.Columns = v.Columns[:0]
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		if stat.Variance(col, nil) > v.Threshold {
			v.Columns = append(v.Columns, j)
		}
	}
	if len(v.Columns) == 0 {
		return errors.NewValueError("VarianceSelector.Fit", "variance threshold removed every feature")
	}
	v.SetFitted()
	return nil
}

// Transform keeps only the surviving columns.
func (v *VarianceSelector) Transform(X mat.Matrix) (*mat.Dense, error) {
	if !v.IsFitted() {
		return nil, errors.NewNotFittedError("VarianceSelector", "Transform")
	}
	return selectColumns(X, v.Columns), nil
}

// Support returns the retained column indices.
func (v *VarianceSelector) Support() []int { return v.Columns }

// ModelSelector performs model-based feature selection: a univariate linear
// fit per feature, keeping features whose absolute standardized coefficient
// reaches the mean over all features.
type ModelSelector struct {
	model.BaseEstimator

	Columns []int
}

// NewModelSelector creates a ModelSelector.
func NewModelSelector() *ModelSelector {
	return &ModelSelector{}
}

// Fit scores each feature by |corr(x_j, y)| and keeps those at or above the
// mean score.
func (m *ModelSelector) Fit(X mat.Matrix, y []float64) error {
	r, c := X.Dims()
	if len(y) != r {
		return errors.NewDimensionError("ModelSelector.Fit", r, len(y), 0)
	}
	scores := make([]float64, c)
	col := make([]float64, r)
	var total float64
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		corr := stat.Correlation(col, y, nil)
		if math.IsNaN(corr) {
			corr = 0
		}
		scores[j] = math.Abs(corr)
		total += scores[j]
	}
	mean := total / float64(c)

	m.Columns = m.Columns[:0]
	for j, s := range scores {
		if s >= mean {
			m.Columns = append(m.Columns, j)
		}
	}
	if len(m.Columns) == 0 {
		return errors.NewValueError("ModelSelector.Fit", "selection removed every feature")
	}
	m.SetFitted()
	return nil
}

// Transform keeps only the selected columns.
func (m *ModelSelector) Transform(X mat.Matrix) (*mat.Dense, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("ModelSelector", "Transform")
	}
	return selectColumns(X, m.Columns), nil
}

// Support returns the retained column indices.
func (m *ModelSelector) Support() []int { return m.Columns }

// StatisticalSelector keeps features whose two-sample test between the
// positive and negative class reaches significance.
type StatisticalSelector struct {
	model.BaseEstimator

	Test      string // "ttest" or "mannwhitneyu"
	Threshold float64
	Columns   []int
}

// NewStatisticalSelector creates a StatisticalSelector. Threshold is the
// p-value cutoff, conventionally 0.05.
func NewStatisticalSelector(test string, threshold float64) *StatisticalSelector {
	return &StatisticalSelector{Test: test, Threshold: threshold}
}

// Fit runs the configured test per feature against the binary labels.
func (s *StatisticalSelector) Fit(X mat.Matrix, y []float64) error {
	r, c := X.Dims()
	if len(y) != r {
		return errors.NewDimensionError("StatisticalSelector.Fit", r, len(y), 0)
	}

	s.Columns = s.Columns[:0]
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		var pos, neg []float64
		for i, v := range col {
			if y[i] == 1 {
				pos = append(pos, v)
			} else {
				neg = append(neg, v)
			}
		}

		var p float64
		var err error
		switch s.Test {
		case "ttest":
			p, err = scistats.WelchTTest(pos, neg)
		case "mannwhitneyu":
			p, err = scistats.MannWhitneyU(pos, neg)
		default:
			return errors.NewValidationError("statistical_test", "unknown test", s.Test)
		}
		if err != nil {
			return err
		}
		if p < s.Threshold {
			s.Columns = append(s.Columns, j)
		}
	}
	if len(s.Columns) == 0 {
		return errors.NewValueError("StatisticalSelector.Fit", "no feature reaches significance")
	}
	s.SetFitted()
	return nil
}

// Transform keeps only the significant columns.
func (s *StatisticalSelector) Transform(X mat.Matrix) (*mat.Dense, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("StatisticalSelector", "Transform")
	}
	return selectColumns(X, s.Columns), nil
}

// Support returns the retained column indices.
func (s *StatisticalSelector) Support() []int { return s.Columns }
