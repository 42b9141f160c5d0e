// Package report renders a finished search as a JSON performance summary
// and a score plot.
package report

import (
	"encoding/json"
	"io"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/scisearch/scisearch/pkg/errors"
	"github.com/scisearch/scisearch/search"
)

// RankedRow is one retained candidate in the summary, in rank order.
type RankedRow struct {
	Rank          int             `json:"rank"`
	MeanTestScore float64         `json:"mean_test_score"`
	StdTestScore  float64         `json:"std_test_score"`
	MeanFitTime   float64         `json:"mean_fit_time_s"`
	Params        search.ParamSet `json:"params"`
}

// Summary is the JSON performance report of a finished search.
type Summary struct {
	Scoring      string          `json:"scoring"`
	NSplits      int             `json:"n_splits"`
	BestScore    float64         `json:"best_score"`
	BestParams   search.ParamSet `json:"best_params"`
	EnsembleSize int             `json:"ensemble_size,omitempty"`
	Rows         []RankedRow     `json:"rows"`
}

// NewSummary builds a Summary from a search's result table.
func NewSummary(results *search.CVResults, scoring string, ens *search.Ensemble) *Summary {
	s := &Summary{
		Scoring:    scoring,
		NSplits:    results.NSplits,
		BestScore:  results.BestScore(),
		BestParams: results.BestParams(),
	}
	if ens != nil {
		s.EnsembleSize = len(ens.Members)
	}
	for i := 0; i < results.Len(); i++ {
		s.Rows = append(s.Rows, RankedRow{
			Rank:          results.Rank[i],
			MeanTestScore: results.MeanTestScore[i],
			StdTestScore:  results.StdTestScore[i],
			MeanFitTime:   results.MeanFitTime[i],
			Params:        results.ParamsAll[i],
		})
	}
	return s
}

// WriteJSON writes the summary as indented JSON.
func (s *Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return errors.Wrap(err, "encoding summary")
	}
	return nil
}

// SaveJSON writes the summary to a file.
func (s *Summary) SaveJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating summary file")
	}
	defer f.Close()
	return s.WriteJSON(f)
}

// PlotScores renders the retained candidates' mean test scores, in rank
// order, as a bar chart PNG.
func PlotScores(results *search.CVResults, scoring, path string) error {
	vals := make(plotter.Values, results.Len())
	for i := 0; i < results.Len(); i++ {
		vals[i] = results.MeanTestScore[i]
	}

	p := plot.New()
	p.Title.Text = "Cross-validation scores by rank"
	p.X.Label.Text = "Candidate rank"
	p.Y.Label.Text = scoring

	bars, err := plotter.NewBarChart(vals, vg.Points(8))
	if err != nil {
		return errors.Wrap(err, "building bar chart")
	}
	p.Add(bars)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrap(err, "saving score plot")
	}
	return nil
}
