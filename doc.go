// Package scisearch provides hyperparameter search with cross-validation
// for supervised learning pipelines in Go.
//
// SciSearch evaluates a space of estimator and preprocessing configurations
// under k-fold cross-validation, ranks the candidates, refits the winner on
// the full training set, and can combine the top configurations into an
// averaged ensemble.
//
// # Quick Start
//
// Grid search over a random forest:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//
//	    "github.com/scisearch/scisearch/estimators/randomforest"
//	    "github.com/scisearch/scisearch/search"
//	)
//
//	func main() {
//	    X, y, labels := loadDataset()
//	    grid := search.ParameterGrid{
//	        "n_estimators": {50, 100, 200},
//	        "scaling":      {true, false},
//	    }
//	    cv, err := search.NewGridSearchCV(randomforest.NewClassifier(), grid,
//	        search.NewStratifiedKFold(5, true, 42),
//	        search.Options{Scoring: "f1_weighted", Refit: true})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if err := cv.Fit(context.Background(), X, y, labels); err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(cv.Results.BestScore())
//	}
//
// # Packages
//
//   - search: grid and randomized search, cross-validation splitters,
//     execution backends, result aggregation, ensembling
//   - preprocessing: scaling, imputation, feature selection, PCA
//   - metrics: classification metrics (accuracy, weighted F1, ROC-AUC, SAR)
//   - estimators/randomforest: random forest base learner
//   - report: JSON performance summaries and score charts
//   - stats: two-sample statistical tests
//   - core/model: pipeline-stage interfaces and persistence
//   - core/parallel: bounded worker pool
//
// # Execution Backends
//
// The candidate-by-split task matrix runs either on an in-process worker
// pool or through a file-based distributed job graph; both produce results
// in the same order, so they are interchangeable per search.
//
// # License
//
// SciSearch is released under the MIT License.
package scisearch
