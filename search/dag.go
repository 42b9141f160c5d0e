package search

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/scisearch/scisearch/core/model"
	"github.com/scisearch/scisearch/pkg/errors"
	"github.com/scisearch/scisearch/pkg/log"
)

func init() {
	// Concrete types that travel inside interface-typed configuration
	// values must be registered before gob can encode them.
	gob.Register(0)
	gob.Register(0.0)
	gob.Register("")
	gob.Register(false)
	gob.Register([]string(nil))
	gob.Register([]interface{}(nil))
}

// matrixPayload is the gob wire form of a dense matrix.
type matrixPayload struct {
	Rows, Cols int
	Data       []float64
}

func encodeMatrix(m *mat.Dense) matrixPayload {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return matrixPayload{Rows: r, Cols: c, Data: data}
}

func (p matrixPayload) decode() *mat.Dense {
	return mat.NewDense(p.Rows, p.Cols, p.Data)
}

// specPayload serializes the per-search fixed inputs exactly once; every
// job reads the same file.
type specPayload struct {
	Estimator        model.Stage
	X                matrixPayload
	Y                []float64
	FeatureLabels    []string
	Scoring          string
	ReturnTrainScore bool
	ErrorScore       ErrorScore
}

// chunkPayload is one job's slice of candidate configurations. Start is
// the global index of the first candidate in the chunk.
type chunkPayload struct {
	Start  int
	Params []ParamSet
}

// resultPayload is the wire form of one (candidate, split) outcome,
// including the fitted preprocessing artifacts so the coordinator can
// promote the winning chain to best state.
type resultPayload struct {
	TestScore     float64
	TrainScore    float64
	HasTrain      bool
	NTestSamples  int
	FitTimeNs     int64
	ScoreTimeNs   int64
	ParamsEst     ParamSet
	ParamsAll     ParamSet
	Chain         FittedChain
	FeatureLabels []string
}

// JobGraph describes one submitted search as the engine sees it: three
// input sources (spec blob, split files, candidate chunk files) and one
// output sink directory. All paths live under WorkDir.
type JobGraph struct {
	Name       string
	WorkDir    string
	SpecFile   string
	SplitFiles []string
	ChunkFiles []string
	OutputDir  string
	// Plugin selects the engine-side execution plugin.
	Plugin string
}

// OutputFile returns the path job i must write its result bundle to.
// Outputs are matched back to jobs by this zero-padded index.
func (g *JobGraph) OutputFile(i int) string {
	return filepath.Join(g.OutputDir, fmt.Sprintf("output_%04d.gob", i))
}

// Engine executes a job graph and blocks until every job has finished.
type Engine interface {
	Execute(ctx context.Context, g *JobGraph) error
}

// GraphBackend serializes the search to a uuid-named working directory,
// hands a job graph to an Engine, and collects the per-job output files.
// On any failure the working directory is preserved for inspection; on
// success it is removed.
type GraphBackend struct {
	Engine Engine
	// Root is the directory working directories are created under;
	// empty means the system temp directory.
	Root string
	// CandidatesPerJob caps chunk size; <= 0 means 100.
	CandidatesPerJob int
	// Plugin is passed through to the engine.
	Plugin string
}

const defaultCandidatesPerJob = 100

// Run implements Backend. Chunks are contiguous candidate ranges and each
// job emits its results candidate-major, so concatenating outputs in job
// order restores the global candidate-major, split-minor order.
func (b *GraphBackend) Run(ctx context.Context, spec *TaskSpec, candidates []ParamSet, splits []Split) ([]RawResult, error) {
	if b.Engine == nil {
		return nil, errors.New("graph backend requires an engine")
	}

	root := b.Root
	if root == "" {
		root = os.TempDir()
	}
	workDir := filepath.Join(root, "scisearch-"+uuid.NewString())

	logger := log.GetLogger().With(
		log.BackendKey, "graph",
		log.WorkDirKey, workDir,
		log.CandidatesKey, len(candidates),
		log.SplitsKey, len(splits),
	)

	graph, err := b.writeInputs(workDir, spec, candidates, splits)
	if err != nil {
		return nil, err
	}
	logger.Info("job graph submitted", "n_jobs", len(graph.ChunkFiles))

	if err := b.Engine.Execute(ctx, graph); err != nil {
		logger.Error("graph execution failed, working directory preserved")
		return nil, errors.Wrap(err, "graph execution failed")
	}

	results, err := collectOutputs(graph, candidates, len(splits))
	if err != nil {
		logger.Error("output collection failed, working directory preserved")
		return nil, err
	}

	if err := os.RemoveAll(workDir); err != nil {
		logger.Warn("could not remove working directory")
	}
	logger.Debug("all jobs complete")
	return results, nil
}

func (b *GraphBackend) writeInputs(workDir string, spec *TaskSpec, candidates []ParamSet, splits []Split) (*JobGraph, error) {
	for _, dir := range []string{workDir, filepath.Join(workDir, "splits"), filepath.Join(workDir, "params"), filepath.Join(workDir, "output")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "creating working directory")
		}
	}

	graph := &JobGraph{
		Name:      "scisearch_" + filepath.Base(workDir),
		WorkDir:   workDir,
		SpecFile:  filepath.Join(workDir, "spec.gob"),
		OutputDir: filepath.Join(workDir, "output"),
		Plugin:    b.Plugin,
	}

	payload := specPayload{
		Estimator:        spec.Estimator,
		X:                encodeMatrix(spec.X),
		Y:                spec.Y,
		FeatureLabels:    spec.FeatureLabels,
		Scoring:          spec.Scoring,
		ReturnTrainScore: spec.ReturnTrainScore,
		ErrorScore:       spec.ErrorScore,
	}
	if err := writeGob(graph.SpecFile, payload); err != nil {
		return nil, err
	}

	for i, s := range splits {
		path := filepath.Join(workDir, "splits", fmt.Sprintf("split_%02d.gob", i))
		if err := writeGob(path, s); err != nil {
			return nil, err
		}
		graph.SplitFiles = append(graph.SplitFiles, path)
	}

	perJob := b.CandidatesPerJob
	if perJob <= 0 {
		perJob = defaultCandidatesPerJob
	}
	for start := 0; start < len(candidates); start += perJob {
		end := start + perJob
		if end > len(candidates) {
			end = len(candidates)
		}
		path := filepath.Join(workDir, "params", fmt.Sprintf("chunk_%04d.gob", len(graph.ChunkFiles)))
		if err := writeGob(path, chunkPayload{Start: start, Params: candidates[start:end]}); err != nil {
			return nil, err
		}
		graph.ChunkFiles = append(graph.ChunkFiles, path)
	}
	return graph, nil
}

// collectOutputs reads every expected per-job output file and validates
// that each decomposes into exactly chunkSize*nSplits result tuples with
// both configuration views present.
func collectOutputs(graph *JobGraph, candidates []ParamSet, nSplits int) ([]RawResult, error) {
	out := make([]RawResult, 0, len(candidates)*nSplits)

	for i, chunkFile := range graph.ChunkFiles {
		var chunk chunkPayload
		if err := readGob(chunkFile, &chunk); err != nil {
			return nil, err
		}

		var payloads []resultPayload
		if err := readGob(graph.OutputFile(i), &payloads); err != nil {
			return nil, errors.Wrapf(err, "missing or unreadable output for job %d", i)
		}
		if want := len(chunk.Params) * nSplits; len(payloads) != want {
			return nil, errors.Newf("job %d returned %d results, want %d", i, len(payloads), want)
		}
		for _, p := range payloads {
			if len(p.ParamsAll) == 0 {
				return nil, errors.Newf("job %d returned an incomplete result tuple", i)
			}
			out = append(out, RawResult{
				TestScore:     p.TestScore,
				TrainScore:    p.TrainScore,
				HasTrain:      p.HasTrain,
				NTestSamples:  p.NTestSamples,
				FitTime:       time.Duration(p.FitTimeNs),
				ScoreTime:     time.Duration(p.ScoreTimeNs),
				ParamsEst:     p.ParamsEst,
				ParamsAll:     p.ParamsAll,
				Chain:         p.Chain,
				FeatureLabels: p.FeatureLabels,
			})
		}
	}
	return out, nil
}

// LocalEngine executes a job graph synchronously in the current process.
// It exercises the full serialization path and stands in for an external
// scheduler in tests and single-machine runs.
type LocalEngine struct{}

func (LocalEngine) Execute(ctx context.Context, g *JobGraph) error {
	var payload specPayload
	if err := readGob(g.SpecFile, &payload); err != nil {
		return err
	}
	spec := &TaskSpec{
		Estimator:        payload.Estimator,
		X:                payload.X.decode(),
		Y:                payload.Y,
		FeatureLabels:    payload.FeatureLabels,
		Scoring:          payload.Scoring,
		ReturnTrainScore: payload.ReturnTrainScore,
		ErrorScore:       payload.ErrorScore,
	}

	splits := make([]Split, len(g.SplitFiles))
	for i, path := range g.SplitFiles {
		if err := readGob(path, &splits[i]); err != nil {
			return err
		}
	}

	for i, chunkFile := range g.ChunkFiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		var chunk chunkPayload
		if err := readGob(chunkFile, &chunk); err != nil {
			return err
		}

		payloads := make([]resultPayload, 0, len(chunk.Params)*len(splits))
		for j, params := range chunk.Params {
			for k, split := range splits {
				res, err := FitAndScore(spec, params, split, chunk.Start+j, k)
				if err != nil {
					return err
				}
				payloads = append(payloads, resultPayload{
					TestScore:     res.TestScore,
					TrainScore:    res.TrainScore,
					HasTrain:      res.HasTrain,
					NTestSamples:  res.NTestSamples,
					FitTimeNs:     int64(res.FitTime),
					ScoreTimeNs:   int64(res.ScoreTime),
					ParamsEst:     res.ParamsEst,
					ParamsAll:     res.ParamsAll,
					Chain:         res.Chain,
					FeatureLabels: res.FeatureLabels,
				})
			}
		}
		if err := writeGob(g.OutputFile(i), payloads); err != nil {
			return err
		}
	}
	return nil
}

func writeGob(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "writing %s", filepath.Base(path))
	}
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %s", filepath.Base(path))
	}
	return f.Close()
}

func readGob(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", filepath.Base(path))
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return errors.Wrapf(err, "decoding %s", filepath.Base(path))
	}
	return nil
}
