package hotune

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// StateFile is the name of the experiment state file under
// <LocalDir>/<Name>/.
const StateFile = "experiment_state.yaml"

// Analysis holds the trials of a finished experiment.
type Analysis struct {
	Name   string   `yaml:"name"`
	Metric string   `yaml:"metric"`
	Mode   Mode     `yaml:"mode"`
	Trials []*Trial `yaml:"trials"`
}

// BestTrial returns the trial whose last result is best for the metric and
// mode. Ties keep the earliest trial.
func (a *Analysis) BestTrial() (*Trial, error) {
	var (
		best      *Trial
		bestValue float64
	)

	for _, t := range a.Trials {
		if t.LastResult == nil {
			continue
		}

		v, ok := t.LastResult.Value(a.Metric)
		if !ok {
			continue
		}

		if best == nil || a.Mode.better(v, bestValue) {
			best, bestValue = t, v
		}
	}

	if best == nil {
		return nil, ErrNoResults
	}

	return best, nil
}

// BestConfig returns the configuration of BestTrial.
func (a *Analysis) BestConfig() (Config, error) {
	t, err := a.BestTrial()
	if err != nil {
		return nil, err
	}

	return t.Config.Clone(), nil
}

// BestResult returns the last result of BestTrial.
func (a *Analysis) BestResult() (*Result, error) {
	t, err := a.BestTrial()
	if err != nil {
		return nil, err
	}

	res := *t.LastResult

	return &res, nil
}

// Row is the summary of one trial.
type Row struct {
	TrialID    string
	Status     TrialStatus
	Iterations int
	Value      float64
	HasValue   bool
	Config     Config
}

// Rows summarizes every trial, best first. Trials without the metric come
// last in their original order.
func (a *Analysis) Rows() []Row {
	rows := make([]Row, 0, len(a.Trials))

	for _, t := range a.Trials {
		row := Row{
			TrialID:    t.ID,
			Status:     t.Status,
			Iterations: len(t.Results),
			Config:     t.Config,
		}

		if t.LastResult != nil {
			row.Value, row.HasValue = t.LastResult.Value(a.Metric)
			row.Iterations = t.LastResult.TrainingIteration
		}

		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].HasValue != rows[j].HasValue {
			return rows[i].HasValue
		}

		return rows[i].HasValue && a.Mode.better(rows[i].Value, rows[j].Value)
	})

	return rows
}

// Save writes the analysis to <dir>/<Name>/experiment_state.yaml and returns
// the path.
func (a *Analysis) Save(dir string) (string, error) {
	expDir := filepath.Join(dir, a.Name)
	if err := os.MkdirAll(expDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create experiment directory: %w", err)
	}

	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(a); err != nil {
		return "", fmt.Errorf("failed to encode experiment state: %w", err)
	}

	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode experiment state: %w", err)
	}

	path := filepath.Join(expDir, StateFile)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write experiment state: %w", err)
	}

	return path, nil
}

// LoadAnalysis reads an experiment state file written by Save.
func LoadAnalysis(path string) (*Analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiment state: %w", err)
	}

	var a Analysis

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to parse experiment state: %w", err)
	}

	if err := a.Mode.Validate(); err != nil {
		return nil, fmt.Errorf("experiment state: %w", err)
	}

	return &a, nil
}
