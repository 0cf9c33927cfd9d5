package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	KindRandomForest = "random_forest"
	KindLogistic     = "logistic"

	leafMarker = -1
)

var ErrFeatureMismatch = errors.New("feature row width does not match classifier")

// Classifier is a trained binary model evaluated on a single feature row.
// Rows are ordered like the artifact's feature names.
type Classifier interface {
	Classes() []int
	Predict(row []float64) (int, error)
	PredictProba(row []float64) ([]float64, error)
}

type envelope struct {
	Kind string `json:"kind"`
}

func DecodeClassifier(data []byte) (Classifier, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode classifier: %w", err)
	}
	switch strings.ToLower(env.Kind) {
	case KindRandomForest, "":
		var rf RandomForest
		if err := json.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("decode random forest: %w", err)
		}
		if len(rf.Trees) == 0 {
			return nil, errors.New("decode random forest: no trees")
		}
		return &rf, nil
	case KindLogistic:
		var lr Logistic
		if err := json.Unmarshal(data, &lr); err != nil {
			return nil, fmt.Errorf("decode logistic: %w", err)
		}
		if len(lr.Coefficients) == 0 {
			return nil, errors.New("decode logistic: no coefficients")
		}
		return &lr, nil
	default:
		return nil, fmt.Errorf("decode classifier: unsupported kind %q", env.Kind)
	}
}

func DecodeFeatureNames(data []byte) ([]string, error) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decode feature names: %w", err)
	}
	if len(names) == 0 {
		return nil, errors.New("decode feature names: empty list")
	}
	return names, nil
}

func binaryClasses(classes []int) []int {
	if len(classes) == 0 {
		return []int{0, 1}
	}
	return classes
}

func argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

// Tree mirrors a fitted decision tree's node arrays.
type Tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

func (t *Tree) leaf(row []float64) (int, error) {
	node := 0
	for steps := 0; steps <= len(t.ChildrenLeft); steps++ {
		if node < 0 || node >= len(t.ChildrenLeft) || node >= len(t.ChildrenRight) {
			return 0, fmt.Errorf("tree node %d out of range", node)
		}
		left := t.ChildrenLeft[node]
		if left == leafMarker {
			return node, nil
		}
		if node >= len(t.Feature) || node >= len(t.Threshold) {
			return 0, fmt.Errorf("tree node %d has no split", node)
		}
		f := t.Feature[node]
		if f < 0 || f >= len(row) {
			return 0, fmt.Errorf("tree node %d splits on feature %d of %d", node, f, len(row))
		}
		if row[f] <= t.Threshold[node] {
			node = left
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return 0, errors.New("tree does not terminate")
}

func (t *Tree) proba(row []float64, nClasses int) ([]float64, error) {
	node, err := t.leaf(row)
	if err != nil {
		return nil, err
	}
	if node >= len(t.Value) || len(t.Value[node]) != nClasses {
		return nil, fmt.Errorf("leaf %d has no class distribution", node)
	}
	var sum float64
	for _, v := range t.Value[node] {
		sum += v
	}
	if sum <= 0 {
		return nil, fmt.Errorf("leaf %d has empty class distribution", node)
	}
	out := make([]float64, nClasses)
	for i, v := range t.Value[node] {
		out[i] = v / sum
	}
	return out, nil
}

type RandomForest struct {
	ClassLabels []int  `json:"classes"`
	NFeatures   int    `json:"n_features"`
	Trees       []Tree `json:"trees"`
}

func (rf *RandomForest) Classes() []int {
	return binaryClasses(rf.ClassLabels)
}

// PredictProba averages the normalized leaf distributions of every tree.
func (rf *RandomForest) PredictProba(row []float64) ([]float64, error) {
	if rf.NFeatures > 0 && len(row) != rf.NFeatures {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFeatureMismatch, len(row), rf.NFeatures)
	}
	if len(rf.Trees) == 0 {
		return nil, errors.New("random forest has no trees")
	}
	classes := rf.Classes()
	out := make([]float64, len(classes))
	for i := range rf.Trees {
		p, err := rf.Trees[i].proba(row, len(classes))
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		for c := range out {
			out[c] += p[c]
		}
	}
	for c := range out {
		out[c] /= float64(len(rf.Trees))
	}
	return out, nil
}

func (rf *RandomForest) Predict(row []float64) (int, error) {
	p, err := rf.PredictProba(row)
	if err != nil {
		return 0, err
	}
	return rf.Classes()[argmax(p)], nil
}

type Logistic struct {
	ClassLabels  []int     `json:"classes"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	Threshold    float64   `json:"threshold"`
}

func (lr *Logistic) Classes() []int {
	return binaryClasses(lr.ClassLabels)
}

func (lr *Logistic) PredictProba(row []float64) ([]float64, error) {
	if len(row) != len(lr.Coefficients) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFeatureMismatch, len(row), len(lr.Coefficients))
	}
	z := lr.Intercept
	for i, c := range lr.Coefficients {
		z += c * row[i]
	}
	p := 1 / (1 + math.Exp(-z))
	return []float64{1 - p, p}, nil
}

func (lr *Logistic) Predict(row []float64) (int, error) {
	p, err := lr.PredictProba(row)
	if err != nil {
		return 0, err
	}
	threshold := lr.Threshold
	if threshold <= 0 {
		threshold = 0.5
	}
	classes := lr.Classes()
	if len(classes) < 2 {
		return 0, errors.New("logistic model needs two classes")
	}
	if p[1] > threshold {
		return classes[1], nil
	}
	return classes[0], nil
}
