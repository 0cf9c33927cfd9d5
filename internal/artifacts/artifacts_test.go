package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/kafka-go"
)

func fixture(name string) string {
	return filepath.Join("testdata", name)
}

func loadFixtureForest(t *testing.T) Classifier {
	t.Helper()
	data, err := os.ReadFile(fixture("waf_rf_classifier.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	cls, err := DecodeClassifier(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return cls
}

func TestRandomForestPredict(t *testing.T) {
	cls := loadFixtureForest(t)

	p, err := cls.PredictProba([]float64{500, 2500, 80, 45, 0})
	if err != nil {
		t.Fatalf("predict proba: %v", err)
	}
	if p[0] != 0.9 || p[1] != 0.1 {
		t.Fatalf("unexpected proba: %v", p)
	}
	pred, err := cls.Predict([]float64{500, 2500, 80, 45, 0})
	if err != nil || pred != 0 {
		t.Fatalf("predict: %d %v", pred, err)
	}

	pred, err = cls.Predict([]float64{500, 2500, 4444, 5000, 0})
	if err != nil || pred != 1 {
		t.Fatalf("expected class 1, got %d %v", pred, err)
	}
}

func TestRandomForestWidthMismatch(t *testing.T) {
	cls := loadFixtureForest(t)
	if _, err := cls.Predict([]float64{1, 2, 3}); !errors.Is(err, ErrFeatureMismatch) {
		t.Fatalf("expected ErrFeatureMismatch, got %v", err)
	}
}

func TestRandomForestBrokenTree(t *testing.T) {
	rf := &RandomForest{Trees: []Tree{{
		ChildrenLeft:  []int{5},
		ChildrenRight: []int{6},
		Feature:       []int{0},
		Threshold:     []float64{1},
		Value:         [][]float64{{1, 1}},
	}}}
	if _, err := rf.PredictProba([]float64{0}); err == nil {
		t.Fatalf("expected out of range node error")
	}
	rf.Trees[0] = Tree{
		ChildrenLeft:  []int{1, -1},
		ChildrenRight: []int{1, -1},
		Feature:       []int{9, -2},
		Threshold:     []float64{1, -2},
		Value:         [][]float64{{1, 1}, {1, 1}},
	}
	if _, err := rf.PredictProba([]float64{0}); err == nil {
		t.Fatalf("expected bad feature index error")
	}
}

func TestLogistic(t *testing.T) {
	cls, err := DecodeClassifier([]byte(`{"kind":"logistic","coefficients":[0.001,0],"intercept":-5}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	pred, err := cls.Predict([]float64{100, 0})
	if err != nil || pred != 0 {
		t.Fatalf("expected 0, got %d %v", pred, err)
	}
	pred, err = cls.Predict([]float64{9000, 0})
	if err != nil || pred != 1 {
		t.Fatalf("expected 1, got %d %v", pred, err)
	}
	p, _ := cls.PredictProba([]float64{5000, 0})
	if p[1] != 0.5 {
		t.Fatalf("expected 0.5 at the boundary, got %v", p[1])
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := DecodeClassifier([]byte(`{"kind":"svm"}`)); err == nil {
		t.Fatalf("expected unsupported kind error")
	}
	if _, err := DecodeClassifier([]byte(`{"kind":"random_forest","trees":[]}`)); err == nil {
		t.Fatalf("expected no trees error")
	}
	if _, err := DecodeClassifier([]byte(`not json`)); err == nil {
		t.Fatalf("expected json error")
	}
	if _, err := DecodeFeatureNames([]byte(`[]`)); err == nil {
		t.Fatalf("expected empty list error")
	}
}

type countingSource struct {
	Source
	fetches int
}

func (c *countingSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	c.fetches++
	return c.Source.Fetch(ctx, name)
}

func TestLoaderPresentOnce(t *testing.T) {
	src := &countingSource{Source: NewFileSource(fixture("waf_rf_classifier.json"), fixture("model_feature_columns.json"))}
	l := NewLoader(src, nil)
	if got := l.Status().State; got != StateNotLoaded {
		t.Fatalf("expected not_loaded before first use, got %s", got)
	}
	r := l.Load(context.Background())
	if !r.Available() {
		t.Fatalf("expected artifacts present: %v", r.Err)
	}
	if len(r.Artifacts.FeatureNames) != 5 || r.Artifacts.FeatureNames[3] != "time" {
		t.Fatalf("feature names: %v", r.Artifacts.FeatureNames)
	}
	l.Load(context.Background())
	l.Load(context.Background())
	if src.fetches != 2 {
		t.Fatalf("expected a single load (2 fetches), got %d", src.fetches)
	}
	if l.Status().State != StatePresent {
		t.Fatalf("status should report present")
	}
}

func TestLoaderAbsent(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(NewFileSource(filepath.Join(dir, "missing.json"), fixture("model_feature_columns.json")), nil)
	r := l.Load(context.Background())
	if r.State != StateAbsent || r.Available() {
		t.Fatalf("expected absent, got %s", r.State)
	}
	if !errors.Is(r.Err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", r.Err)
	}
}

func TestLoaderMalformed(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	l := NewLoader(NewFileSource(bad, fixture("model_feature_columns.json")), nil)
	r := l.Load(context.Background())
	if r.State != StateAbsent || r.Err == nil {
		t.Fatalf("expected absent with decode error, got %s %v", r.State, r.Err)
	}
}

func TestStaticLoader(t *testing.T) {
	if NewStaticLoader(nil).Load(context.Background()).Available() {
		t.Fatalf("nil artifacts must be absent")
	}
	art := &ModelArtifacts{Classifier: &Logistic{Coefficients: []float64{1}}, FeatureNames: []string{"bytes_in"}}
	if !NewStaticLoader(art).Status().Available() {
		t.Fatalf("static loader should be present")
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "artifacts.db")
	store, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := store.Fetch(ctx, NameClassifier); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty table, got %v", err)
	}
	if r := NewLoader(store, nil).Load(ctx); r.State != StateAbsent {
		t.Fatalf("expected absent before import, got %s", r.State)
	}

	cls, _ := os.ReadFile(fixture("waf_rf_classifier.json"))
	names, _ := os.ReadFile(fixture("model_feature_columns.json"))
	if err := store.Put(ctx, NameClassifier, []byte(`{"kind":"logistic","coefficients":[1]}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, NameClassifier, cls); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := store.Put(ctx, NameFeatureNames, names); err != nil {
		t.Fatalf("put names: %v", err)
	}
	r := NewLoader(store, nil).Load(ctx)
	if !r.Available() {
		t.Fatalf("expected present after import: %v", r.Err)
	}
	if _, ok := r.Artifacts.Classifier.(*RandomForest); !ok {
		t.Fatalf("expected the overwritten random forest, got %T", r.Artifacts.Classifier)
	}
}

func TestLatestByKey(t *testing.T) {
	msgs := []kafka.Message{
		{Key: []byte(NameClassifier), Value: []byte("v1")},
		{Key: []byte(NameFeatureNames), Value: []byte("names")},
		{Key: []byte(NameClassifier), Value: []byte("v2")},
		{Key: []byte("old"), Value: []byte("x")},
		{Key: []byte("old")},
		{Value: []byte("unkeyed")},
	}
	got := latestByKey(msgs)
	if string(got[NameClassifier]) != "v2" || string(got[NameFeatureNames]) != "names" {
		t.Fatalf("unexpected values: %v", got)
	}
	if _, ok := got["old"]; ok {
		t.Fatalf("tombstone should delete key")
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(got))
	}
}
