package engine

import (
	"context"
	"errors"
	"testing"

	"wafshield/internal/artifacts"
	"wafshield/internal/config"
	"wafshield/internal/model"
)

type stubClassifier struct {
	pred    int
	proba   []float64
	err     error
	lastRow []float64
}

func (s *stubClassifier) Classes() []int { return []int{0, 1} }

func (s *stubClassifier) Predict(row []float64) (int, error) {
	s.lastRow = append([]float64(nil), row...)
	return s.pred, s.err
}

func (s *stubClassifier) PredictProba(row []float64) ([]float64, error) {
	return s.proba, s.err
}

var testFeatures = []string{"bytes_in", "bytes_out", "dst_port", "time", "proto_tcp"}

func testArtifacts(cls artifacts.Classifier) *artifacts.ModelArtifacts {
	return &artifacts.ModelArtifacts{Classifier: cls, FeatureNames: testFeatures}
}

func newEngineForTest(art *artifacts.ModelArtifacts) *Engine {
	return NewEngine(config.DefaultConfig(), artifacts.NewStaticLoader(art), nil, nil)
}

func TestBuildRowDefaultsAndMapping(t *testing.T) {
	sample := model.TrafficSample{BytesIn: 1, BytesOut: 2, DstPort: 3, TimeTaken: 4}
	row, err := BuildRow([]string{"proto_tcp", "time", "dst_port", "bytes_out", "bytes_in", "time_taken"}, sample)
	if err != nil {
		t.Fatalf("build row: %v", err)
	}
	if row.Len() != 6 {
		t.Fatalf("expected 6 entries, got %d", row.Len())
	}
	want := []float64{0, 4, 3, 2, 1, 0}
	for i, v := range want {
		if row.Values[i] != v {
			t.Fatalf("value %d (%s): got %v want %v", i, row.Names[i], row.Values[i], v)
		}
	}
	if v, ok := row.Get("time_taken"); !ok || v != 0 {
		t.Fatalf("time_taken is not a model feature and must stay 0, got %v", v)
	}
}

func TestBuildRowRejectsDuplicates(t *testing.T) {
	_, err := BuildRow([]string{"bytes_in", "bytes_in"}, model.DefaultSample())
	if !errors.Is(err, ErrDuplicateFeature) {
		t.Fatalf("expected ErrDuplicateFeature, got %v", err)
	}
}

func TestScenarioModelSafe(t *testing.T) {
	cls := &stubClassifier{pred: 0, proba: []float64{0.9, 0.1}}
	eng := newEngineForTest(testArtifacts(cls))
	v, err := eng.Score(context.Background(), model.DefaultSample())
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if v.IsSuspicious || v.Source != model.SourceModel || v.Confidence != 0.1 {
		t.Fatalf("unexpected verdict: %+v", v)
	}
	if 1-v.Confidence != 0.9 {
		t.Fatalf("safety confidence should be 0.90")
	}
	want := []float64{500, 2500, 80, 45, 0}
	for i, x := range want {
		if cls.lastRow[i] != x {
			t.Fatalf("row[%d] = %v, want %v", i, cls.lastRow[i], x)
		}
	}
}

func TestScenarioRuleOverridesModel(t *testing.T) {
	cls := &stubClassifier{pred: 0, proba: []float64{0.97, 0.03}}
	eng := newEngineForTest(testArtifacts(cls))
	sample := model.DefaultSample()
	sample.BytesIn = 15000
	v, err := eng.Score(context.Background(), sample)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !v.IsSuspicious || v.Confidence != 0.99 || v.Source != model.SourceRule {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestScenarioArtifactsAbsent(t *testing.T) {
	eng := newEngineForTest(nil)
	_, err := eng.Score(context.Background(), model.DefaultSample())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if eng.Status().State != artifacts.StateAbsent {
		t.Fatalf("expected absent state")
	}
}

func TestRuleForEitherVolume(t *testing.T) {
	for _, pred := range []int{0, 1} {
		cls := &stubClassifier{pred: pred, proba: []float64{0.5, 0.5}}
		art := testArtifacts(cls)
		for _, n := range []int64{10001, 20000, 1 << 40} {
			for _, s := range []model.TrafficSample{
				{BytesIn: n, BytesOut: 0, DstPort: 443, TimeTaken: 1},
				{BytesIn: 0, BytesOut: n, DstPort: 0, TimeTaken: 99999},
				{BytesIn: n, BytesOut: n},
			} {
				v, err := Score(s, art, DefaultRule())
				if err != nil {
					t.Fatalf("score: %v", err)
				}
				if !v.IsSuspicious || v.Confidence != 0.99 || v.Source != model.SourceRule {
					t.Fatalf("sample %+v: unexpected verdict %+v", s, v)
				}
			}
		}
	}
}

func TestModelAttributionAtOrBelowThreshold(t *testing.T) {
	for _, pred := range []int{0, 1} {
		cls := &stubClassifier{pred: pred, proba: []float64{0.3, 0.7}}
		art := testArtifacts(cls)
		for _, s := range []model.TrafficSample{
			{BytesIn: 10000, BytesOut: 10000},
			{BytesIn: 0, BytesOut: 0},
			{BytesIn: 9999, BytesOut: 1, DstPort: 65535, TimeTaken: 1 << 30},
		} {
			v, err := Score(s, art, DefaultRule())
			if err != nil {
				t.Fatalf("score: %v", err)
			}
			if v.Source != model.SourceModel || v.IsSuspicious != (pred == 1) || v.Confidence != 0.7 {
				t.Fatalf("pred %d sample %+v: unexpected verdict %+v", pred, s, v)
			}
		}
	}
}

func TestModelErrorIsReturned(t *testing.T) {
	cls := &stubClassifier{err: errors.New("boom")}
	sample := model.DefaultSample()
	sample.BytesOut = 50000
	if _, err := Score(sample, testArtifacts(cls), DefaultRule()); err == nil {
		t.Fatalf("model failure must surface even when the rule would fire")
	}
}

func TestInvalidSampleRejected(t *testing.T) {
	eng := newEngineForTest(testArtifacts(&stubClassifier{proba: []float64{1, 0}}))
	_, err := eng.Score(context.Background(), model.TrafficSample{BytesIn: -1})
	if !errors.Is(err, model.ErrInvalidSample) {
		t.Fatalf("expected ErrInvalidSample, got %v", err)
	}
}

func TestRuleFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Detection.VolumeThreshold = 100
	eng := NewEngine(cfg, artifacts.NewStaticLoader(testArtifacts(&stubClassifier{proba: []float64{1, 0}})), nil, nil)
	v, err := eng.Score(context.Background(), model.TrafficSample{BytesIn: 101})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if v.Source != model.SourceRule {
		t.Fatalf("configured threshold not applied: %+v", v)
	}
	cfg2 := config.DefaultConfig()
	eng.UpdateConfig(cfg2)
	v, _ = eng.Score(context.Background(), model.TrafficSample{BytesIn: 101})
	if v.Source != model.SourceModel {
		t.Fatalf("updated config not applied: %+v", v)
	}
}

func TestScoreWithRandomForestFixture(t *testing.T) {
	src := artifacts.NewFileSource("../artifacts/testdata/waf_rf_classifier.json", "../artifacts/testdata/model_feature_columns.json")
	eng := NewEngine(config.DefaultConfig(), artifacts.NewLoader(src, nil), nil, nil)
	v, err := eng.Score(context.Background(), model.DefaultSample())
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if v.IsSuspicious || v.Source != model.SourceModel || v.Confidence != 0.1 {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}
