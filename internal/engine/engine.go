package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"wafshield/internal/artifacts"
	"wafshield/internal/config"
	"wafshield/internal/metrics"
	"wafshield/internal/model"
)

var ErrUnavailable = errors.New("scoring unavailable")

const positiveClass = 1

// Rule forces a suspicious verdict when either byte counter exceeds the threshold.
type Rule struct {
	VolumeThreshold int64
	Confidence      float64
}

func DefaultRule() Rule {
	return Rule{VolumeThreshold: 10000, Confidence: 0.99}
}

func RuleFromConfig(cfg config.DetectionConfig) Rule {
	r := DefaultRule()
	if cfg.VolumeThreshold > 0 {
		r.VolumeThreshold = cfg.VolumeThreshold
	}
	if cfg.RuleConfidence > 0 {
		r.Confidence = cfg.RuleConfidence
	}
	return r
}

func (r Rule) Triggered(s model.TrafficSample) bool {
	return s.BytesIn > r.VolumeThreshold || s.BytesOut > r.VolumeThreshold
}

// Score runs the classifier on the sample's feature row, then applies the
// volume rule, which always takes precedence over the model.
func Score(sample model.TrafficSample, art *artifacts.ModelArtifacts, rule Rule) (model.Verdict, error) {
	if art == nil || art.Classifier == nil {
		return model.Verdict{}, ErrUnavailable
	}
	row, err := BuildRow(art.FeatureNames, sample)
	if err != nil {
		return model.Verdict{}, err
	}
	pred, err := art.Classifier.Predict(row.Values)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("predict: %w", err)
	}
	proba, err := art.Classifier.PredictProba(row.Values)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("predict proba: %w", err)
	}
	idx := classIndex(art.Classifier.Classes(), positiveClass)
	if idx < 0 || idx >= len(proba) {
		return model.Verdict{}, fmt.Errorf("classifier has no probability for class %d", positiveClass)
	}
	conf := proba[idx]
	source := model.SourceModel

	if rule.Triggered(sample) {
		pred = positiveClass
		conf = rule.Confidence
		source = model.SourceRule
	}
	return model.Verdict{
		IsSuspicious: pred == positiveClass,
		Confidence:   conf,
		Source:       source,
	}, nil
}

func classIndex(classes []int, class int) int {
	for i, c := range classes {
		if c == class {
			return i
		}
	}
	return -1
}

type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	loader  *artifacts.Loader
	cfg     atomic.Value
}

func NewEngine(cfg *config.Config, loader *artifacts.Loader, logger *slog.Logger, metricsReg *metrics.Metrics) *Engine {
	e := &Engine{
		logger:  logger,
		metrics: metricsReg,
		loader:  loader,
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg != nil {
		e.cfg.Store(cfg)
	}
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Rule() Rule {
	return RuleFromConfig(e.config().Detection)
}

// Warmup triggers the one-time artifact load.
func (e *Engine) Warmup(ctx context.Context) artifacts.Result {
	r := e.loader.Load(ctx)
	e.metrics.SetArtifactsAvailable(r.Available())
	return r
}

func (e *Engine) Status() artifacts.Result {
	return e.loader.Status()
}

func (e *Engine) Score(ctx context.Context, sample model.TrafficSample) (model.Verdict, error) {
	start := time.Now()
	res := e.Warmup(ctx)
	if !res.Available() {
		e.metrics.ObserveFailure("unavailable")
		if res.Err != nil {
			return model.Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
		}
		return model.Verdict{}, ErrUnavailable
	}
	if err := sample.Validate(); err != nil {
		e.metrics.ObserveFailure("invalid_input")
		return model.Verdict{}, err
	}
	v, err := Score(sample, res.Artifacts, e.Rule())
	if err != nil {
		e.metrics.ObserveFailure("model_error")
		if e.logger != nil {
			e.logger.Warn("scan failed", "err", err)
		}
		return model.Verdict{}, fmt.Errorf("score sample: %w", err)
	}
	e.metrics.ObserveScan(v, time.Since(start))
	if e.logger != nil {
		e.logger.Info("scan completed",
			"bytes_in", sample.BytesIn,
			"bytes_out", sample.BytesOut,
			"dst_port", sample.DstPort,
			"time_taken", sample.TimeTaken,
			"suspicious", v.IsSuspicious,
			"confidence", v.Confidence,
			"source", v.Source,
		)
	}
	return v, nil
}
