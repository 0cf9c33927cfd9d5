package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

const (
	NameClassifier   = "classifier"
	NameFeatureNames = "feature_names"
)

type State int

const (
	StateNotLoaded State = iota
	StateAbsent
	StatePresent
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StatePresent:
		return "present"
	default:
		return "not_loaded"
	}
}

// ModelArtifacts is immutable once loaded and shared by every scan.
type ModelArtifacts struct {
	Classifier   Classifier
	FeatureNames []string
}

type Result struct {
	State     State
	Artifacts *ModelArtifacts
	Err       error
}

func (r Result) Available() bool {
	return r.State == StatePresent && r.Artifacts != nil
}

// Loader fetches the artifacts at most once per process.
type Loader struct {
	source Source
	logger *slog.Logger
	once   sync.Once
	result atomic.Pointer[Result]
}

func NewLoader(source Source, logger *slog.Logger) *Loader {
	return &Loader{source: source, logger: logger}
}

// NewStaticLoader returns a loader that is already in the present state.
func NewStaticLoader(art *ModelArtifacts) *Loader {
	l := &Loader{}
	l.once.Do(func() {
		r := Result{State: StatePresent, Artifacts: art}
		if art == nil {
			r = Result{State: StateAbsent, Err: ErrNotFound}
		}
		l.result.Store(&r)
	})
	return l
}

func (l *Loader) Load(ctx context.Context) Result {
	l.once.Do(func() {
		r := l.load(context.WithoutCancel(ctx))
		l.result.Store(&r)
		if l.logger == nil {
			return
		}
		if r.Available() {
			l.logger.Info("model artifacts loaded", "features", len(r.Artifacts.FeatureNames))
		} else {
			l.logger.Error("model artifacts unavailable, scoring disabled", "err", r.Err)
		}
	})
	return *l.result.Load()
}

func (l *Loader) Status() Result {
	if r := l.result.Load(); r != nil {
		return *r
	}
	return Result{State: StateNotLoaded}
}

func (l *Loader) load(ctx context.Context) Result {
	if l.source == nil {
		return Result{State: StateAbsent, Err: ErrNotFound}
	}
	clsData, err := l.source.Fetch(ctx, NameClassifier)
	if err != nil {
		return Result{State: StateAbsent, Err: fmt.Errorf("fetch %s: %w", NameClassifier, err)}
	}
	featData, err := l.source.Fetch(ctx, NameFeatureNames)
	if err != nil {
		return Result{State: StateAbsent, Err: fmt.Errorf("fetch %s: %w", NameFeatureNames, err)}
	}
	cls, err := DecodeClassifier(clsData)
	if err != nil {
		return Result{State: StateAbsent, Err: err}
	}
	names, err := DecodeFeatureNames(featData)
	if err != nil {
		return Result{State: StateAbsent, Err: err}
	}
	return Result{
		State:     StatePresent,
		Artifacts: &ModelArtifacts{Classifier: cls, FeatureNames: names},
	}
}
