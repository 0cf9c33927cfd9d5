package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"wafshield/internal/engine"
	"wafshield/internal/model"
)

const UnavailableMessage = "Model artifacts not found. Scoring is unavailable."

type Scorer interface {
	Score(ctx context.Context, sample model.TrafficSample) (model.Verdict, error)
}

// State is one user's interactive context. Scans within a State never overlap.
type State struct {
	mu        sync.Mutex
	id        string
	defaults  model.TrafficSample
	inputs    model.TrafficSample
	verdict   *model.Verdict
	scanDone  bool
	lastError string
	// unix nanos; read by the store without taking mu
	updatedAt atomic.Int64
}

// Snapshot is a copy of a State safe to render after the lock is released.
type Snapshot struct {
	ID        string              `json:"id"`
	Inputs    model.TrafficSample `json:"inputs"`
	Verdict   *model.Verdict      `json:"verdict,omitempty"`
	ScanDone  bool                `json:"scan_done"`
	LastError string              `json:"last_error,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func New(id string, defaults model.TrafficSample) *State {
	st := &State{
		id:       id,
		defaults: defaults,
		inputs:   defaults,
	}
	st.touch()
	return st
}

func (s *State) ID() string {
	return s.id
}

func (s *State) SetInputs(in model.TrafficSample) error {
	if err := in.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = in
	s.touch()
	return nil
}

// Scan scores the current inputs. On failure the previous verdict is kept
// and only the error message changes.
func (s *State) Scan(ctx context.Context, scorer Scorer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanLocked(ctx, scorer)
}

// SetAndScan updates the inputs and scans them under one lock.
func (s *State) SetAndScan(ctx context.Context, in model.TrafficSample, scorer Scorer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := in.Validate(); err != nil {
		s.lastError = "Error: " + err.Error()
		return err
	}
	s.inputs = in
	return s.scanLocked(ctx, scorer)
}

func (s *State) scanLocked(ctx context.Context, scorer Scorer) error {
	s.touch()
	v, err := scorer.Score(ctx, s.inputs)
	if err != nil {
		if errors.Is(err, engine.ErrUnavailable) {
			s.lastError = UnavailableMessage
		} else {
			s.lastError = "Error: " + err.Error()
		}
		return err
	}
	s.verdict = &v
	s.scanDone = true
	s.lastError = ""
	return nil
}

// SetError records an input problem found before a scan could start.
func (s *State) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
	s.touch()
}

func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = s.defaults
	s.verdict = nil
	s.scanDone = false
	s.lastError = ""
	s.touch()
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:        s.id,
		Inputs:    s.inputs,
		ScanDone:  s.scanDone,
		LastError: s.lastError,
		UpdatedAt: s.lastUpdate(),
	}
	if s.verdict != nil {
		v := *s.verdict
		snap.Verdict = &v
	}
	return snap
}

func (s *State) lastUpdate() time.Time {
	return time.Unix(0, s.updatedAt.Load()).UTC()
}

func (s *State) touch() {
	s.updatedAt.Store(time.Now().UnixNano())
}
