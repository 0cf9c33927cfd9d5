package model

import (
	"errors"
	"fmt"
)

var ErrInvalidSample = errors.New("invalid traffic sample")

type Source string

const (
	SourceModel Source = "model"
	SourceRule  Source = "rule"
)

const (
	DefaultBytesIn   int64 = 500
	DefaultBytesOut  int64 = 2500
	DefaultDstPort   int64 = 80
	DefaultTimeTaken int64 = 45
)

type TrafficSample struct {
	BytesIn   int64 `json:"bytes_in" yaml:"bytes_in"`
	BytesOut  int64 `json:"bytes_out" yaml:"bytes_out"`
	DstPort   int64 `json:"dst_port" yaml:"dst_port"`
	TimeTaken int64 `json:"time_taken" yaml:"time_taken"`
}

func DefaultSample() TrafficSample {
	return TrafficSample{
		BytesIn:   DefaultBytesIn,
		BytesOut:  DefaultBytesOut,
		DstPort:   DefaultDstPort,
		TimeTaken: DefaultTimeTaken,
	}
}

func (s TrafficSample) Validate() error {
	switch {
	case s.BytesIn < 0:
		return fmt.Errorf("%w: bytes_in must be >= 0", ErrInvalidSample)
	case s.BytesOut < 0:
		return fmt.Errorf("%w: bytes_out must be >= 0", ErrInvalidSample)
	case s.DstPort < 0:
		return fmt.Errorf("%w: dst_port must be >= 0", ErrInvalidSample)
	case s.TimeTaken < 0:
		return fmt.Errorf("%w: time_taken must be >= 0", ErrInvalidSample)
	}
	return nil
}

type Verdict struct {
	IsSuspicious bool    `json:"is_suspicious"`
	Confidence   float64 `json:"confidence"`
	Source       Source  `json:"source"`
}

// FeatureRow holds one value per declared model feature, in declared order.
type FeatureRow struct {
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
}

func (r FeatureRow) Len() int {
	return len(r.Names)
}

func (r FeatureRow) Get(name string) (float64, bool) {
	for i, n := range r.Names {
		if n == name {
			return r.Values[i], true
		}
	}
	return 0, false
}
