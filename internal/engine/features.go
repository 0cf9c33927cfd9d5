package engine

import (
	"errors"
	"fmt"

	"wafshield/internal/model"
)

var ErrDuplicateFeature = errors.New("duplicate feature name")

// sampleFeatures is the fixed table of model feature names the sample fills in.
// The trained model calls the latency column "time", not "time_taken".
var sampleFeatures = map[string]func(model.TrafficSample) int64{
	"bytes_in":  func(s model.TrafficSample) int64 { return s.BytesIn },
	"bytes_out": func(s model.TrafficSample) int64 { return s.BytesOut },
	"dst_port":  func(s model.TrafficSample) int64 { return s.DstPort },
	"time":      func(s model.TrafficSample) int64 { return s.TimeTaken },
}

// BuildRow returns one value per declared feature name; names outside the
// table stay zero.
func BuildRow(names []string, sample model.TrafficSample) (model.FeatureRow, error) {
	row := model.FeatureRow{
		Names:  make([]string, len(names)),
		Values: make([]float64, len(names)),
	}
	seen := make(map[string]struct{}, len(names))
	for i, name := range names {
		if _, dup := seen[name]; dup {
			return model.FeatureRow{}, fmt.Errorf("%w: %q", ErrDuplicateFeature, name)
		}
		seen[name] = struct{}{}
		row.Names[i] = name
		if get, ok := sampleFeatures[name]; ok {
			row.Values[i] = float64(get(sample))
		}
	}
	return row, nil
}
