package input

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"wafshield/internal/model"
)

var (
	ErrEmpty = errors.New("empty input")

	reKV = regexp.MustCompile(`(?i)([a-z_]+)\s*[=:]\s*([^\s,;]+)`)
)

// ParseSample reads one traffic sample from a line of text. Accepted forms:
//
//	{"bytes_in": 15000, "dst_port": 443}
//	bytes_in=15000 bytes_out=200 port=443 time=12
//	500,2500,80,45
//
// Fields the line does not mention keep their value from base.
func ParseSample(line string, base model.TrafficSample) (model.TrafficSample, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return base, ErrEmpty
	}
	var (
		kv  map[string]string
		err error
	)
	switch {
	case strings.HasPrefix(trim, "{"):
		kv, err = parseJSON(trim)
	case reKV.MatchString(trim):
		kv = parseKV(trim)
	case strings.Contains(trim, ","):
		kv, err = parseCSV(trim)
	default:
		return base, fmt.Errorf("unrecognized sample format: %q", trim)
	}
	if err != nil {
		return base, err
	}
	return apply(base, kv)
}

func parseJSON(line string) (map[string]string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		if f, ok := v.(float64); ok {
			out[strings.ToLower(k)] = strconv.FormatFloat(f, 'f', -1, 64)
			continue
		}
		out[strings.ToLower(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func parseKV(line string) map[string]string {
	out := map[string]string{}
	for _, m := range reKV.FindAllStringSubmatch(line, -1) {
		out[strings.ToLower(m[1])] = m[2]
	}
	return out
}

// parseCSV takes the four fields in form order.
func parseCSV(line string) (map[string]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) > 4 {
		return nil, fmt.Errorf("expected at most 4 values, got %d", len(record))
	}
	keys := []string{"bytes_in", "bytes_out", "dst_port", "time_taken"}
	out := map[string]string{}
	for i, v := range record {
		if v = strings.TrimSpace(v); v != "" {
			out[keys[i]] = v
		}
	}
	return out, nil
}

func apply(base model.TrafficSample, kv map[string]string) (model.TrafficSample, error) {
	out := base
	fields := []struct {
		name    string
		aliases []string
		dst     *int64
	}{
		{"bytes_in", []string{"bytes_in", "in", "bytesin", "received"}, &out.BytesIn},
		{"bytes_out", []string{"bytes_out", "out", "bytesout", "sent"}, &out.BytesOut},
		{"dst_port", []string{"dst_port", "port", "dport", "destination_port"}, &out.DstPort},
		{"time_taken", []string{"time_taken", "time", "latency", "duration_ms"}, &out.TimeTaken},
	}
	for _, f := range fields {
		raw := firstNonEmpty(kv, f.aliases...)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return base, fmt.Errorf("%s must be a whole number, got %q", f.name, raw)
		}
		*f.dst = n
	}
	if err := out.Validate(); err != nil {
		return base, err
	}
	return out, nil
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
