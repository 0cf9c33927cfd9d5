package input

import (
	"errors"
	"testing"

	"wafshield/internal/model"
)

func TestParseKeyValue(t *testing.T) {
	got, err := ParseSample("bytes_in=15000 port=443 time=12", model.DefaultSample())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	want := model.TrafficSample{BytesIn: 15000, BytesOut: 2500, DstPort: 443, TimeTaken: 12}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestParseJSON(t *testing.T) {
	got, err := ParseSample(`{"BYTES_OUT": 20000, "dst_port": 22}`, model.DefaultSample())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if got.BytesOut != 20000 || got.DstPort != 22 || got.BytesIn != 500 {
		t.Fatalf("json parse mismatch: %+v", got)
	}
}

func TestParseCSV(t *testing.T) {
	got, err := ParseSample("1, 2, 3, 4", model.DefaultSample())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if got != (model.TrafficSample{BytesIn: 1, BytesOut: 2, DstPort: 3, TimeTaken: 4}) {
		t.Fatalf("csv parse mismatch: %+v", got)
	}
	got, err = ParseSample("900,,443", model.DefaultSample())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if got.BytesIn != 900 || got.BytesOut != 2500 || got.DstPort != 443 || got.TimeTaken != 45 {
		t.Fatalf("partial csv mismatch: %+v", got)
	}
	if _, err := ParseSample("1,2,3,4,5", model.DefaultSample()); err == nil {
		t.Fatalf("expected error for extra columns")
	}
}

func TestParseRejectsBadValues(t *testing.T) {
	base := model.DefaultSample()
	if _, err := ParseSample("", base); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if _, err := ParseSample("bytes_in=1.5", base); err == nil {
		t.Fatalf("expected error for fractional value")
	}
	if _, err := ParseSample(`{"bytes_in": -3}`, base); !errors.Is(err, model.ErrInvalidSample) {
		t.Fatalf("expected ErrInvalidSample, got %v", err)
	}
	if _, err := ParseSample("hello", base); err == nil {
		t.Fatalf("expected format error")
	}
}
