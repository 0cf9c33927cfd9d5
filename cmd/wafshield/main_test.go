package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wafshield/internal/artifacts"
	"wafshield/internal/config"
	"wafshield/internal/model"
	"wafshield/internal/render"
)

const (
	testClassifier = "../../internal/artifacts/testdata/waf_rf_classifier.json"
	testFeatures   = "../../internal/artifacts/testdata/model_feature_columns.json"
)

func TestImportThenLoadFromSQLite(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "import.db")
	t.Setenv(config.EnvArtifactsSource, "sqlite")
	t.Setenv(config.EnvArtifactsDSN, dsn)

	if err := runImport([]string{"-classifier", testClassifier, "-features", testFeatures}); err != nil {
		t.Fatalf("import: %v", err)
	}

	store, err := artifacts.NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	res := artifacts.NewLoader(store, nil).Load(context.Background())
	if !res.Available() {
		t.Fatalf("imported artifacts should load: %v", res.Err)
	}
	if len(res.Artifacts.FeatureNames) != 5 {
		t.Fatalf("features: %v", res.Artifacts.FeatureNames)
	}
}

func TestImportRejectsFileSource(t *testing.T) {
	t.Setenv(config.EnvArtifactsSource, "file")
	err := runImport([]string{"-classifier", testClassifier, "-features", testFeatures})
	if err == nil || !strings.Contains(err.Error(), "sqlite or postgres") {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestImportRejectsInvalidArtifact(t *testing.T) {
	t.Setenv(config.EnvArtifactsSource, "sqlite")
	t.Setenv(config.EnvArtifactsDSN, "file:"+filepath.Join(t.TempDir(), "bad.db"))
	// the feature list is not a classifier
	err := runImport([]string{"-classifier", testFeatures, "-features", testFeatures})
	if err == nil || !strings.Contains(err.Error(), "not a valid artifact") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestPrintPage(t *testing.T) {
	var buf bytes.Buffer
	printPage(&buf, render.Page{
		Title:  render.Title,
		Fields: render.Fields(model.DefaultSample()),
		Verdict: &render.Verdict{
			Headline:        "TRAFFIC IS SAFE",
			SourceMessage:   render.SourceModelMessage,
			ConfidenceLabel: "Safety Confidence",
			ConfidenceText:  "90.00%",
			Actions:         []string{"a", "b"},
		},
	})
	out := buf.String()
	for _, want := range []string{render.Title, "Bytes Received", "TRAFFIC IS SAFE", "Safety Confidence: 90.00%", "  2. b"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestInitWritesLoadableConfig(t *testing.T) {
	t.Setenv(config.EnvAPIAddr, "127.0.0.1:9100")
	path := filepath.Join(t.TempDir(), "wafshield.yaml")
	if err := runInit([]string{"-config", path}); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.API.Addr != "127.0.0.1:9100" || cfg.Detection.VolumeThreshold != 10000 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	err = runInit([]string{"-config", path})
	if err == nil || !strings.Contains(err.Error(), "-force") {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}
	if err := runInit([]string{"-config", path, "-force"}); err != nil {
		t.Fatalf("init -force: %v", err)
	}
	if cfg, _ := config.Load(path); cfg.LogLevel != "info" {
		t.Fatalf("force did not replace the file")
	}
}
