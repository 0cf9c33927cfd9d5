package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	iofs "io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"wafshield/internal/api"
	"wafshield/internal/artifacts"
	"wafshield/internal/config"
	"wafshield/internal/console"
	"wafshield/internal/engine"
	"wafshield/internal/input"
	"wafshield/internal/logging"
	"wafshield/internal/metrics"
	"wafshield/internal/model"
	"wafshield/internal/render"
	"wafshield/internal/session"
)

var version = "dev"

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "console":
		err = runConsole(args)
	case "scan":
		err = runScan(args)
	case "import":
		err = runImport(args)
	case "init":
		err = runInit(args)
	default:
		err = fmt.Errorf("unknown command %q (want serve, console, scan, import or init)", cmd)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "wafshield:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config file from the flag or WAFSHIELD_CONFIG.
// Environment overrides are applied to every load and reload before the
// config goes live. Without a file the defaults are used.
func loadConfig(path string) (*config.Manager, error) {
	config.LoadDotEnv()
	path = configFromEnv(path)
	if path == "" {
		cfg := config.DefaultConfig()
		if err := config.ApplyEnv(cfg); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return config.NewStaticManager(cfg), nil
	}
	mgr, err := config.NewManager(config.ResolvePath(path), config.ApplyEnv)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return mgr, nil
}

func configFromEnv(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(config.EnvConfigPath)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*engine.Engine, artifacts.Source, error) {
	src, err := artifacts.NewSource(cfg.Artifacts)
	if err != nil {
		return nil, nil, err
	}
	eng := engine.NewEngine(cfg, artifacts.NewLoader(src, logger), logger, m)
	res := eng.Warmup(ctx)
	logger.Info("artifacts loaded", "source", cfg.Artifacts.Source, "state", res.State.String())
	return eng, src, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (yaml or json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mgr, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := signalContext()
	defer cancel()

	m := metrics.New()
	eng, src, err := buildEngine(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer src.Close()

	store := session.NewStore(cfg.Session.StoreLimit)
	srv, err := api.NewServer(mgr, eng, store, m, logger, version)
	if err != nil {
		return err
	}

	go mgr.Watch(3*time.Second, func(next *config.Config) {
		eng.UpdateConfig(next)
		logger.Info("config reloaded", "path", mgr.Path())
	}, func(err error) {
		logger.Error("config reload rejected", "err", err)
	}, ctx.Done())

	httpServer := api.Start(ctx, srv)
	if httpServer == nil {
		return errors.New("api is disabled; nothing to serve")
	}
	logger.Info("wafshield started", "version", version)
	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return httpServer.Shutdown(shutdownCtx)
}

func runConsole(args []string) error {
	fs := flag.NewFlagSet("console", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (yaml or json)")
	logFile := fs.String("log", "", "write logs to this file instead of discarding them")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mgr, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg := mgr.Get()

	// stdout belongs to the screen
	out := os.Stderr
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		out = f
	} else {
		devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err == nil {
			defer devNull.Close()
			out = devNull
		}
	}
	logger := logging.NewLoggerTo(out, cfg.LogLevel)

	ctx, cancel := signalContext()
	defer cancel()

	eng, src, err := buildEngine(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer src.Close()

	st := session.New(uuid.NewString(), model.DefaultSample())
	return console.Run(ctx, console.New(st, eng))
}

// runScan classifies one sample given on the command line and prints the verdict.
func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (yaml or json)")
	asJSON := fs.Bool("json", false, "print the result as json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mgr, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger := logging.NewLoggerTo(os.Stderr, cfg.LogLevel)

	in, err := input.ParseSample(strings.Join(fs.Args(), " "), model.DefaultSample())
	if err != nil && !errors.Is(err, input.ErrEmpty) {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	eng, src, err := buildEngine(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer src.Close()

	st := session.New(uuid.NewString(), model.DefaultSample())
	scanErr := st.SetAndScan(ctx, in, eng)
	page := render.FromSnapshot(st.Snapshot(), eng.Status().State != artifacts.StateAbsent)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(page); err != nil {
			return err
		}
	} else {
		printPage(os.Stdout, page)
	}
	return scanErr
}

func printPage(w io.Writer, p render.Page) {
	fmt.Fprintf(w, "%s\n", p.Title)
	for _, f := range p.Fields {
		fmt.Fprintf(w, "  %-20s %d\n", f.Label, f.Value)
	}
	if p.Error != "" {
		fmt.Fprintf(w, "\n%s\n", p.Error)
	}
	if p.Verdict == nil {
		return
	}
	v := p.Verdict
	fmt.Fprintf(w, "\n%s\n%s\n", v.Headline, v.Message)
	fmt.Fprintf(w, "Detection Source: %s\n", v.SourceMessage)
	fmt.Fprintf(w, "%s: %s\n", v.ConfidenceLabel, v.ConfidenceText)
	fmt.Fprintf(w, "Risk Level: %s (%s)\n", v.RiskLevel, v.RiskDelta)
	fmt.Fprintf(w, "%s\n", v.ActionsIntro)
	for i, a := range v.Actions {
		fmt.Fprintf(w, "  %d. %s\n", i+1, a)
	}
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (yaml or json)")
	classifierPath := fs.String("classifier", "", "classifier artifact (json)")
	featuresPath := fs.String("features", "", "feature names artifact (json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *classifierPath == "" || *featuresPath == "" {
		return errors.New("import needs -classifier and -features")
	}
	mgr, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := signalContext()
	defer cancel()

	var store artifacts.Store
	switch cfg.Artifacts.Source {
	case config.SourceSQLite:
		store, err = artifacts.NewSQLite(cfg.Artifacts.DSN)
	case config.SourcePostgres:
		store, err = artifacts.NewPostgres(cfg.Artifacts.DSN)
	default:
		return fmt.Errorf("import needs a sqlite or postgres artifacts source, got %q", cfg.Artifacts.Source)
	}
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init artifact store: %w", err)
	}

	items := []struct {
		name   string
		path   string
		decode func([]byte) error
	}{
		{artifacts.NameClassifier, *classifierPath, func(b []byte) error { _, err := artifacts.DecodeClassifier(b); return err }},
		{artifacts.NameFeatureNames, *featuresPath, func(b []byte) error { _, err := artifacts.DecodeFeatureNames(b); return err }},
	}
	for _, it := range items {
		payload, err := os.ReadFile(it.path)
		if err != nil {
			return fmt.Errorf("read %s: %w", it.name, err)
		}
		if err := it.decode(payload); err != nil {
			return fmt.Errorf("%s is not a valid artifact: %w", it.path, err)
		}
		if err := store.Put(ctx, it.name, payload); err != nil {
			return fmt.Errorf("store %s: %w", it.name, err)
		}
		logger.Info("artifact imported", "name", it.name, "path", it.path, "bytes", len(payload))
	}
	return nil
}

// runInit writes the default config, with environment overrides applied, to
// the -config path or WAFSHIELD_CONFIG.
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", "", "file to write (.json for json, anything else yaml)")
	force := fs.Bool("force", false, "replace an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	config.LoadDotEnv()
	path := config.ResolvePath(configFromEnv(*configPath))
	if path == "" {
		path = config.ResolvePath("wafshield.yaml")
	}
	cfg := config.DefaultConfig()
	if err := config.ApplyEnv(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := config.Save(path, cfg, *force); err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return fmt.Errorf("%s already exists (use -force to replace it)", path)
		}
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintln(os.Stdout, "wrote", path)
	return nil
}
