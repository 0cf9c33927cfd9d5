package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"wafshield/internal/config"
)

var ErrNotFound = errors.New("artifact not found")

// Source reads named artifacts from storage. A missing artifact is reported
// as ErrNotFound.
type Source interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
	Close() error
}

// Store is a Source that can also be written to.
type Store interface {
	Source
	Init(ctx context.Context) error
	Put(ctx context.Context, name string, payload []byte) error
}

func NewSource(cfg config.ArtifactsConfig) (Source, error) {
	switch cfg.Source {
	case config.SourceFile, "":
		return NewFileSource(cfg.ModelPath, cfg.FeaturesPath), nil
	case config.SourceSQLite:
		return NewSQLite(cfg.DSN)
	case config.SourcePostgres:
		return NewPostgres(cfg.DSN)
	case config.SourceKafka:
		return NewKafka(cfg.Kafka), nil
	default:
		return nil, fmt.Errorf("unsupported artifacts source %q", cfg.Source)
	}
}

type fileSource struct {
	paths map[string]string
}

func NewFileSource(modelPath, featuresPath string) Source {
	return &fileSource{paths: map[string]string{
		NameClassifier:   config.ResolvePath(modelPath),
		NameFeatureNames: config.ResolvePath(featuresPath),
	}}
}

func (s *fileSource) Fetch(_ context.Context, name string) ([]byte, error) {
	path, ok := s.paths[name]
	if !ok || path == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return data, nil
}

func (s *fileSource) Close() error {
	return nil
}

type baseStore struct {
	db         *sql.DB
	fetchQuery string
	putQuery   string
	schema     []string
}

func (b *baseStore) Init(ctx context.Context) error {
	for _, stmt := range b.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) Fetch(ctx context.Context, name string) ([]byte, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx, b.fetchQuery, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (b *baseStore) Put(ctx context.Context, name string, payload []byte) error {
	if name == "" || len(payload) == 0 {
		return errors.New("artifact name and payload required")
	}
	_, err := b.db.ExecContext(ctx, b.putQuery, name, payload, time.Now().UTC())
	return err
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
