package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"BarOracle/internal/classifier"
	"BarOracle/internal/model"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	blobVersion  = 1
	kindLogistic = "logistic"
	blobExt      = ".msgpack"
)

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Key derives the storage key for a ticker and interval, e.g. BTC-USD/1m -> BTC_USD_1m.
func Key(ticker, interval string) string {
	t := strings.Trim(nonAlnum.ReplaceAllString(ticker, "_"), "_")
	i := strings.Trim(nonAlnum.ReplaceAllString(interval, "_"), "_")
	if i == "" {
		return t
	}
	return t + "_" + i
}

// blob is the persisted form of an Artifact.
type blob struct {
	Version    int                  `msgpack:"version"`
	ID         string               `msgpack:"id"`
	Ticker     string               `msgpack:"ticker"`
	Interval   string               `msgpack:"interval"`
	Features   []string             `msgpack:"features"`
	Kind       string               `msgpack:"kind"`
	Logistic   *classifier.Logistic `msgpack:"logistic,omitempty"`
	Importance []FeatureWeight      `msgpack:"importance,omitempty"`
	Metrics    *classifier.Metrics  `msgpack:"metrics,omitempty"`
	TrainedAt  time.Time            `msgpack:"trained_at"`
}

// Store keeps one artifact file per ticker and interval under a directory.
type Store struct {
	dir string
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the file path for a ticker and interval.
func (s *Store) Path(ticker, interval string) string {
	return filepath.Join(s.dir, Key(ticker, interval)+blobExt)
}

// Save writes a to disk, replacing any previous artifact for the same key.
// The file is written to a temp name and renamed so readers never observe a
// partial blob.
func (s *Store) Save(a *Artifact) error {
	b := blob{
		Version:    blobVersion,
		ID:         a.ID,
		Ticker:     a.Ticker,
		Interval:   a.Interval,
		Features:   a.Features,
		Importance: a.Importance,
		Metrics:    a.Metrics,
		TrainedAt:  a.TrainedAt,
	}
	switch c := a.Classifier.(type) {
	case *classifier.Logistic:
		b.Kind = kindLogistic
		b.Logistic = c
	default:
		return fmt.Errorf("save artifact %s: unsupported classifier %T", a.Ticker, a.Classifier)
	}

	data, err := msgpack.Marshal(&b)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	path := s.Path(a.Ticker, a.Interval)
	tmp, err := os.CreateTemp(s.dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// Load reads the artifact for a ticker and interval. A missing file yields
// model.ErrArtifactMissing.
func (s *Store) Load(ticker, interval string) (*Artifact, error) {
	path := s.Path(ticker, interval)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", Key(ticker, interval), model.ErrArtifactMissing)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return Decode(data)
}

// Decode parses a persisted artifact blob.
func Decode(data []byte) (*Artifact, error) {
	var b blob
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if b.Version != blobVersion {
		return nil, fmt.Errorf("artifact %s: unsupported version %d", b.Ticker, b.Version)
	}

	var c classifier.Classifier
	switch b.Kind {
	case kindLogistic:
		if b.Logistic == nil {
			return nil, fmt.Errorf("artifact %s: missing logistic parameters", b.Ticker)
		}
		if err := b.Logistic.Validate(); err != nil {
			return nil, fmt.Errorf("artifact %s: %w", b.Ticker, err)
		}
		c = b.Logistic
	default:
		return nil, fmt.Errorf("artifact %s: unknown classifier kind %q", b.Ticker, b.Kind)
	}

	a, err := New(b.Ticker, b.Interval, b.Features, c, Meta{
		Importance: b.Importance,
		Metrics:    b.Metrics,
		TrainedAt:  b.TrainedAt,
	})
	if err != nil {
		return nil, err
	}
	a.ID = b.ID
	return a, nil
}
