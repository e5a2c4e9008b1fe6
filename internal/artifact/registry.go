package artifact

import (
	"errors"
	"sync"

	"BarOracle/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Loader reads a persisted artifact.
type Loader interface {
	Load(ticker, interval string) (*Artifact, error)
}

// Registry maps symbol and interval to the currently loaded Artifact.
// Artifacts are loaded lazily and swapped whole on retrain, so a caller
// holding an *Artifact keeps a consistent model for its whole inference.
type Registry struct {
	loader   Loader
	fallback string
	log      zerolog.Logger

	mu     sync.RWMutex
	loaded map[string]*Artifact
	group  singleflight.Group
}

// NewRegistry creates a registry. fallback, when set, names a ticker whose
// artifact is used for symbols that have none of their own.
func NewRegistry(loader Loader, fallback string, log zerolog.Logger) *Registry {
	return &Registry{
		loader:   loader,
		fallback: fallback,
		log:      log.With().Str("component", "registry").Logger(),
		loaded:   make(map[string]*Artifact),
	}
}

// Get returns the artifact for symbol, loading it on first use.
func (r *Registry) Get(symbol, interval string) (*Artifact, error) {
	a, err := r.get(symbol, interval)
	if err == nil || !errors.Is(err, model.ErrArtifactMissing) || r.fallback == "" || r.fallback == symbol {
		return a, err
	}
	fb, fbErr := r.get(r.fallback, interval)
	if fbErr != nil {
		return nil, err
	}
	r.log.Debug().Str("symbol", symbol).Str("fallback", r.fallback).Msg("using fallback model")
	return fb, nil
}

func (r *Registry) get(ticker, interval string) (*Artifact, error) {
	key := Key(ticker, interval)
	r.mu.RLock()
	a, ok := r.loaded[key]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		loaded, err := r.loader.Load(ticker, interval)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		// a concurrent Put wins over a stale disk read
		if current, ok := r.loaded[key]; ok {
			loaded = current
		} else {
			r.loaded[key] = loaded
		}
		r.mu.Unlock()
		r.log.Info().Str("ticker", ticker).Str("interval", interval).Str("artifact", loaded.ID).
			Strs("features", loaded.Features).Msg("model loaded")
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

// Put replaces the artifact for a.Ticker and a.Interval.
func (r *Registry) Put(a *Artifact) {
	key := Key(a.Ticker, a.Interval)
	r.mu.Lock()
	prev := r.loaded[key]
	r.loaded[key] = a
	r.mu.Unlock()

	ev := r.log.Info().Str("ticker", a.Ticker).Str("interval", a.Interval).Str("artifact", a.ID)
	if prev != nil {
		ev = ev.Str("replaced", prev.ID)
	}
	ev.Msg("model swapped")
}
