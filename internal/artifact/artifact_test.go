package artifact

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"BarOracle/internal/classifier"
	"BarOracle/internal/features"
	"BarOracle/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func momentumModel(t *testing.T, ticker string) *Artifact {
	t.Helper()
	c := &classifier.Logistic{
		Weights: []float64{2, 0.5},
		Means:   []float64{0, 0},
		Scales:  []float64{0.001, 0.001},
	}
	a, err := New(ticker, "1m", []string{features.Returns1m, features.Returns2m}, c, Meta{
		Importance: []FeatureWeight{{features.Returns1m, 0.8}, {features.Returns2m, 0.2}},
		Metrics:    &classifier.Metrics{Samples: 10, Accuracy: 0.6},
	})
	require.NoError(t, err)
	return a
}

func TestNew_Validates(t *testing.T) {
	c := &classifier.Logistic{Weights: []float64{1}, Means: []float64{0}, Scales: []float64{1}}
	_, err := New("", "1m", []string{features.Returns1m}, c, Meta{})
	assert.Error(t, err)
	_, err = New("BTC-USD", "1m", nil, c, Meta{})
	assert.Error(t, err)
	_, err = New("BTC-USD", "1m", []string{features.Returns1m, features.Returns2m}, c, Meta{})
	assert.Error(t, err, "width mismatch")
	_, err = New("BTC-USD", "1m", []string{"Close_Lag1"}, c, Meta{})
	assert.Error(t, err)

	a, err := New("BTC-USD", "1m", []string{features.Returns1m}, c, Meta{})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.TrainedAt.IsZero())
}

func TestNew_CopiesFeatureList(t *testing.T) {
	feats := []string{features.Returns1m}
	c := &classifier.Logistic{Weights: []float64{1}, Means: []float64{0}, Scales: []float64{1}}
	a, err := New("BTC-USD", "1m", feats, c, Meta{})
	require.NoError(t, err)
	feats[0] = features.RSI14
	assert.Equal(t, features.Returns1m, a.Features[0])
}

func TestInfer_ConfidenceBounds(t *testing.T) {
	a := momentumModel(t, "BTC-USD")
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		row := features.Row{
			features.Returns1m: rng.NormFloat64() * 0.01,
			features.Returns2m: rng.NormFloat64() * 0.01,
		}
		inf, err := a.Infer(row)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, inf.Confidence, 50.0)
		assert.LessOrEqual(t, inf.Confidence, 100.0)
		assert.Contains(t, []int{0, 1}, inf.Direction)
	}
}

func TestInfer_Direction(t *testing.T) {
	a := momentumModel(t, "BTC-USD")
	up, err := a.Infer(features.Row{features.Returns1m: 0.001, features.Returns2m: 0.002})
	require.NoError(t, err)
	assert.Equal(t, model.DirectionRises, up.Direction)
	assert.Greater(t, up.Confidence, 50.0)

	down, err := a.Infer(features.Row{features.Returns1m: -0.001, features.Returns2m: -0.002})
	require.NoError(t, err)
	assert.Equal(t, model.DirectionFalls, down.Direction)
}

func TestInfer_MissingFeatureIsContractViolation(t *testing.T) {
	a := momentumModel(t, "ETH-USD")
	_, err := a.Infer(features.Row{features.Returns1m: 0.001})
	var contract *model.FeatureContractError
	require.ErrorAs(t, err, &contract)
	assert.Equal(t, "ETH-USD", contract.Ticker)
	assert.Equal(t, []string{features.Returns2m}, contract.Missing)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "BTC_USD_1m", Key("BTC-USD", "1m"))
	assert.Equal(t, "BTC_USD_5m", Key("BTC/USD", "5m"))
	assert.Equal(t, "GSPC_1d", Key("^GSPC", "1d"))
	assert.NotEqual(t, Key("BTC-USD", "1m"), Key("BTC-USD", "5m"))
	assert.NotEqual(t, Key("BTC-USD", "1m"), Key("ETH-USD", "1m"))
}

func TestStore_SaveLoad(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	a := momentumModel(t, "BTC-USD")
	require.NoError(t, store.Save(a))
	assert.FileExists(t, store.Path("BTC-USD", "1m"))

	got, err := store.Load("BTC-USD", "1m")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Features, got.Features)
	assert.Equal(t, a.Importance, got.Importance)
	assert.Equal(t, a.Metrics, got.Metrics)
	assert.True(t, a.TrainedAt.Equal(got.TrainedAt))

	row := features.Row{features.Returns1m: 0.0004, features.Returns2m: -0.0001}
	want, _ := a.Infer(row)
	have, err := got.Infer(row)
	require.NoError(t, err)
	assert.Equal(t, want, have)
}

func TestStore_LoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Load("DOGE-USD", "1m")
	assert.ErrorIs(t, err, model.ErrArtifactMissing)
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not msgpack"))
	assert.Error(t, err)
}

type countingLoader struct {
	calls     atomic.Int32
	artifacts map[string]*Artifact
}

func (l *countingLoader) Load(ticker, interval string) (*Artifact, error) {
	l.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	if a, ok := l.artifacts[Key(ticker, interval)]; ok {
		return a, nil
	}
	return nil, model.ErrArtifactMissing
}

func TestRegistry_LazyLoadOnce(t *testing.T) {
	loader := &countingLoader{artifacts: map[string]*Artifact{"BTC_USD_1m": momentumModel(t, "BTC-USD")}}
	reg := NewRegistry(loader, "", zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := reg.Get("BTC-USD", "1m")
			assert.NoError(t, err)
			assert.NotNil(t, a)
		}()
	}
	wg.Wait()
	_, err := reg.Get("BTC-USD", "1m")
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestRegistry_PutSwapsWholeArtifact(t *testing.T) {
	first := momentumModel(t, "BTC-USD")
	loader := &countingLoader{artifacts: map[string]*Artifact{"BTC_USD_1m": first}}
	reg := NewRegistry(loader, "", zerolog.Nop())

	held, err := reg.Get("BTC-USD", "1m")
	require.NoError(t, err)

	second := momentumModel(t, "BTC-USD")
	reg.Put(second)

	now, err := reg.Get("BTC-USD", "1m")
	require.NoError(t, err)
	assert.Equal(t, second.ID, now.ID)
	assert.Equal(t, first.ID, held.ID, "in-flight holder keeps the old artifact")
}

func TestRegistry_Fallback(t *testing.T) {
	loader := &countingLoader{artifacts: map[string]*Artifact{"BTC_USD_1m": momentumModel(t, "BTC-USD")}}

	reg := NewRegistry(loader, "BTC-USD", zerolog.Nop())
	a, err := reg.Get("ETH-USD", "1m")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", a.Ticker)

	noFallback := NewRegistry(loader, "", zerolog.Nop())
	_, err = noFallback.Get("ETH-USD", "1m")
	assert.True(t, errors.Is(err, model.ErrArtifactMissing))
}
