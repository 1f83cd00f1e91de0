package featurestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

func noopCompute(bars []fs.Bar, windowDays int) (fs.ComputeResult, error) {
	return fs.ComputeResult{Value: 1}, nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	err := r.Register(fs.FeatureDefinition{Name: "sma_20", Version: 1, TTLClass: fs.TTLDaily, Compute: noopCompute})
	require.NoError(t, err)

	def, err := r.Lookup("sma_20", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)
}

func TestRegistry_LookupLatestVersion(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(fs.FeatureDefinition{Name: "rsi_14", Version: 1, Compute: noopCompute}))
	require.NoError(t, r.Register(fs.FeatureDefinition{Name: "rsi_14", Version: 2, Compute: noopCompute}))

	def, err := r.Lookup("rsi_14", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, def.Version)

	def, err = r.Lookup("rsi_14", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)
}

func TestRegistry_UnknownFeature(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("nope", 0)
	assert.ErrorIs(t, err, fs.ErrUnknownFeature)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(fs.FeatureDefinition{Name: "x", Version: 1, Compute: noopCompute}))
	err := r.Register(fs.FeatureDefinition{Name: "x", Version: 1, Compute: noopCompute})
	assert.Error(t, err)
}

func TestRegistry_SealedRejectsRegister(t *testing.T) {
	r := NewRegistry()
	r.Seal()
	err := r.Register(fs.FeatureDefinition{Name: "x", Version: 1, Compute: noopCompute})
	assert.Error(t, err)
}

func TestRegistry_MissingComputeRejected(t *testing.T) {
	r := NewRegistry()
	err := r.Register(fs.FeatureDefinition{Name: "x", Version: 1})
	assert.Error(t, err)
}

func TestNewStandardRegistry(t *testing.T) {
	r, err := NewStandardRegistry()
	require.NoError(t, err)
	assert.Equal(t, 9, r.Count())

	def, err := r.Lookup("rsi_14", 0)
	require.NoError(t, err)
	assert.Equal(t, fs.TTLDaily, def.TTLClass)
	assert.Equal(t, 14, def.WindowDays)
}
