package featurestore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

func TestRegistryTTLSanity_StandardRegistryHasNoAnomalies(t *testing.T) {
	r, err := NewStandardRegistry()
	require.NoError(t, err)

	job := NewRegistryTTLSanity(r, Config{}, zerolog.Nop())
	assert.Equal(t, "registry_ttl_sanity", job.Name())
	assert.NoError(t, job.Run(context.Background()))
}

func TestRegistryTTLSanity_UnmappedTTLClassFallsBackToDaily(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(fs.FeatureDefinition{
		Name: "mystery", Version: 1, TTLClass: fs.TTLClass("unmapped"), Compute: noopCompute,
	}))
	r.Seal()

	job := NewRegistryTTLSanity(r, Config{}, zerolog.Nop())
	assert.Equal(t, job.cfg.TTLDaily, job.cfg.ttlFor(fs.TTLClass("unmapped")))
	assert.NoError(t, job.Run(context.Background()))
}

func TestRegistryTTLSanity_StaticClassResolvesToConfiguredMax(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(fs.FeatureDefinition{
		Name: "sector_code", Version: 1, TTLClass: fs.TTLStatic, Compute: noopCompute,
	}))
	r.Seal()

	job := NewRegistryTTLSanity(r, Config{TTLStaticMax: time.Minute}, zerolog.Nop())
	assert.Equal(t, time.Minute, job.cfg.ttlFor(fs.TTLStatic))
	assert.NoError(t, job.Run(context.Background()))
}
