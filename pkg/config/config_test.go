package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, 30, c.MaxSteps)
	assert.True(t, c.ParallelToolCalls)
	assert.Equal(t, 8, c.MaxParallelToolCalls)
	assert.Equal(t, int64(60000), c.TimeoutPerToolMS)
	assert.Equal(t, int64(120000), c.TimeoutPerStepMS)
	assert.Nil(t, c.TimeoutPerRunMS)
	assert.True(t, c.Stream)
	assert.Equal(t, CheckpointManual, c.CheckpointStrategy)
	assert.Equal(t, 1024, c.EventQueueSize)
	assert.Equal(t, 0, c.MaxRetries)
	require.NoError(t, c.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	c := Default()
	c.MaxSteps = 0
	assert.Error(t, c.Validate())

	c = Default()
	c.CheckpointStrategy = "bogus"
	assert.Error(t, c.Validate())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_steps: 5\nstream: false\n"), 0o644))

	c, err := LoadYAML(path)
	require.NoError(t, err)
	assert.Equal(t, 5, c.MaxSteps)
	assert.False(t, c.Stream)
	assert.Equal(t, 8, c.MaxParallelToolCalls) // unset field keeps the default
}

func TestDispatchConvertsFields(t *testing.T) {
	c := Default()
	d := c.Dispatch()
	assert.True(t, d.ParallelToolCalls)
	assert.Equal(t, int64(8), d.MaxParallelToolCalls)
}
