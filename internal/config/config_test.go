package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/pkg/council"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drey.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestLoadMinimalConfig tests that defaults fill everything but version
func TestLoadMinimalConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, "version: \"1.0\"\n"))
	require.NoError(t, err)

	pc := cfg.PolicyConfig()
	assert.Equal(t, 0.45, pc.AdmissionThreshold)
	assert.Equal(t, 3, pc.MaxConcurrent)
	assert.Equal(t, 45*time.Second, pc.DefaultTimeout)
	assert.False(t, pc.LiveSpawning, "live spawning is off unless explicitly enabled")

	assert.Equal(t, council.DefaultRingCapacity, cfg.RingCapacity())
	assert.Equal(t, council.DefaultPolicy(), cfg.CouncilPolicy())
	assert.Equal(t, 256, *cfg.ControlPlane.TerminalCacheSize)
}

// TestLoadFullConfig tests that explicit values override every default
func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `version: "1.0"
control_plane:
  admission_threshold: 0.6
  max_concurrent_streams: 5
  default_stream_timeout_ms: 10000
  live_spawning: true
  terminal_cache_size: 64
council:
  ring_capacity: 25
  fast_path_confidence: 2.0
  staleness_window_ms: 5000
  tie_epsilon: 0.1
  founder_healthy_boost: 1.2
  founder_shaky_dampen: 0.8
  failure_penalty: 0.3
`))
	require.NoError(t, err)

	pc := cfg.PolicyConfig()
	assert.Equal(t, 0.6, pc.AdmissionThreshold)
	assert.Equal(t, 5, pc.MaxConcurrent)
	assert.Equal(t, 10*time.Second, pc.DefaultTimeout)
	assert.True(t, pc.LiveSpawning)

	cp := cfg.CouncilPolicy()
	assert.Equal(t, 25, cfg.RingCapacity())
	assert.Equal(t, 2.0, cp.FastPathConfidence)
	assert.Equal(t, 5*time.Second, cp.StalenessWindow)
	assert.Equal(t, 0.1, cp.TieEpsilon)
	assert.Equal(t, 1.2, cp.FounderHealthyBoost)
	assert.Equal(t, 0.8, cp.FounderShakyDampen)
	assert.Equal(t, 0.3, cp.FailurePenalty)

	// Unset council knobs keep their defaults.
	assert.Equal(t, council.DefaultPolicy().StalenessDecay, cp.StalenessDecay)
}

// TestLoadRejectsBadValues tests the validation failure paths
func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unsupported version", "version: \"2.0\"\n"},
		{"missing version", "control_plane:\n  live_spawning: true\n"},
		{"negative threshold", "version: \"1.0\"\ncontrol_plane:\n  admission_threshold: -0.1\n"},
		{"zero concurrency", "version: \"1.0\"\ncontrol_plane:\n  max_concurrent_streams: 0\n"},
		{"zero timeout", "version: \"1.0\"\ncontrol_plane:\n  default_stream_timeout_ms: 0\n"},
		{"zero ring capacity", "version: \"1.0\"\ncouncil:\n  ring_capacity: 0\n"},
		{"penalty above one", "version: \"1.0\"\ncouncil:\n  failure_penalty: 1.5\n"},
		{"not yaml", "version: [\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

// TestLoadMissingFile tests the read failure path
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

// TestDefault tests that the built-in configuration is valid and complete
func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "1.0", cfg.Version)
	require.NotNil(t, cfg.ControlPlane)
	assert.Equal(t, 0.45, *cfg.ControlPlane.AdmissionThreshold)
	assert.False(t, cfg.ControlPlane.LiveSpawning)
}
