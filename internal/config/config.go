// Package config loads and validates drey.yml, the control-plane
// configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/drey/internal/policy"
	"github.com/dyluth/drey/pkg/council"
)

// Defaults applied when drey.yml omits a value.
const (
	defaultAdmissionThreshold = 0.45
	defaultMaxConcurrent      = 3
	defaultStreamTimeoutMs    = 45000
	defaultTerminalCacheSize  = 256
)

// DreyConfig represents the top-level drey.yml configuration.
type DreyConfig struct {
	Version      string              `yaml:"version"`
	ControlPlane *ControlPlaneConfig `yaml:"control_plane,omitempty"`
	Council      *CouncilConfig      `yaml:"council,omitempty"`
}

// ControlPlaneConfig holds the admission and lifecycle knobs.
type ControlPlaneConfig struct {
	AdmissionThreshold     *float64 `yaml:"admission_threshold,omitempty"`       // Minimum policy score for acceptance
	MaxConcurrentStreams   *int     `yaml:"max_concurrent_streams,omitempty"`    // Active-stream ceiling
	DefaultStreamTimeoutMs *int     `yaml:"default_stream_timeout_ms,omitempty"` // Per-stream deadline
	LiveSpawning           bool     `yaml:"live_spawning"`                       // false = SHADOW mode everywhere
	TerminalCacheSize      *int     `yaml:"terminal_cache_size,omitempty"`       // Bounded outcome history size
}

// CouncilConfig holds the consensus policy knobs. The founder tie-break
// values are product policy and deliberately configurable.
type CouncilConfig struct {
	RingCapacity        *int     `yaml:"ring_capacity,omitempty"`
	FastPathConfidence  *float64 `yaml:"fast_path_confidence,omitempty"`
	StalenessWindowMs   *int     `yaml:"staleness_window_ms,omitempty"`
	TieEpsilon          *float64 `yaml:"tie_epsilon,omitempty"`
	FounderHealthyBoost *float64 `yaml:"founder_healthy_boost,omitempty"`
	FounderShakyDampen  *float64 `yaml:"founder_shaky_dampen,omitempty"`
	FailurePenalty      *float64 `yaml:"failure_penalty,omitempty"`
}

// Validate performs strict validation and fills in defaults for anything
// the file omits.
func (c *DreyConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.ControlPlane == nil {
		c.ControlPlane = &ControlPlaneConfig{}
	}
	cp := c.ControlPlane

	if cp.AdmissionThreshold == nil {
		v := defaultAdmissionThreshold
		cp.AdmissionThreshold = &v
	}
	if *cp.AdmissionThreshold < 0 {
		return fmt.Errorf("control_plane.admission_threshold must be >= 0, got %g", *cp.AdmissionThreshold)
	}

	if cp.MaxConcurrentStreams == nil {
		v := defaultMaxConcurrent
		cp.MaxConcurrentStreams = &v
	}
	if *cp.MaxConcurrentStreams < 1 {
		return fmt.Errorf("control_plane.max_concurrent_streams must be >= 1, got %d", *cp.MaxConcurrentStreams)
	}

	if cp.DefaultStreamTimeoutMs == nil {
		v := defaultStreamTimeoutMs
		cp.DefaultStreamTimeoutMs = &v
	}
	if *cp.DefaultStreamTimeoutMs < 1 {
		return fmt.Errorf("control_plane.default_stream_timeout_ms must be >= 1, got %d", *cp.DefaultStreamTimeoutMs)
	}

	if cp.TerminalCacheSize == nil {
		v := defaultTerminalCacheSize
		cp.TerminalCacheSize = &v
	}
	if *cp.TerminalCacheSize < 1 {
		return fmt.Errorf("control_plane.terminal_cache_size must be >= 1, got %d", *cp.TerminalCacheSize)
	}

	if c.Council != nil {
		cc := c.Council
		if cc.RingCapacity != nil && *cc.RingCapacity < 1 {
			return fmt.Errorf("council.ring_capacity must be >= 1, got %d", *cc.RingCapacity)
		}
		if cc.TieEpsilon != nil && *cc.TieEpsilon < 0 {
			return fmt.Errorf("council.tie_epsilon must be >= 0, got %g", *cc.TieEpsilon)
		}
		if cc.FailurePenalty != nil && (*cc.FailurePenalty < 0 || *cc.FailurePenalty > 1) {
			return fmt.Errorf("council.failure_penalty must be in [0,1], got %g", *cc.FailurePenalty)
		}
	}

	return nil
}

// PolicyConfig converts the validated control-plane block into the policy
// engine's configuration.
func (c *DreyConfig) PolicyConfig() policy.Config {
	cp := c.ControlPlane
	return policy.Config{
		AdmissionThreshold: *cp.AdmissionThreshold,
		MaxConcurrent:      *cp.MaxConcurrentStreams,
		DefaultTimeout:     time.Duration(*cp.DefaultStreamTimeoutMs) * time.Millisecond,
		LiveSpawning:       cp.LiveSpawning,
	}
}

// CouncilPolicy converts the council block into consensus policy,
// starting from the defaults and overriding only what the file sets.
func (c *DreyConfig) CouncilPolicy() council.Policy {
	p := council.DefaultPolicy()
	cc := c.Council
	if cc == nil {
		return p
	}

	if cc.FastPathConfidence != nil {
		p.FastPathConfidence = *cc.FastPathConfidence
	}
	if cc.StalenessWindowMs != nil {
		p.StalenessWindow = time.Duration(*cc.StalenessWindowMs) * time.Millisecond
	}
	if cc.TieEpsilon != nil {
		p.TieEpsilon = *cc.TieEpsilon
	}
	if cc.FounderHealthyBoost != nil {
		p.FounderHealthyBoost = *cc.FounderHealthyBoost
	}
	if cc.FounderShakyDampen != nil {
		p.FounderShakyDampen = *cc.FounderShakyDampen
	}
	if cc.FailurePenalty != nil {
		p.FailurePenalty = *cc.FailurePenalty
	}
	return p
}

// RingCapacity returns the configured vote ring capacity, or the default.
func (c *DreyConfig) RingCapacity() int {
	if c.Council != nil && c.Council.RingCapacity != nil {
		return *c.Council.RingCapacity
	}
	return council.DefaultRingCapacity
}

// Load reads and validates drey.yml from the specified path.
func Load(path string) (*DreyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config DreyConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration used when no drey.yml exists.
func Default() *DreyConfig {
	cfg := &DreyConfig{Version: "1.0"}
	// Validate fills every default and cannot fail on this input.
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}
