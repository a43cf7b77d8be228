package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MatchingProfile tunes cycle discovery: search bounds, safety caps,
// scoring weights, and the shadow harness. Fields omitted from the YAML
// keep their defaults.
type MatchingProfile struct {
	MaxCycleLength    int            `yaml:"max_cycle_length" json:"max_cycle_length"`
	MaxCycles         int            `yaml:"max_cycles" json:"max_cycles"`
	MaxRuntimeMs      int            `yaml:"max_runtime_ms" json:"max_runtime_ms"`
	ProposalTTLMs     int            `yaml:"proposal_ttl_ms" json:"proposal_ttl_ms"`
	FreshnessWindowMs int            `yaml:"freshness_window_ms" json:"freshness_window_ms"`
	Weights           ScoringWeights `yaml:"weights" json:"weights"`
	ShadowRingSize    int            `yaml:"shadow_ring_size" json:"shadow_ring_size"`
}

// ScoringWeights weight the three score components. They need not sum
// to one; the score is the plain weighted sum rounded to three decimals.
type ScoringWeights struct {
	ValueBalance float64 `yaml:"value_balance" json:"value_balance"`
	Freshness    float64 `yaml:"freshness" json:"freshness"`
	Diversity    float64 `yaml:"diversity" json:"diversity"`
}

// DefaultMatchingProfile returns the built-in profile.
func DefaultMatchingProfile() MatchingProfile {
	return MatchingProfile{
		MaxCycleLength:    4,
		MaxCycles:         256,
		MaxRuntimeMs:      2000,
		ProposalTTLMs:     15 * 60 * 1000,
		FreshnessWindowMs: 24 * 60 * 60 * 1000,
		Weights: ScoringWeights{
			ValueBalance: 0.5,
			Freshness:    0.3,
			Diversity:    0.2,
		},
		ShadowRingSize: 64,
	}
}

// LoadMatchingProfile reads a profile YAML over the defaults.
func LoadMatchingProfile(path string) (*MatchingProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load matching profile: %w", err)
	}

	profile := DefaultMatchingProfile()
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse matching profile: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// MatchingProfileFromEnv loads the profile named by MATCHING_PROFILE_FILE,
// or the defaults when unset.
func MatchingProfileFromEnv() (*MatchingProfile, error) {
	path := os.Getenv("MATCHING_PROFILE_FILE")
	if path == "" {
		profile := DefaultMatchingProfile()
		return &profile, nil
	}
	return LoadMatchingProfile(path)
}

// Validate rejects profiles the matcher cannot run under.
func (p *MatchingProfile) Validate() error {
	if p.MaxCycleLength < 2 {
		return fmt.Errorf("matching profile: max_cycle_length %d, need at least 2", p.MaxCycleLength)
	}
	if p.MaxCycles <= 0 {
		return fmt.Errorf("matching profile: max_cycles must be positive")
	}
	if p.MaxRuntimeMs <= 0 {
		return fmt.Errorf("matching profile: max_runtime_ms must be positive")
	}
	if p.ProposalTTLMs <= 0 {
		return fmt.Errorf("matching profile: proposal_ttl_ms must be positive")
	}
	if p.FreshnessWindowMs <= 0 {
		return fmt.Errorf("matching profile: freshness_window_ms must be positive")
	}
	w := p.Weights
	if w.ValueBalance < 0 || w.Freshness < 0 || w.Diversity < 0 {
		return fmt.Errorf("matching profile: weights must be non-negative")
	}
	if w.ValueBalance+w.Freshness+w.Diversity <= 0 {
		return fmt.Errorf("matching profile: at least one weight must be positive")
	}
	if p.ShadowRingSize <= 0 {
		return fmt.Errorf("matching profile: shadow_ring_size must be positive")
	}
	return nil
}

// MaxRuntime returns the soft search deadline as a duration.
func (p *MatchingProfile) MaxRuntime() time.Duration {
	return time.Duration(p.MaxRuntimeMs) * time.Millisecond
}

// ProposalTTL returns how long emitted proposals stay acceptable.
func (p *MatchingProfile) ProposalTTL() time.Duration {
	return time.Duration(p.ProposalTTLMs) * time.Millisecond
}

// FreshnessWindow returns the age at which an intent's freshness
// component reaches zero.
func (p *MatchingProfile) FreshnessWindow() time.Duration {
	return time.Duration(p.FreshnessWindowMs) * time.Millisecond
}
