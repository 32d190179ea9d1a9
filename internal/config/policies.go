package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PoliciesPath is the default location of the maintenance policy file,
// read by cmd/edge-monitor at startup and handed to internal/maintenance.
const PoliciesPath = "config/policies.yaml"

// rawTTLPolicyEntry mirrors one ttl_policies entry; TTL is a duration
// string ("1h", "10m") rather than a yaml.v3-native time.Duration,
// following the same "duration fields are parsed strings" convention
// the teacher's TuningConfig.BufferTimeout/FlushInterval use.
type rawTTLPolicyEntry struct {
	Key string `yaml:"key"`
	TTL string `yaml:"ttl"`
}

type rawPolicies struct {
	TTLPolicies []rawTTLPolicyEntry `yaml:"ttl_policies"`
	Pruning     struct {
		CaptureDirs              []string `yaml:"capture_dirs"`
		ImageMaxAge              string   `yaml:"image_max_age"`
		EmergencyDiskFreePercent float64  `yaml:"emergency_disk_free_percent"`
	} `yaml:"pruning"`
	Compaction struct {
		Interval string `yaml:"interval"`
	} `yaml:"compaction"`
}

// TTLPolicyEntry is one broker key-to-TTL mapping, parsed.
type TTLPolicyEntry struct {
	Key string
	TTL time.Duration
}

// Policies is the maintenance operations policy, loaded from YAML the
// way the teacher loads its JSON tuning defaults (its now-removed
// config.LoadTuningConfig) — one file, parsed once at startup, same
// shape, different format and schema for this domain.
type Policies struct {
	TTLPolicies              []TTLPolicyEntry
	CaptureDirs              []string
	ImageMaxAge              time.Duration
	EmergencyDiskFreePercent float64
	CompactionInterval       time.Duration
}

// LoadPolicies reads, parses, and validates the policy file at path.
func LoadPolicies(path string) (Policies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policies{}, err
	}
	var raw rawPolicies
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Policies{}, err
	}

	var p Policies
	for _, entry := range raw.TTLPolicies {
		ttl, err := time.ParseDuration(entry.TTL)
		if err != nil {
			return Policies{}, fmt.Errorf("ttl_policies[%s].ttl: %w", entry.Key, err)
		}
		p.TTLPolicies = append(p.TTLPolicies, TTLPolicyEntry{Key: entry.Key, TTL: ttl})
	}

	p.CaptureDirs = raw.Pruning.CaptureDirs
	p.EmergencyDiskFreePercent = raw.Pruning.EmergencyDiskFreePercent
	if raw.Pruning.ImageMaxAge != "" {
		d, err := time.ParseDuration(raw.Pruning.ImageMaxAge)
		if err != nil {
			return Policies{}, fmt.Errorf("pruning.image_max_age: %w", err)
		}
		p.ImageMaxAge = d
	}
	if raw.Compaction.Interval != "" {
		d, err := time.ParseDuration(raw.Compaction.Interval)
		if err != nil {
			return Policies{}, fmt.Errorf("compaction.interval: %w", err)
		}
		p.CompactionInterval = d
	}
	return p, nil
}
