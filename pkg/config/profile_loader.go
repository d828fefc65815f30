package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// profileDoc is the on-disk shape of a scheduling profile. Intervals are
// plain seconds; zero or absent fields keep the defaults.
type profileDoc struct {
	PollIntervalSeconds         int `yaml:"poll_interval_seconds"`
	BackoffCapSeconds           int `yaml:"backoff_cap_seconds"`
	BackoffJitterSeconds        int `yaml:"backoff_jitter_seconds"`
	SweepIntervalSeconds        int `yaml:"sweep_interval_seconds"`
	PaymentBatchIntervalSeconds int `yaml:"payment_batch_interval_seconds"`
}

// LoadSchedulingProfile reads a YAML scheduling profile, filling unset
// fields from the defaults.
func LoadSchedulingProfile(path string) (SchedulingProfile, error) {
	profile := DefaultSchedulingProfile()

	data, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("load scheduling profile %q: %w", path, err)
	}
	var doc profileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return profile, fmt.Errorf("parse scheduling profile %q: %w", path, err)
	}

	if doc.PollIntervalSeconds > 0 {
		profile.PollInterval = time.Duration(doc.PollIntervalSeconds) * time.Second
	}
	if doc.BackoffCapSeconds > 0 {
		profile.BackoffCap = time.Duration(doc.BackoffCapSeconds) * time.Second
	}
	if doc.BackoffJitterSeconds > 0 {
		profile.BackoffJitter = time.Duration(doc.BackoffJitterSeconds) * time.Second
	}
	if doc.SweepIntervalSeconds > 0 {
		profile.SweepInterval = time.Duration(doc.SweepIntervalSeconds) * time.Second
	}
	if doc.PaymentBatchIntervalSeconds > 0 {
		profile.PaymentBatchInterval = time.Duration(doc.PaymentBatchIntervalSeconds) * time.Second
	}
	return profile, nil
}
