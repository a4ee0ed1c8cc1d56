// Package config loads the endpoint's tunables (§6) from YAML, following
// the same functional-options-over-defaults pattern the teacher package
// uses for its Responder configuration, generalized to a data struct so
// it can also be loaded from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tunables holds the process-wide limits and defaults named in the core
// design's external interfaces section.
type Tunables struct {
	MaxModules           int           `yaml:"max_modules"`
	MaxTransports        int           `yaml:"max_transports"`
	MaxTimerEntries      int           `yaml:"max_timer_entries"`
	MaxTimedOutPerPoll   int           `yaml:"max_timed_out_per_poll"`
	MaxNetEvents         int           `yaml:"max_net_events"`
	PoolInitialSize      int           `yaml:"pool_initial_size"`
	PoolIncrementSize    int           `yaml:"pool_increment_size"`
	DefaultSubExpiry     time.Duration `yaml:"default_sub_expiry"`
	MinSubExpiry         time.Duration `yaml:"min_sub_expiry"`
	MaxURLLength         int           `yaml:"max_url_length"`
	MaxObjectName        int           `yaml:"max_object_name"`
	MaxPacketLen         int           `yaml:"max_packet_len"`
	TransportIdleGrace   time.Duration `yaml:"transport_idle_grace"`
}

// Default returns the tunables used when the caller supplies no
// configuration file, matching the defaults named in the core design.
func Default() Tunables {
	return Tunables{
		MaxModules:         32,
		MaxTransports:      256,
		MaxTimerEntries:    4096,
		MaxTimedOutPerPoll: 10,
		MaxNetEvents:       50,
		PoolInitialSize:    4096,
		PoolIncrementSize:  4096,
		DefaultSubExpiry:   600 * time.Second,
		MinSubExpiry:       5 * time.Second,
		MaxURLLength:       512,
		MaxObjectName:      32,
		MaxPacketLen:       65535,
		TransportIdleGrace: 30 * time.Second,
	}
}

// Load reads tunables from a YAML file, starting from Default() so the
// file only needs to override what it cares about.
func Load(path string) (Tunables, error) {
	t := Default()

	f, err := os.Open(path)
	if err != nil {
		return Tunables{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&t); err != nil {
		return Tunables{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return t, nil
}
