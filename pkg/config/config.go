// Package config holds the runtime configuration of the oncpu agent.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srodi/oncpu-bpf/pkg/table"
	"github.com/srodi/oncpu-bpf/pkg/types"
)

const (
	DefaultInterval   = 5 * time.Second
	DefaultObjectPath = "/usr/lib/oncpu/oncpu.bpf.o"
	DefaultCgroupRoot = "/sys/fs/cgroup"
	DefaultRingBuffer = 16 << 20
)

// Output formats.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// Config is the agent configuration. Zero fields in a config file keep their
// defaults.
type Config struct {
	Interval     time.Duration `yaml:"interval"`
	TopK         int           `yaml:"topk"`
	HideKernel   bool          `yaml:"hide_kernel"`
	CgroupFilter string        `yaml:"cgroup_filter"`
	Output       string        `yaml:"output"`
	// ResetEachInterval clears the on-CPU table after every report instead of
	// differencing cumulative snapshots.
	ResetEachInterval bool `yaml:"reset_each_interval"`

	Capacity       int    `yaml:"capacity"`
	OverflowPolicy string `yaml:"overflow_policy"`
	TrackExits     bool   `yaml:"track_exits"`

	ObjectPath     string `yaml:"object_path"`
	RingBufferSize uint32 `yaml:"ring_buffer_size"`
	Workers        int    `yaml:"workers"`
	CgroupRoot     string `yaml:"cgroup_root"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Interval:       DefaultInterval,
		TopK:           types.DefaultTopK,
		HideKernel:     true,
		Output:         OutputTable,
		Capacity:       table.DefaultCapacity,
		OverflowPolicy: table.Reject.String(),
		TrackExits:     true,
		ObjectPath:     DefaultObjectPath,
		RingBufferSize: DefaultRingBuffer,
		CgroupRoot:     DefaultCgroupRoot,
		LogLevel:       "info",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Normalize trims free-form fields.
func (c *Config) Normalize() {
	c.CgroupFilter = strings.ToLower(strings.TrimSpace(c.CgroupFilter))
	c.Output = strings.ToLower(strings.TrimSpace(c.Output))
	c.OverflowPolicy = strings.ToLower(strings.TrimSpace(c.OverflowPolicy))
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %v", c.Interval))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("topk must be positive, got %d", c.TopK))
	}
	if c.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capacity must be positive, got %d", c.Capacity))
	}
	if _, err := table.ParseOverflowPolicy(c.OverflowPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Output != OutputTable && c.Output != OutputJSON {
		errs = append(errs, fmt.Errorf("output must be %q or %q, got %q", OutputTable, OutputJSON, c.Output))
	}
	if c.ObjectPath == "" {
		errs = append(errs, errors.New("object path is required"))
	}
	if c.RingBufferSize != 0 && c.RingBufferSize&(c.RingBufferSize-1) != 0 {
		errs = append(errs, fmt.Errorf("ring buffer size must be a power of two, got %d", c.RingBufferSize))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	return errors.Join(errs...)
}

// TableOptions returns the options shared by both accounting tables.
func (c Config) TableOptions() (table.Options, error) {
	policy, err := table.ParseOverflowPolicy(c.OverflowPolicy)
	if err != nil {
		return table.Options{}, err
	}
	return table.Options{Capacity: c.Capacity, Policy: policy}, nil
}
