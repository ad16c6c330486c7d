// Package config loads the supervisor's YAML configuration: the cluster
// map, maintainer variant map, container/kernel maps, and top-level
// runtime settings, read with os.ReadFile and gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cybergis/compute-supervisor/internal/types"
	"gopkg.in/yaml.v3"
)

// RedisConfig holds connection settings for the queue/secretstore/
// resultcache Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// MySQLConfig holds the relational store's DSN.
type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

// Config is the top-level supervisor configuration.
type Config struct {
	QueueConsumePeriod time.Duration                       `yaml:"queue_consume_time_period_in_seconds"`
	MaintainTick       time.Duration                       `yaml:"maintain_tick_period_in_seconds"`
	ShutdownDeadline   time.Duration                       `yaml:"shutdown_deadline_in_seconds"`
	Redis              RedisConfig                         `yaml:"redis"`
	MySQL              MySQLConfig                         `yaml:"mysql"`
	GlobusClientID     string                              `yaml:"globus_client_id"`
	GlobusClientSecret string                              `yaml:"globus_client_secret"`
	GlobusTokenURL     string                              `yaml:"globus_token_url"`
	GlobusTransferAPI  string                              `yaml:"globus_transfer_api"`
	HPCs               map[string]types.HPCConfig          `yaml:"hpcs"`
	Maintainers        map[string]types.MaintainerConfig   `yaml:"maintainers"`
	Containers         map[string]types.ContainerConfig    `yaml:"containers"`
	Kernels            map[string]types.KernelConfig       `yaml:"kernels"`
}

// rawConfig mirrors Config but with plain-int/string duration fields, so
// the YAML document can use bare seconds instead of Go duration strings.
type rawConfig struct {
	QueueConsumePeriodSeconds int                               `yaml:"queue_consume_time_period_in_seconds"`
	MaintainTickSeconds       int                               `yaml:"maintain_tick_period_in_seconds"`
	ShutdownDeadlineSeconds   int                               `yaml:"shutdown_deadline_in_seconds"`
	Redis                     RedisConfig                       `yaml:"redis"`
	MySQL                     MySQLConfig                       `yaml:"mysql"`
	GlobusClientID            string                            `yaml:"globus_client_id"`
	GlobusClientSecret        string                            `yaml:"globus_client_secret"`
	GlobusTokenURL            string                            `yaml:"globus_token_url"`
	GlobusTransferAPI         string                            `yaml:"globus_transfer_api"`
	HPCs                      map[string]types.HPCConfig        `yaml:"hpcs"`
	Maintainers               map[string]types.MaintainerConfig `yaml:"maintainers"`
	Containers                map[string]types.ContainerConfig  `yaml:"containers"`
	Kernels                   map[string]types.KernelConfig     `yaml:"kernels"`
}

// defaultQueueConsumePeriod is the admission loop's fallback tick period.
const defaultQueueConsumePeriod = 5 * time.Second

// defaultMaintainTick is the fallback cooperative-yield period for a
// running job's maintain loop.
const defaultMaintainTick = 3 * time.Second

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := &Config{
		QueueConsumePeriod: seconds(raw.QueueConsumePeriodSeconds, defaultQueueConsumePeriod),
		MaintainTick:       seconds(raw.MaintainTickSeconds, defaultMaintainTick),
		ShutdownDeadline:   seconds(raw.ShutdownDeadlineSeconds, 0),
		Redis:              raw.Redis,
		MySQL:              raw.MySQL,
		GlobusClientID:     raw.GlobusClientID,
		GlobusClientSecret: raw.GlobusClientSecret,
		GlobusTokenURL:     raw.GlobusTokenURL,
		GlobusTransferAPI:  raw.GlobusTransferAPI,
		HPCs:               raw.HPCs,
		Maintainers:        raw.Maintainers,
		Containers:         raw.Containers,
		Kernels:            raw.Kernels,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// Validate rejects a config with no clusters, a cluster missing its root
// path or with a negative job_pool_capacity, or a maintainer variant
// whose default_hpc is not a key of HPCs.
func (c *Config) Validate() error {
	if len(c.HPCs) == 0 {
		return fmt.Errorf("no hpcs configured")
	}
	for name, hpc := range c.HPCs {
		if hpc.RootPath == "" {
			return fmt.Errorf("hpc %q: root_path is required", name)
		}
		if hpc.JobPoolCapacity < 0 {
			return fmt.Errorf("hpc %q: job_pool_capacity must not be negative", name)
		}
	}
	for name, m := range c.Maintainers {
		if _, ok := c.HPCs[m.DefaultHPC]; !ok {
			return fmt.Errorf("maintainer %q: default_hpc %q is not configured", name, m.DefaultHPC)
		}
	}
	return nil
}
