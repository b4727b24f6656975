/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package monitor

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/globalprobe/ntpmon/ntp/probe"
)

// DefaultSanityFilter excludes measurements no real server would produce
const DefaultSanityFilter = "abs(offset) > 100 || abs(delay) > 100"

// defaultEnvFile is loaded when no env file is given explicitly, if it exists
const defaultEnvFile = ".env"

// TargetConfig is a statically configured server
type TargetConfig struct {
	Address string `yaml:"address"`
	Owner   string `yaml:"owner"`
	DNSName string `yaml:"dns_name"`
}

// PostgresConfig describes the relational store
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	// Targets makes the store the target source
	Targets bool `yaml:"targets"`
	// Results makes the store a result sink
	Results bool `yaml:"results"`
}

// Enabled tells if anything uses the store
func (c *PostgresConfig) Enabled() bool {
	return c.Targets || c.Results
}

// ConnString builds pgx connection URL
func (c *PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{c.SSLMode}}.Encode()
	}
	return u.String()
}

// Validate PostgresConfig is sane
func (c *PostgresConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("host must be specified")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535")
	}
	if c.Database == "" {
		return fmt.Errorf("database must be specified")
	}
	return nil
}

// InfluxConfig describes the time-series store
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled tells if results go to InfluxDB
func (c *InfluxConfig) Enabled() bool {
	return c.URL != ""
}

// Validate InfluxConfig is sane
func (c *InfluxConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Org == "" || c.Bucket == "" {
		return fmt.Errorf("org and bucket must be specified")
	}
	return nil
}

// Config specifies monitor run options
type Config struct {
	Site            string         `yaml:"site"`
	Window          time.Duration  `yaml:"window"`
	Jitter          float64        `yaml:"jitter"`
	Timeout         time.Duration  `yaml:"timeout"`
	Retries         int            `yaml:"retries"`
	NTPVersion      uint8          `yaml:"ntp_version"`
	Workers         int            `yaml:"workers"`
	DSCP            int            `yaml:"dscp"`
	MonitoringPort  int            `yaml:"monitoring_port"`
	LogLevel        string         `yaml:"log_level"`
	SinkErrorsFatal bool           `yaml:"sink_errors_fatal"`
	SanityFilter    string         `yaml:"sanity_filter"`
	Targets         []TargetConfig `yaml:"targets"`
	Postgres        PostgresConfig `yaml:"postgres"`
	Influx          InfluxConfig   `yaml:"influx"`
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Window:          2 * time.Minute,
		Jitter:          0.2,
		Timeout:         3 * time.Second,
		Retries:         3,
		NTPVersion:      3,
		Workers:         1,
		LogLevel:        "info",
		SinkErrorsFatal: false,
		SanityFilter:    DefaultSanityFilter,
		Postgres: PostgresConfig{
			Port:    5432,
			SSLMode: "prefer",
		},
	}
}

// Validate config is sane
func (c *Config) Validate() error {
	if c.Site == "" {
		return fmt.Errorf("site must be specified")
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be greater than zero")
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1)")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be greater than zero")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must be 0 or positive")
	}
	if worst := c.Timeout * time.Duration(c.Retries+1); worst >= c.Window-c.Variance() {
		return fmt.Errorf("timeout*(retries+1) = %v does not fit into shortest window %v", worst, c.Window-c.Variance())
	}
	if c.NTPVersion != 3 && c.NTPVersion != 4 {
		return fmt.Errorf("ntp_version must be 3 or 4")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("dscp must be in 0..63")
	}
	if c.MonitoringPort < 0 {
		return fmt.Errorf("monitoring_port must be 0 or positive")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.SanityFilter == "" {
		return fmt.Errorf("sanity_filter must not be empty")
	}
	if c.Postgres.Targets && len(c.Targets) > 0 {
		return fmt.Errorf("targets must come either from config or from postgres, not both")
	}
	if !c.Postgres.Targets && len(c.Targets) == 0 {
		return fmt.Errorf("at least one target must be specified")
	}
	for _, t := range c.Targets {
		if _, err := netip.ParseAddr(t.Address); err != nil {
			return fmt.Errorf("invalid target address %q: %w", t.Address, err)
		}
	}
	if err := c.Postgres.Validate(); err != nil {
		return fmt.Errorf("invalid postgres config: %w", err)
	}
	if err := c.Influx.Validate(); err != nil {
		return fmt.Errorf("invalid influx config: %w", err)
	}
	return nil
}

// Variance is the maximum window deviation from its base length
func (c *Config) Variance() time.Duration {
	return time.Duration(float64(c.Window) * c.Jitter)
}

// ClientConfig derives probe client options
func (c *Config) ClientConfig() *probe.ClientConfig {
	return &probe.ClientConfig{
		Version: c.NTPVersion,
		Timeout: c.Timeout,
		Retries: c.Retries,
		Port:    probe.DefaultClientConfig().Port,
		DSCP:    c.DSCP,
	}
}

// StaticTargets converts configured targets
func (c *Config) StaticTargets() StaticTargets {
	targets := make(StaticTargets, 0, len(c.Targets))
	for _, t := range c.Targets {
		targets = append(targets, probe.Target{Address: t.Address, OwnerID: t.Owner, DNSName: t.DNSName})
	}
	return targets
}

// envRef matches a value which is nothing but an environment variable reference
var envRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// expandEnvRef replaces ${VAR} with its value. Anything else is kept literally, $ included.
func expandEnvRef(v *string) {
	if m := envRef.FindStringSubmatch(*v); m != nil {
		*v = os.Getenv(m[1])
	}
}

// expandEnv resolves environment references in connection settings
func (c *Config) expandEnv() {
	for _, v := range []*string{
		&c.Postgres.Host, &c.Postgres.User, &c.Postgres.Password, &c.Postgres.Database,
		&c.Influx.URL, &c.Influx.Token, &c.Influx.Org, &c.Influx.Bucket,
	} {
		expandEnvRef(v)
	}
}

// ReadConfig reads config from the file.
// Postgres and Influx connection settings may be given as ${VAR} to be taken from environment.
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(cData, c)
	if err != nil {
		return nil, err
	}
	c.expandEnv()

	return c, nil
}

// LoadEnv loads variables from env file without overriding ones already set.
// Missing default file is fine, missing explicit one is not.
func LoadEnv(envFile string) error {
	if envFile != "" {
		return godotenv.Load(envFile)
	}
	err := godotenv.Load(defaultEnvFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// PrepareConfig prepares final version of config based on defaults, CLI flags and on-disk config, and validates resulting config
func PrepareConfig(cfgPath string, envFile string, site string, targets []string, window time.Duration, workers int, setFlags map[string]bool) (*Config, error) {
	if err := LoadEnv(envFile); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}
	if len(targets) > 0 {
		warn("targets")
		cfg.Postgres.Targets = false
		cfg.Targets = make([]TargetConfig, 0, len(targets))
		for _, t := range targets {
			cfg.Targets = append(cfg.Targets, TargetConfig{Address: t})
		}
	}
	if setFlags["site"] {
		warn("site")
		cfg.Site = site
	}
	if setFlags["window"] {
		warn("window")
		cfg.Window = window
	}
	if setFlags["workers"] {
		warn("workers")
		cfg.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	log.Debugf("config: site=%s window=%v jitter=%.2f workers=%d targets=%d", cfg.Site, cfg.Window, cfg.Jitter, cfg.Workers, len(cfg.Targets))
	return cfg, nil
}
