// Package config loads and validates the firewall's YAML configuration:
// listen/upstream endpoints, the function-code policy, rate limit, and
// the logging and metrics sinks. Defaults are applied first, then the
// file, then environment variable overrides, matching the layering the
// rest of the corpus uses for its own YAML-backed services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete, validated firewall configuration.
type Config struct {
	ListenHost string `yaml:"listen_host"`
	ListenPort int    `yaml:"listen_port"`

	PLCHost string `yaml:"plc_host"`
	PLCPort int    `yaml:"plc_port"`

	ConnectionTimeoutS int `yaml:"connection_timeout_s"`

	AllowedFunctionCodes []int    `yaml:"allowed_function_codes"`
	BlockedFunctionCodes []int    `yaml:"blocked_function_codes"`
	WriteAllowedIPs      []string `yaml:"write_allowed_ips"`
	RateLimitRPS         int      `yaml:"rate_limit_rps"`

	LogFilePath     string `yaml:"log_file_path"`
	LogRotateBytes  int64  `yaml:"log_rotate_bytes"`
	LogBackupCount  int    `yaml:"log_backup_count"`
	LogLevel        string `yaml:"log_level"`
	MetricsListen   string `yaml:"metrics_listen"`
}

// Load reads path, layers it over the shipped defaults, applies
// environment variable overrides, and validates the result. A missing
// file is not an error: the defaults alone are a valid configuration.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through with defaults
	default:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns the configuration shipped with the system: allow
// reads, block writes, no write exemptions, 100 req/s/source, bind
// 0.0.0.0:502, upstream 127.0.0.1:5020.
func defaults() *Config {
	return &Config{
		ListenHost:           "0.0.0.0",
		ListenPort:           502,
		PLCHost:              "127.0.0.1",
		PLCPort:              5020,
		ConnectionTimeoutS:   5,
		AllowedFunctionCodes: []int{0x01, 0x02, 0x03, 0x04},
		BlockedFunctionCodes: []int{0x05, 0x06, 0x0F, 0x10},
		WriteAllowedIPs:      nil,
		RateLimitRPS:         100,
		LogFilePath:          "modbusguard_transactions.csv",
		LogRotateBytes:       10 * 1024 * 1024,
		LogBackupCount:       5,
		LogLevel:             "info",
		MetricsListen:        "",
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MODBUSGUARD_LISTEN_HOST"); v != "" {
		c.ListenHost = v
	}
	if v := os.Getenv("MODBUSGUARD_LISTEN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ListenPort = n
		}
	}
	if v := os.Getenv("MODBUSGUARD_PLC_HOST"); v != "" {
		c.PLCHost = v
	}
	if v := os.Getenv("MODBUSGUARD_PLC_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PLCPort = n
		}
	}
	if v := os.Getenv("MODBUSGUARD_RATE_LIMIT_RPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimitRPS = n
		}
	}
	if v := os.Getenv("MODBUSGUARD_WRITE_ALLOWED_IPS"); v != "" {
		c.WriteAllowedIPs = strings.Split(v, ",")
	}
	if v := os.Getenv("MODBUSGUARD_LOG_FILE_PATH"); v != "" {
		c.LogFilePath = v
	}
	if v := os.Getenv("MODBUSGUARD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MODBUSGUARD_METRICS_LISTEN"); v != "" {
		c.MetricsListen = v
	}
}

// validate checks the fields that, left wrong, would either prevent
// startup or silently defeat the policy (e.g. a function code entered
// out of byte range).
func (c *Config) validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port %d out of range", c.ListenPort)
	}
	if c.PLCHost == "" {
		return fmt.Errorf("plc_host is required")
	}
	if c.PLCPort <= 0 || c.PLCPort > 65535 {
		return fmt.Errorf("plc_port %d out of range", c.PLCPort)
	}
	if c.ConnectionTimeoutS <= 0 {
		return fmt.Errorf("connection_timeout_s must be positive")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("rate_limit_rps must be positive")
	}
	for _, fc := range c.AllowedFunctionCodes {
		if fc < 0 || fc > 0xFF {
			return fmt.Errorf("allowed_function_codes: %d is not a valid byte", fc)
		}
	}
	for _, fc := range c.BlockedFunctionCodes {
		if fc < 0 || fc > 0xFF {
			return fmt.Errorf("blocked_function_codes: %d is not a valid byte", fc)
		}
	}
	if c.LogRotateBytes < 0 {
		return fmt.Errorf("log_rotate_bytes must not be negative")
	}
	if c.LogBackupCount < 0 {
		return fmt.Errorf("log_backup_count must not be negative")
	}
	return nil
}

// FunctionCodeBytes narrows an []int config field to []byte, dropping
// the YAML-friendly int representation at the config/policy boundary.
func FunctionCodeBytes(codes []int) []byte {
	out := make([]byte, len(codes))
	for i, c := range codes {
		out[i] = byte(c)
	}
	return out
}
