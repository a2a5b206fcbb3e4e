// Package config loads the daemon's YAML configuration file and applies the
// defaults from spec.md §6.1.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Ports       []PortConfig      `yaml:"ports"`
	Output      OutputConfig      `yaml:"output"`
	Logging     LoggingConfig     `yaml:"logging"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// PortConfig is one UDP port a reader task binds to.
type PortConfig struct {
	Port          int  `yaml:"port"`
	DropDetection bool `yaml:"drop_detection"`
}

// OutputConfig describes the rolling current/archive file pair the writer
// maintains.
type OutputConfig struct {
	SaveIntervalSecs int    `yaml:"save_interval_secs"`
	BufferCount      int    `yaml:"buffer_count"`
	MaxDropSilent    uint32 `yaml:"max_drop_silent"`
	CurrentPath      string `yaml:"current_path"`
	SavedPrefix      string `yaml:"saved_prefix"`
	CurrentMode      uint32 `yaml:"current_mode"`
	SavedMode        uint32 `yaml:"saved_mode"`
}

// LoggingConfig contains application logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	ConsoleOutput  bool   `yaml:"console_output"`
	ConsoleLevel   string `yaml:"console_level"`
	ConsoleFormat  string `yaml:"console_format"`
	FileOutput     string `yaml:"file_output"` // empty disables file logging
	FileLevel      string `yaml:"file_level"`
	SyslogFacility string `yaml:"syslog_facility"` // empty disables syslog, mirrors c.logfac in the reference
}

// DiagnosticsConfig controls the optional PCAP capture of rejected
// datagrams, used to investigate malformed-input incidents without
// touching the core pipeline.
type DiagnosticsConfig struct {
	RejectPCAP RejectPCAPConfig `yaml:"reject_pcap"`
}

// RejectPCAPConfig describes the rotation-by-size PCAP sink for rejected
// datagrams.
type RejectPCAPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

const (
	defaultPort             = 2056
	defaultSaveIntervalSecs = 300
	defaultBufferCount      = 500
	defaultCurrentPath      = "/netflow/flows.current"
	defaultSavedPrefix      = "/netflow/prefetch/flows."
	defaultMode             = 0660
)

// Load reads and parses the configuration file, applying spec.md §6.1's
// defaults for any field left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.Ports) == 0 {
		cfg.Ports = []PortConfig{{Port: defaultPort, DropDetection: true}}
	}
	if cfg.Output.SaveIntervalSecs == 0 {
		cfg.Output.SaveIntervalSecs = defaultSaveIntervalSecs
	}
	if cfg.Output.BufferCount == 0 {
		cfg.Output.BufferCount = defaultBufferCount
	}
	if cfg.Output.CurrentPath == "" {
		cfg.Output.CurrentPath = defaultCurrentPath
	}
	if cfg.Output.SavedPrefix == "" {
		cfg.Output.SavedPrefix = defaultSavedPrefix
	}
	if cfg.Output.CurrentMode == 0 {
		cfg.Output.CurrentMode = defaultMode
	}
	if cfg.Output.SavedMode == 0 {
		cfg.Output.SavedMode = defaultMode
	}
}
