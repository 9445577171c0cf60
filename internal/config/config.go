// Package config loads process configuration from defaults, an optional
// YAML file, and TASKGRID_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultCPUExecutors = 4

	envCPUExecutors = "TASKGRID_CPU_EXECUTORS"
	envGPUExecutors = "TASKGRID_GPU_EXECUTORS"
	envLogLevel     = "TASKGRID_LOG_LEVEL"
	envTraceDB      = "TASKGRID_TRACE_DB"
	envInspectAddr  = "TASKGRID_INSPECT_ADDR"
)

// Config holds application configuration.
type Config struct {
	CPUExecutors int
	GPUExecutors int
	LogLevel     slog.Level

	// TraceDB is the path of the launch trace database. Empty selects an
	// in-memory trace that vanishes with the process.
	TraceDB string

	// InspectAddr is the listen address of the inspection server. Empty
	// disables it.
	InspectAddr string
}

func defaults() Config {
	return Config{
		CPUExecutors: defaultCPUExecutors,
		LogLevel:     slog.LevelInfo,
	}
}

// Load reads configuration from environment variables with sensible
// defaults. Numeric variables that fail to parse are ignored.
func Load() Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads configuration from a YAML file, then applies environment
// overrides on top. Unknown keys in the file are an error; an empty file
// is the same as no file.
func LoadFile(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	fc.apply(&cfg)

	cfg.applyEnv()
	return cfg, nil
}

// fileConfig is the YAML shape of Config. The log level is a string here,
// parsed with the same rules as the environment variable.
type fileConfig struct {
	CPUExecutors int    `yaml:"cpu_executors"`
	GPUExecutors int    `yaml:"gpu_executors"`
	LogLevel     string `yaml:"log_level"`
	TraceDB      string `yaml:"trace_db"`
	InspectAddr  string `yaml:"inspect_addr"`
}

func (fc fileConfig) apply(cfg *Config) {
	if fc.CPUExecutors > 0 {
		cfg.CPUExecutors = fc.CPUExecutors
	}
	if fc.GPUExecutors > 0 {
		cfg.GPUExecutors = fc.GPUExecutors
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.TraceDB != "" {
		cfg.TraceDB = fc.TraceDB
	}
	if fc.InspectAddr != "" {
		cfg.InspectAddr = fc.InspectAddr
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envCPUExecutors); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.CPUExecutors = n
		}
	}
	if v := os.Getenv(envGPUExecutors); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.GPUExecutors = n
		}
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envTraceDB); v != "" {
		c.TraceDB = v
	}
	if v := os.Getenv(envInspectAddr); v != "" {
		c.InspectAddr = v
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
