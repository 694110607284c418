// Package config loads the tool configuration and program descriptions from
// YAML files.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/willibrandon/ChronoCPU/pkg/emulator"
	"github.com/willibrandon/ChronoCPU/pkg/recorder"
	"github.com/willibrandon/ChronoCPU/pkg/replay"
)

// Config is the tool configuration.
type Config struct {
	Engine      string `yaml:"engine"`
	Mode        int    `yaml:"mode"`
	LogLevel    string `yaml:"log_level"`
	MaxSessions int    `yaml:"max_sessions"`
	Export      Export `yaml:"export"`
	Run         Run    `yaml:"run"`
}

// Export configures recordings written by save and record.
type Export struct {
	Compression string `yaml:"compression"`
	// IntegrityKey signs recordings with HMAC-SHA256 when set.
	IntegrityKey string `yaml:"integrity_key"`
	// EncryptionKey is a hex AES key of 16, 24 or 32 bytes.
	EncryptionKey string `yaml:"encryption_key"`
}

// Run bounds unattended execution.
type Run struct {
	MaxSteps int `yaml:"max_steps"`
	// KeyframeInterval is the number of versions between saved engine
	// contexts.
	KeyframeInterval int `yaml:"keyframe_interval"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Engine:      "unicorn",
		Mode:        int(emulator.Mode32),
		LogLevel:    "info",
		MaxSessions: 8,
		Export:      Export{Compression: recorder.DefaultCompression.String()},
		Run:         Run{MaxSteps: 100000, KeyframeInterval: replay.DefaultKeyframeInterval},
	}
}

// Load reads path over Default. Unknown keys are an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

// Parse decodes a YAML document over Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decodeStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every field that has a fixed set of values.
func (c Config) Validate() error {
	if c.Engine == "" {
		return errors.New("invalid config: engine is empty")
	}
	if _, err := c.EmulatorMode(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("invalid config: max_sessions must be positive, got %d", c.MaxSessions)
	}
	if c.Run.KeyframeInterval < 1 {
		return fmt.Errorf("invalid config: run.keyframe_interval must be positive, got %d", c.Run.KeyframeInterval)
	}
	if _, err := c.RecorderOptions(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EmulatorMode returns the configured mode.
func (c Config) EmulatorMode() (emulator.Mode, error) {
	return emulator.ParseMode(strconv.Itoa(c.Mode))
}

// Level returns the configured log level.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, err
	}
	return level, nil
}

// RecorderOptions returns the export settings as recorder options.
func (c Config) RecorderOptions() (recorder.Options, error) {
	compression, err := recorder.ParseCompression(c.Export.Compression)
	if err != nil {
		return recorder.Options{}, err
	}
	opts := []func(*recorder.Options){recorder.WithCompression(compression)}
	if c.Export.IntegrityKey != "" {
		opts = append(opts, recorder.WithIntegrityCheck([]byte(c.Export.IntegrityKey)))
	}
	if c.Export.EncryptionKey != "" {
		key, err := hex.DecodeString(c.Export.EncryptionKey)
		if err != nil {
			return recorder.Options{}, fmt.Errorf("encryption_key: %v", err)
		}
		switch len(key) {
		case 16, 24, 32:
		default:
			return recorder.Options{}, fmt.Errorf("encryption_key must be 16, 24 or 32 bytes, got %d", len(key))
		}
		opts = append(opts, recorder.WithEncryption(key))
	}
	return recorder.NewOptions(opts...), nil
}
