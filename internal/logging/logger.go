// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder and sinks for the process logger.
type Config struct {
	Development bool     `mapstructure:"development"`
	Level       string   `mapstructure:"level"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// New builds a zap.Logger configured for development or production. File
// output paths get their parent directory created so the system log can live
// next to the other pipeline outputs.
func New(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.DisableStacktrace = false
	}
	zcfg.EncoderConfig.TimeKey = "ts"

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = level
	}
	if len(cfg.OutputPaths) > 0 {
		for _, p := range cfg.OutputPaths {
			if p == "stdout" || p == "stderr" {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		zcfg.OutputPaths = cfg.OutputPaths
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
