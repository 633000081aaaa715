package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger = log.New(os.Stderr, "[paramgate] ", log.LstdFlags|log.Lmicroseconds)
)

// LogConfig describes the rotating log file used by the CLI.
type LogConfig struct {
	Directory  string `yaml:"directory"`
	FileName   string `yaml:"fileName"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

func Logf(format string, args ...interface{}) {
	logger.Printf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}

// SetLogOutput redirects the package logger.
func SetLogOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	logger.SetOutput(w)
}

// SetupLogging sends log output to stderr and a lumberjack-rotated file in
// cfg.Directory. An empty directory keeps stderr only. The returned closer
// releases the log file.
func SetupLogging(cfg LogConfig) (io.Closer, error) {
	if cfg.Directory == "" {
		return nopCloser{}, nil
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := cfg.FileName
	if name == "" {
		name = "paramctl.log"
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 25
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 7
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, name),
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
