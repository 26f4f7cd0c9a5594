package common

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// LogConfig is the logs: section shared by the vrtctl and vrtd config files.
type LogConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

// ApplyDefaults fills the rotation limits left at zero.
func (c *LogConfig) ApplyDefaults() {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 25
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 7
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 5
	}
}

// DecodeYAMLFile decodes the file at path into v, rejecting keys v does not
// declare. An empty file leaves v untouched.
func DecodeYAMLFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}

// PathResolver returns a func that resolves paths found in the config file
// at configPath against that file's directory. Blank input stays blank.
func PathResolver(configPath string) func(string) string {
	base := filepath.Dir(configPath)
	return func(p string) string {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
			return ""
		case filepath.IsAbs(p) || configPath == "":
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(base, p))
	}
}

// OpenRotatingLog tees the package logger and the std log package to console
// and to a lumberjack-rotated file named name in cfg.Directory.
func OpenRotatingLog(cfg LogConfig, name string, console io.Writer) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, errors.Wrap(err, "create log dir")
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, name),
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	out := io.MultiWriter(console, rotator)
	SetLogOutput(out)
	log.SetOutput(out)
	return rotator, nil
}
