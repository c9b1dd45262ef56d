package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	// DefaultDialTimeout is used when neither the config file nor the
	// command line specify a dial timeout.
	DefaultDialTimeout = 10 * time.Second
	// DefaultMaxStringLen is the default maximum length of string
	// variables read from the target.
	DefaultMaxStringLen = 256
	// DefaultMaxArrayValues is the default maximum number of elements
	// read from arrays and slices.
	DefaultMaxArrayValues = 64
)

// Config defines all configuration options available to be set through
// the config file.
type Config struct {
	// DialTimeout is the maximum time spent connecting to the debug
	// server.
	DialTimeout *time.Duration `yaml:"dial-timeout,omitempty"`

	// MaxReactions caps the number of reaction commands running at the
	// same time. Zero or unset means no limit.
	MaxReactions *int `yaml:"max-reactions,omitempty"`

	// MaxStringLen is the maximum string length read for each variable
	// dumped on a breakpoint hit.
	MaxStringLen *int `yaml:"max-string-len,omitempty"`
	// MaxArrayValues is the maximum number of array items read for each
	// variable.
	MaxArrayValues *int `yaml:"max-array-values,omitempty"`

	// Log, LogOutput and LogDest mirror the --log, --log-output and
	// --log-dest flags.
	Log       bool   `yaml:"log"`
	LogOutput string `yaml:"log-output,omitempty"`
	LogDest   string `yaml:"log-dest,omitempty"`
}

// LoadConfig reads the configuration file at path. An empty path returns
// the default configuration.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open config file: %v", err)
	}
	defer f.Close()
	return readConfig(f)
}

func readConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	if c.DialTimeout != nil && *c.DialTimeout <= 0 {
		return nil, fmt.Errorf("dial-timeout must be positive")
	}
	if c.MaxReactions != nil && *c.MaxReactions < 0 {
		return nil, fmt.Errorf("max-reactions must not be negative")
	}
	return &c, nil
}

// GetDialTimeout returns the configured dial timeout or the default.
func (c *Config) GetDialTimeout() time.Duration {
	if c.DialTimeout == nil {
		return DefaultDialTimeout
	}
	return *c.DialTimeout
}

// GetMaxReactions returns the configured reaction cap, 0 if unlimited.
func (c *Config) GetMaxReactions() int {
	if c.MaxReactions == nil {
		return 0
	}
	return *c.MaxReactions
}

// GetMaxStringLen returns the configured maximum string length or the
// default.
func (c *Config) GetMaxStringLen() int {
	if c.MaxStringLen == nil {
		return DefaultMaxStringLen
	}
	return *c.MaxStringLen
}

// GetMaxArrayValues returns the configured maximum array length or the
// default.
func (c *Config) GetMaxArrayValues() int {
	if c.MaxArrayValues == nil {
		return DefaultMaxArrayValues
	}
	return *c.MaxArrayValues
}

// WriteDefaultConfig writes a commented configuration file listing every
// option with its default value.
func WriteDefaultConfig(w io.Writer) error {
	_, err := io.WriteString(w,
		`# Configuration file for onbreak.

# Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Maximum time spent connecting to the debug server.
# dial-timeout: 10s

# Maximum number of reaction commands running at the same time, 0 means
# no limit. Hits arriving while the limit is reached do not launch the
# command.
# max-reactions: 0

# Maximum loaded string length.
# max-string-len: 256

# Maximum number of elements loaded from an array.
# max-array-values: 64

# Logging, see 'onbreak help log'.
# log: false
# log-output: eventloop
# log-dest: /tmp/onbreak.log
`)
	return err
}
