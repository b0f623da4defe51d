package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"collabknit/internal/palette"
)

// Config is the server configuration. Values come from the optional YAML
// file, then the environment, then command line flags.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Palette is the color rotation, one [r,g,b] per entry.
	Palette palette.Palette `yaml:"palette"`
	// QueueSize bounds each session's outbound queue.
	QueueSize int `yaml:"queue_size"`
	// Capacity caps the number of stitches in the textile. 0 = unbounded.
	Capacity int `yaml:"capacity"`

	// StaticDir serves the front-end from disk instead of the embedded copy.
	StaticDir string `yaml:"static_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MDNS struct {
		Enabled  bool   `yaml:"enabled"`
		Service  string `yaml:"service"`
		Instance string `yaml:"instance"`
	} `yaml:"mdns"`

	Redis struct {
		Addr    string `yaml:"addr"`
		Channel string `yaml:"channel"`
	} `yaml:"redis"`

	DatabaseURL string `yaml:"database_url"`
}

const (
	DefaultPort         = 8080
	DefaultQueueSize    = 256
	DefaultService      = "_collabknit._tcp"
	DefaultRedisChannel = "knit:deltas"
)

func Default() *Config {
	c := &Config{
		Port:      DefaultPort,
		Palette:   append(palette.Palette(nil), palette.Default...),
		QueueSize: DefaultQueueSize,
		LogLevel:  "info",
		LogFormat: "text",
	}
	c.MDNS.Service = DefaultService
	c.Redis.Channel = DefaultRedisChannel
	return c
}

// ReadConfig loads file over the defaults.
func ReadConfig(file string) (*Config, error) {
	c := Default()
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	return c, nil
}

// Load reads file when it is not empty, then applies environment overrides.
func Load(file string) (*Config, error) {
	c := Default()
	if file != "" {
		var err error
		if c, err = ReadConfig(file); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Port = p
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := lookup("DATABASE_URL"); ok {
		c.DatabaseURL = v
	}
	if v, ok := lookup("KNIT_PALETTE"); ok && v != "" {
		p, err := palette.ParsePalette(v)
		if err != nil {
			return fmt.Errorf("KNIT_PALETTE: %w", err)
		}
		c.Palette = p
	}
	if v, ok := lookup("KNIT_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if len(c.Palette) == 0 {
		return palette.ErrEmptyPalette
	}
	if c.QueueSize < 2 {
		return fmt.Errorf("queue_size %d: must be at least 2", c.QueueSize)
	}
	if c.Capacity < 0 {
		return fmt.Errorf("capacity %d: must not be negative", c.Capacity)
	}
	switch c.LogFormat {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("log_format %q: want text, json or logfmt", c.LogFormat)
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
