// Package config loads server settings from defaults, an optional
// wasmserve.yaml, and command-line flags, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is read from the working directory when -config is not given.
const DefaultFile = "wasmserve.yaml"

// Cache policy modes.
const (
	CacheOff     = "off"
	CacheNoCache = "no-cache"
	CacheSmart   = "smart"
)

// Log formats.
const (
	LogText = "text"
	LogJSON = "json"
)

type Config struct {
	Host string `yaml:"host"` // empty binds all interfaces
	Port int    `yaml:"port"`
	Root string `yaml:"root"` // document root

	Gzip  bool   `yaml:"gzip"`
	ETag  bool   `yaml:"etag"`
	Watch bool   `yaml:"watch"`
	Cache string `yaml:"cache"`
	CORP  string `yaml:"corp"` // Cross-Origin-Resource-Policy, empty disables it

	Debounce        time.Duration `yaml:"debounce"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	LogFormat string `yaml:"logFormat"`
	Quiet     bool   `yaml:"quiet"`

	// MimeTypes adds extension overrides on top of the built-in table.
	MimeTypes map[string]string `yaml:"mimeTypes"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Host:            "",
		Port:            8000,
		Root:            ".",
		Cache:           CacheOff,
		Debounce:        300 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
		LogFormat:       LogText,
	}
}

// Load parses args, merges the config file and returns a validated Config.
// flag.ErrHelp is returned (wrapped) when -h was requested.
func Load(args []string, output io.Writer) (*Config, error) {
	d := Default()

	fs := flag.NewFlagSet("wasmserve", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	configPath := fs.String("config", "", "Path to a YAML config file (default ./"+DefaultFile+" if present)")
	host := fs.String("host", d.Host, "The host/IP to bind to (empty for all interfaces)")
	port := fs.Int("port", d.Port, "The port to listen on")
	root := fs.String("root", d.Root, "Directory to serve")
	gzip := fs.Bool("gzip", d.Gzip, "Compress responses for clients that accept gzip")
	etag := fs.Bool("etag", d.ETag, "Send content-hash ETags for files")
	watch := fs.Bool("watch", d.Watch, "Watch the root and push reload events on /__events")
	cache := fs.String("cache", d.Cache, "Cache-Control policy: off, no-cache or smart")
	logFormat := fs.String("log-format", d.LogFormat, "Log format: text or json")
	quiet := fs.Bool("quiet", d.Quiet, "Disable the access log")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := d
	path, required := *configPath, set["config"]
	if !required {
		path = DefaultFile
	}
	if err := cfg.loadFile(path, required); err != nil {
		return nil, err
	}

	if set["host"] {
		cfg.Host = *host
	}
	if set["port"] {
		cfg.Port = *port
	}
	if set["root"] {
		cfg.Root = *root
	}
	if set["gzip"] {
		cfg.Gzip = *gzip
	}
	if set["etag"] {
		cfg.ETag = *etag
	}
	if set["watch"] {
		cfg.Watch = *watch
	}
	if set["cache"] {
		cfg.Cache = *cache
	}
	if set["log-format"] {
		cfg.LogFormat = *logFormat
	}
	if set["quiet"] {
		cfg.Quiet = *quiet
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects unknown modes and clamps timings into sane bounds.
func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.New("root must not be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}

	switch c.Cache {
	case "":
		c.Cache = CacheOff
	case CacheOff, CacheNoCache, CacheSmart:
	default:
		return fmt.Errorf("unknown cache policy %q", c.Cache)
	}

	switch c.LogFormat {
	case "":
		c.LogFormat = LogText
	case LogText, LogJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}

	switch c.CORP {
	case "", "same-origin", "same-site", "cross-origin":
	default:
		return fmt.Errorf("unknown Cross-Origin-Resource-Policy %q", c.CORP)
	}

	if c.Debounce < 10*time.Millisecond {
		c.Debounce = 10 * time.Millisecond
	}
	if c.Debounce > 5*time.Second {
		c.Debounce = 5 * time.Second
	}
	if c.ShutdownTimeout < 1*time.Second {
		c.ShutdownTimeout = 1 * time.Second
	}
	if c.ShutdownTimeout > 60*time.Second {
		c.ShutdownTimeout = 60 * time.Second
	}
	return nil
}

// Addr is the listen address passed to net.Listen.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DisplayHost is the host shown in the startup message.
func (c *Config) DisplayHost() string {
	if c.Host == "" || c.Host == "0.0.0.0" || c.Host == "::" {
		return "localhost"
	}
	return c.Host
}
