package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/coxyhq/coxy/internal/core/domain"
	"github.com/coxyhq/coxy/internal/version"
)

const (
	DefaultBind           = "127.0.0.1:11434"
	DefaultTimeoutSeconds = 30
)

type UpstreamConfig struct {
	URL  string `mapstructure:"url" yaml:"url"`
	Name string `mapstructure:"name" yaml:"name"`
}

type Config struct {
	Bind           string           `mapstructure:"bind"`
	LogLevel       string           `mapstructure:"log_level"`
	Theme          string           `mapstructure:"theme"`
	Upstreams      []UpstreamConfig `mapstructure:"upstreams"`
	TimeoutSeconds int              `mapstructure:"timeout"`
	ShowVersion    bool             `mapstructure:"-"`
}

// IdleTimeout converts the configured seconds into the idle-silence window;
// zero disables the clock.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load parses the CLI surface and merges it with COXY_* environment
// variables and an optional YAML file. Precedence: flags, then environment,
// then file, then defaults. Upstreams are additive: file entries first,
// then every --server flag in order.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet(version.Name, pflag.ContinueOnError)
	servers := fs.StringArray("server", nil, "upstream as URL=name (repeatable)")
	timeout := fs.Uint("timeout", DefaultTimeoutSeconds, "idle-silence timeout in seconds between upstream body bytes; 0 disables")
	bind := fs.String("bind", DefaultBind, "listen address as host:port")
	configFile := fs.String("config", "", "optional YAML config file")
	showVersion := fs.Bool("version", false, "print version information and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault("bind", DefaultBind)
	v.SetDefault("timeout", DefaultTimeoutSeconds)
	v.SetDefault("log_level", "info")
	v.SetDefault("theme", "default")

	v.SetEnvPrefix("COXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", *configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// explicit flags win over environment and file
	if fs.Changed("bind") {
		cfg.Bind = *bind
	}
	if fs.Changed("timeout") {
		cfg.TimeoutSeconds = int(*timeout)
	}
	cfg.ShowVersion = *showVersion

	for _, s := range *servers {
		upstream, err := parseServerFlag(s)
		if err != nil {
			return nil, err
		}
		cfg.Upstreams = append(cfg.Upstreams, upstream)
	}

	if !cfg.ShowVersion {
		if err := cfg.validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Upstreams) == 0 {
		return &domain.ConfigValidationError{
			Field:  "server",
			Value:  "",
			Reason: "at least one upstream is required (--server URL=name)",
		}
	}
	if c.TimeoutSeconds < 0 {
		return &domain.ConfigValidationError{
			Field:  "timeout",
			Value:  c.TimeoutSeconds,
			Reason: "must be a non-negative number of seconds",
		}
	}
	if _, _, err := net.SplitHostPort(c.Bind); err != nil {
		return &domain.ConfigValidationError{
			Field:  "bind",
			Value:  c.Bind,
			Reason: "must be host:port",
		}
	}
	return nil
}

// BuildUpstreams canonicalises the configured upstreams into registry
// entries, rejecting duplicates and malformed URLs.
func (c *Config) BuildUpstreams() ([]*domain.Upstream, error) {
	seen := make(map[string]string, len(c.Upstreams))
	upstreams := make([]*domain.Upstream, 0, len(c.Upstreams))

	for _, uc := range c.Upstreams {
		key, parsed, err := CanonicalKey(uc.URL)
		if err != nil {
			return nil, err
		}
		if prior, dup := seen[key]; dup {
			return nil, &domain.ConfigValidationError{
				Field:  "server",
				Value:  uc.URL,
				Reason: fmt.Sprintf("duplicate upstream (already registered as %s)", prior),
			}
		}
		seen[key] = uc.URL

		name := uc.Name
		if name == "" {
			name = parsed.Host
		}

		upstreams = append(upstreams, &domain.Upstream{
			URL:   parsed,
			Key:   key,
			Name:  name,
			Grade: domain.GradeReliable,
		})
	}

	return upstreams, nil
}

// CanonicalKey normalises an upstream origin URL to scheme://host:port.
// That string is the upstream's identity everywhere in the process.
func CanonicalKey(raw string) (string, *url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", nil, &domain.ConfigValidationError{Field: "server", Value: raw, Reason: err.Error()}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", nil, &domain.ConfigValidationError{Field: "server", Value: raw, Reason: "scheme must be http or https"}
	}
	if parsed.Hostname() == "" {
		return "", nil, &domain.ConfigValidationError{Field: "server", Value: raw, Reason: "missing host"}
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return "", nil, &domain.ConfigValidationError{Field: "server", Value: raw, Reason: "upstream URL must be an origin without a path"}
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", nil, &domain.ConfigValidationError{Field: "server", Value: raw, Reason: "upstream URL must be an origin without query or fragment"}
	}

	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()
	if port == "" {
		if parsed.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	canonical := &url.URL{
		Scheme: strings.ToLower(parsed.Scheme),
		Host:   net.JoinHostPort(host, port),
	}
	return canonical.String(), canonical, nil
}

func parseServerFlag(s string) (UpstreamConfig, error) {
	rawURL, name, found := strings.Cut(s, "=")
	if !found {
		return UpstreamConfig{URL: strings.TrimSpace(s)}, nil
	}
	rawURL = strings.TrimSpace(rawURL)
	name = strings.TrimSpace(name)
	if rawURL == "" {
		return UpstreamConfig{}, &domain.ConfigValidationError{
			Field:  "server",
			Value:  s,
			Reason: "expected URL=name",
		}
	}
	return UpstreamConfig{URL: rawURL, Name: name}, nil
}
