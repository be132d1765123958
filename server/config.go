package server

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ServerEnvironment selects dev or prod behavior.
type ServerEnvironment string

const (
	EnvDev  ServerEnvironment = "DEV"
	EnvProd ServerEnvironment = "PROD"
)

// SiteLayout selects whether the site carries a dynamic API bundle.
type SiteLayout string

const (
	LayoutFullstack SiteLayout = "FULLSTACK"
	LayoutStatic    SiteLayout = "STATIC"
)

// StreamingConfig controls websocket keepalive. A zero PingPeriod
// disables pings entirely.
type StreamingConfig struct {
	PingPeriod time.Duration `yaml:"pingPeriod"`
	Timeout    time.Duration `yaml:"timeout"`
}

// UnmarshalYAML accepts "15s"-style duration strings for both fields.
func (s *StreamingConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		PingPeriod string `yaml:"pingPeriod"`
		Timeout    string `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parse := func(field, text string) (time.Duration, error) {
		if text == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(text)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid streaming.%s", field)
		}
		return d, nil
	}

	var err error
	if s.PingPeriod, err = parse("pingPeriod", raw.PingPeriod); err != nil {
		return err
	}
	if s.Timeout, err = parse("timeout", raw.Timeout); err != nil {
		return err
	}
	return nil
}

// SitePaths gives the content locations for one environment.
type SitePaths struct {
	ContentRoot string `yaml:"contentRoot"`
	Script      string `yaml:"script"`
	Api         string `yaml:"api"`
	SiteRoot    string `yaml:"siteRoot"`
}

// SiteConfig is the parsed site configuration, immutable at startup.
type SiteConfig struct {
	Title           string            `yaml:"title"`
	BasePath        string            `yaml:"basePath"`
	Port            int               `yaml:"port"`
	Redirects       []RedirectRule    `yaml:"redirects"`
	Streaming       StreamingConfig   `yaml:"streaming"`
	NativeLibraries map[string]string `yaml:"nativeLibraries"`
	Dev             SitePaths         `yaml:"dev"`
	Prod            SitePaths         `yaml:"prod"`
}

// Paths returns the dev or prod variant for env.
func (c *SiteConfig) Paths(env ServerEnvironment) SitePaths {
	if env == EnvProd {
		return c.Prod
	}
	return c.Dev
}

const (
	defaultPort             = 8080
	defaultStreamingTimeout = 30 * time.Second
)

// LoadSiteConfig reads and validates the YAML site config. A bad port
// is fatal; most other fields fall back to defaults with a logged
// warning.
func LoadSiteConfig(path string, log logrus.FieldLogger) (*SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read site config %q", path)
	}

	var cfg SiteConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "invalid site config %q", path)
	}

	if cfg.Port == 0 {
		log.Warnf("[config] no port configured, using default %d", defaultPort)
		cfg.Port = defaultPort
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, errors.Errorf("invalid port %d (must be 1..65535)", cfg.Port)
	}

	if cfg.Streaming.PingPeriod < 0 {
		log.Warnf("[config] streaming.pingPeriod=%s is invalid, disabling pings", cfg.Streaming.PingPeriod)
		cfg.Streaming.PingPeriod = 0
	}
	if cfg.Streaming.Timeout <= 0 {
		log.Warnf("[config] streaming.timeout missing, using default %s", defaultStreamingTimeout)
		cfg.Streaming.Timeout = defaultStreamingTimeout
	}

	for i, rule := range cfg.Redirects {
		// Anchored regexes that don't start with "/" can never match a
		// canonical path. Configuration-level guidance only; the regex
		// itself is opaque.
		if len(rule.From) > 0 && rule.From[0] != '/' && rule.From[0] != '^' {
			log.Warnf("[config] redirects[%d].from=%q does not start with '/', it will never match", i, rule.From)
		}
	}

	return &cfg, nil
}
