package lanlink

import (
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file form of the options accepted by NewServer and
// NewClient, plus the settings the daemon needs around them.
type Config struct {
	Discovery DiscoveryConfig `yaml:"discovery"`
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type DiscoveryConfig struct {
	Group string `yaml:"group"`
	Port  int    `yaml:"port"`
}

type ServerConfig struct {
	Name             string `yaml:"name"`
	PasswordRequired bool   `yaml:"password_required"`
	// Advertise is the "ip:port" put in replies. Empty means the outbound
	// IPv4 address; port 0 means the acceptor's port.
	Advertise    string        `yaml:"advertise"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ClientConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Address serves /metrics when set, e.g. ":9178".
	Address string `yaml:"address"`
}

func DefaultConfig() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			Group: multicastGroupStr,
			Port:  Port,
		},
		Server: ServerConfig{
			PollInterval: DefaultServerPollInterval,
		},
		Client: ClientConfig{
			PollInterval:    DefaultClientPollInterval,
			RefreshInterval: DefaultRefreshInterval,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file on top of DefaultConfig and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if _, err := c.GroupAddr(); err != nil {
		return fmt.Errorf("%w: discovery: %v", ErrInvalidConfig, err)
	}
	if err := c.Server.validate(); err != nil {
		return fmt.Errorf("%w: server: %v", ErrInvalidConfig, err)
	}
	if err := c.Client.validate(); err != nil {
		return fmt.Errorf("%w: client: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Logging.level(); err != nil {
		return fmt.Errorf("%w: logging: %v", ErrInvalidConfig, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging: format must be text or json, got %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// GroupAddr returns the configured group and port.
func (c *Config) GroupAddr() (netip.AddrPort, error) {
	group, err := netip.ParseAddr(c.Discovery.Group)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("group: %w", err)
	}
	if !group.Is4() || !group.IsMulticast() {
		return netip.AddrPort{}, fmt.Errorf("group %s is not an IPv4 multicast address", group)
	}
	if c.Discovery.Port < 1 || c.Discovery.Port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("port must be between 1 and 65535, got %d", c.Discovery.Port)
	}
	return netip.AddrPortFrom(group, uint16(c.Discovery.Port)), nil
}

func (s *ServerConfig) validate() error {
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", s.PollInterval)
	}
	if s.Advertise != "" {
		if _, err := netip.ParseAddrPort(s.Advertise); err != nil {
			return fmt.Errorf("advertise: %w", err)
		}
	}
	return nil
}

func (cc *ClientConfig) validate() error {
	if cc.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", cc.PollInterval)
	}
	if cc.RefreshInterval < cc.PollInterval {
		return fmt.Errorf("refresh_interval %s is shorter than poll_interval %s", cc.RefreshInterval, cc.PollInterval)
	}
	return nil
}

// ServerInfo builds the info a server started from this config publishes.
func (c *Config) ServerInfo() (ServerInfo, error) {
	info := ServerInfo{
		Name:             c.Server.Name,
		PasswordRequired: c.Server.PasswordRequired,
	}
	if c.Server.Advertise != "" {
		addr, err := netip.ParseAddrPort(c.Server.Advertise)
		if err != nil {
			return ServerInfo{}, fmt.Errorf("%w: server: advertise: %v", ErrInvalidConfig, err)
		}
		info.Address = &addr
	}
	return info, nil
}

// ServerOptions converts the config into NewServer options.
func (c *Config) ServerOptions(extra ...Option) []Option {
	opts := []Option{WithPollInterval(c.Server.PollInterval)}
	if group, err := c.GroupAddr(); err == nil {
		opts = append(opts, WithGroup(group))
	}
	return append(opts, extra...)
}

// ClientOptions converts the config into NewClient options.
func (c *Config) ClientOptions(extra ...Option) []Option {
	opts := []Option{
		WithPollInterval(c.Client.PollInterval),
		WithRefreshInterval(c.Client.RefreshInterval),
	}
	if group, err := c.GroupAddr(); err == nil {
		opts = append(opts, WithGroup(group))
	}
	return append(opts, extra...)
}

// Logger builds a logger writing to w in the configured format and level.
func (l LoggingConfig) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func (l LoggingConfig) level() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown level %q", l.Level)
	}
}
