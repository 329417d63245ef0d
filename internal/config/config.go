package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/execctl/internal/hostio"
	"github.com/danmuck/execctl/internal/logging"
	"github.com/pelletier/go-toml/v2"
)

const (
	TransportLocal = "local"
	TransportSSH   = "ssh"

	DefaultName = "execctl"
	DefaultAddr = ":9300"
)

var ErrInvalidConfig = errors.New("invalid agent config")

type AgentConfig struct {
	Name        string   `toml:"name"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Manifest    string   `toml:"manifest"`
	SearchPath  string   `toml:"search_path"`
	LogLevel    string   `toml:"log_level"`
	Transport   string   `toml:"transport"`
	// AuthToken, when set, is required as a bearer token on POST routes.
	AuthToken string    `toml:"auth_token"`
	SSH       SSHConfig `toml:"ssh"`
}

type SSHConfig struct {
	Host                string `toml:"host"`
	Port                string `toml:"port"`
	User                string `toml:"user"`
	KeyPath             string `toml:"key_path"`
	KnownHosts          string `toml:"known_hosts"`
	InsecureSkipHostKey bool   `toml:"insecure_skip_host_key"`
	Timeout             string `toml:"timeout"`
}

func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Name:      DefaultName,
		Addr:      DefaultAddr,
		Transport: TransportLocal,
		SSH: SSHConfig{
			Port:    "22",
			Timeout: "10s",
		},
	}
}

func LoadAgentConfig(path string) (AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if err := loadToml(path, &cfg); err != nil {
		return AgentConfig{}, err
	}
	cfg = cfg.withDefaults()
	if err := ValidateAgentConfig(cfg); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func (c AgentConfig) withDefaults() AgentConfig {
	def := DefaultAgentConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = def.Addr
	}
	if strings.TrimSpace(c.Transport) == "" {
		c.Transport = def.Transport
	}
	if strings.TrimSpace(c.SSH.Port) == "" {
		c.SSH.Port = def.SSH.Port
	}
	if strings.TrimSpace(c.SSH.Timeout) == "" {
		c.SSH.Timeout = def.SSH.Timeout
	}
	return c
}

func ValidateAgentConfig(cfg AgentConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("%w: missing addr", ErrInvalidConfig)
	}
	if cfg.LogLevel != "" {
		if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
			return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, cfg.LogLevel)
		}
	}
	switch cfg.Transport {
	case TransportLocal:
	case TransportSSH:
		if err := validateSSH(cfg.SSH); err != nil {
			return fmt.Errorf("%w: ssh: %v", ErrInvalidConfig, err)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, cfg.Transport)
	}
	return nil
}

func validateSSH(cfg SSHConfig) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return fmt.Errorf("host is required")
	}
	if strings.TrimSpace(cfg.User) == "" {
		return fmt.Errorf("user is required")
	}
	if strings.TrimSpace(cfg.KeyPath) == "" {
		return fmt.Errorf("key_path is required")
	}
	if !cfg.InsecureSkipHostKey && strings.TrimSpace(cfg.KnownHosts) == "" {
		return fmt.Errorf("known_hosts required unless insecure_skip_host_key is set")
	}
	if _, err := parseTimeout(cfg.Timeout); err != nil {
		return err
	}
	return nil
}

func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout must not be negative")
	}
	return d, nil
}

// HostIO builds the IO capability the configured transport talks through.
func (c AgentConfig) HostIO() (hostio.IO, error) {
	switch c.Transport {
	case "", TransportLocal:
		return hostio.Local{}, nil
	case TransportSSH:
		timeout, err := parseTimeout(c.SSH.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: ssh: %v", ErrInvalidConfig, err)
		}
		return hostio.SSH{
			Host:                        c.SSH.Host,
			Port:                        c.SSH.Port,
			User:                        c.SSH.User,
			KeyPath:                     c.SSH.KeyPath,
			Passphrase:                  sshPassphrase(),
			KnownHostsPath:              c.SSH.KnownHosts,
			InsecureSkipHostKeyChecking: c.SSH.InsecureSkipHostKey,
			DialTimeout:                 timeout,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
}

// EnvSSHPassphrase keeps key passphrases out of config files.
const EnvSSHPassphrase = "EXECCTL_SSH_PASSPHRASE"

func sshPassphrase() []byte {
	v := os.Getenv(EnvSSHPassphrase)
	if v == "" {
		return nil
	}
	return []byte(v)
}
