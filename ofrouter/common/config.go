package common

// Process wide configuration of the ofrouter daemon

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/EvgenyEmets/Routing/ofrouter/routing"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr    = ":6633"
	DefaultOvsdbAddr     = "localhost:6640"
	DefaultLogLevel      = "info"
	DefaultPacketWorkers = 16
)

type Config struct {
	ListenAddr    string         `yaml:"listen"`        // OpenFlow listen address
	ApiAddr       string         `yaml:"api"`           // Status API address, empty to disable
	OvsBridge     string         `yaml:"ovsBridge"`     // OVS bridge to point at us, empty to skip
	OvsdbAddr     string         `yaml:"ovsdb"`         // OVSDB server host:port
	LogLevel      string         `yaml:"logLevel"`      // logrus level name
	PacketWorkers int            `yaml:"packetWorkers"` // Concurrent packet-in handlers per switch
	Routing       routing.Config `yaml:"routing"`
}

// Create a config with default values
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:    DefaultListenAddr,
		OvsdbAddr:     DefaultOvsdbAddr,
		LogLevel:      DefaultLogLevel,
		PacketWorkers: DefaultPacketWorkers,
		Routing:       routing.DefaultConfig(),
	}
}

// Load a yaml config file on top of the defaults. An empty path returns
// the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	log.Debugf("Loaded config from %s: %+v", path, cfg)

	return cfg, nil
}

func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.ListenAddr, err)
	}
	if c.ApiAddr != "" {
		if _, _, err := net.SplitHostPort(c.ApiAddr); err != nil {
			return fmt.Errorf("invalid api address %q: %w", c.ApiAddr, err)
		}
	}
	if c.OvsBridge != "" {
		if _, _, err := net.SplitHostPort(c.OvsdbAddr); err != nil {
			return fmt.Errorf("invalid ovsdb address %q: %w", c.OvsdbAddr, err)
		}
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.PacketWorkers <= 0 {
		return errors.New("packet workers must be positive")
	}

	return c.Routing.Validate()
}
