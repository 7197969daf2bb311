// Package config loads the host configuration with viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	LevelDB  LevelDBConfig  `mapstructure:"leveldb"`
	Topology TopologyConfig `mapstructure:"topology"`
	Relay    RelayConfig    `mapstructure:"relay"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	AppLogFile string `mapstructure:"app_log_file"`
	Level      string `mapstructure:"level"`
}

type LevelDBConfig struct {
	Path string `mapstructure:"path"`
}

type TopologyConfig struct {
	// RejectCycles makes ConnectToParent fail when the new link would close a
	// cycle among the nodes hosted here.
	RejectCycles bool `mapstructure:"reject_cycles"`
}

type RelayConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Rate     float64       `mapstructure:"rate"` // deliveries per second
	Burst    int           `mapstructure:"burst"`
	Batch    int           `mapstructure:"batch"`
	Peers    []Peer        `mapstructure:"peers"`
}

// Peer routes messages for a node hosted by another process
type Peer struct {
	ID  string `mapstructure:"id"`
	URL string `mapstructure:"url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.app_log_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("leveldb.path", "data/aggtree")
	v.SetDefault("topology.reject_cycles", false)
	v.SetDefault("relay.interval", "500ms")
	v.SetDefault("relay.timeout", "5s")
	v.SetDefault("relay.rate", 200.0)
	v.SetDefault("relay.burst", 50)
	v.SetDefault("relay.batch", 256)
}

// Load reads path (if non-empty) and AGGTREE_* environment overrides
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGGTREE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Relay.Interval <= 0 {
		return fmt.Errorf("relay.interval must be positive")
	}
	if c.Relay.Rate <= 0 || c.Relay.Burst <= 0 {
		return fmt.Errorf("relay.rate and relay.burst must be positive")
	}
	seen := make(map[string]bool, len(c.Relay.Peers))
	for _, p := range c.Relay.Peers {
		if p.ID == "" || p.URL == "" {
			return fmt.Errorf("relay.peers entries need id and url")
		}
		if seen[p.ID] {
			return fmt.Errorf("relay.peers: duplicate id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// PeerURLs maps node ids to base URLs
func (c *Config) PeerURLs() map[string]string {
	urls := make(map[string]string, len(c.Relay.Peers))
	for _, p := range c.Relay.Peers {
		urls[p.ID] = strings.TrimRight(p.URL, "/")
	}
	return urls
}
