// Package config loads and validates the node configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Node         NodeConfig         `toml:"node"`
	Network      NetworkConfig      `toml:"network"`
	Transport    TransportConfig    `toml:"transport"`
	Presentation PresentationConfig `toml:"presentation"`
	Admin        AdminConfig        `toml:"admin"`
}

type NodeConfig struct {
	Host  string `toml:"host"`
	Port  int    `toml:"port"`
	Debug bool   `toml:"debug"`
}

type NetworkConfig struct {
	// Address is this node's logical address; PeerAddress is where a client
	// addresses its packets. Empty values fall back to the defaults below so
	// a stock server/client pair can reach each other.
	Address     string `toml:"address"`
	PeerAddress string `toml:"peer_address"`
	MACAddress  string `toml:"mac_address"`
}

type TransportConfig struct {
	RemotePort int `toml:"remote_port"`
}

type PresentationConfig struct {
	Encryption  string `toml:"encryption"`
	Key         int    `toml:"key"`
	Compression string `toml:"compression"`
}

type AdminConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

const (
	DefaultHost       = "localhost"
	DefaultPort       = 12345
	DefaultServerIP   = "10.0.0.1"
	DefaultClientIP   = "10.0.0.2"
	DefaultRemotePort = 12345
)

// Default returns the configuration used when no file is given. isServer
// selects which side of the default address pair this node takes.
func Default(isServer bool) Config {
	cfg := Config{
		Node:         NodeConfig{Host: DefaultHost, Port: DefaultPort},
		Transport:    TransportConfig{RemotePort: DefaultRemotePort},
		Presentation: PresentationConfig{Encryption: "none", Key: -1, Compression: "none"},
		Admin:        AdminConfig{Addr: ":9300"},
	}
	if isServer {
		cfg.Network.Address = DefaultServerIP
		cfg.Network.PeerAddress = DefaultClientIP
	} else {
		cfg.Network.Address = DefaultClientIP
		cfg.Network.PeerAddress = DefaultServerIP
	}
	return cfg
}

// Load reads a TOML config file, filling defaults for absent fields.
func Load(path string, isServer bool) (Config, error) {
	cfg := Default(isServer)
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Node.Host) == "" {
		return fmt.Errorf("config missing node host")
	}
	if cfg.Node.Port <= 0 || cfg.Node.Port > 65535 {
		return fmt.Errorf("config node port out of range: %d", cfg.Node.Port)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Presentation.Encryption)) {
	case "", "none", "xor":
	default:
		return fmt.Errorf("config unknown encryption: %s", cfg.Presentation.Encryption)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Presentation.Compression)) {
	case "", "none", "simple":
	default:
		return fmt.Errorf("config unknown compression: %s", cfg.Presentation.Compression)
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		return fmt.Errorf("config admin enabled but addr missing")
	}
	return nil
}
