package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/blockbridge/internal/origin"
	"github.com/danmuck/blockbridge/internal/protocol/wire"
	"github.com/pelletier/go-toml/v2"
)

type HostConfig struct {
	Name           string     `toml:"name"`
	Addr           string     `toml:"addr"`
	Origin         string     `toml:"origin"`
	Codec          string     `toml:"codec"`
	BlockWhitelist []string   `toml:"block_whitelist"`
	SSLOptional    bool       `toml:"ssl_optional"`
	CorsOrigins    []string   `toml:"cors_origins"`
	AdminToken     string     `toml:"admin_token"`
	Content        SeedConfig `toml:"content"`
}

type SeedConfig struct {
	Content      string         `toml:"content"`
	SuperContent string         `toml:"super_content"`
	View         string         `toml:"view"`
	EditorWidth  int            `toml:"editor_width"`
	Data         map[string]any `toml:"data"`
	CentralData  map[string]any `toml:"central_data"`
	UserData     map[string]any `toml:"user_data"`
}

func LoadHostConfig(path string) (HostConfig, error) {
	var cfg HostConfig
	if err := loadToml(path, &cfg); err != nil {
		return HostConfig{}, err
	}
	cfg = withHostDefaults(cfg)
	if err := ValidateHostConfig(cfg); err != nil {
		return HostConfig{}, err
	}
	return cfg, nil
}

// DefaultHostConfig is the config used when no file is given: a local host
// on :9300 that accepts blocks from any origin.
func DefaultHostConfig() HostConfig {
	return withHostDefaults(HostConfig{})
}

func withHostDefaults(cfg HostConfig) HostConfig {
	if cfg.Name == "" {
		cfg.Name = "blockhost"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9300"
	}
	if cfg.Origin == "" {
		cfg.Origin = "http://localhost" + portSuffix(cfg.Addr)
	}
	return cfg
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

func ValidateHostConfig(cfg HostConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("host config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("host config missing addr")
	}
	if !strings.HasPrefix(cfg.Origin, "http://") && !strings.HasPrefix(cfg.Origin, "https://") {
		return fmt.Errorf("host config origin must be http(s): %q", cfg.Origin)
	}
	if _, err := wire.CodecByName(cfg.Codec); err != nil {
		return fmt.Errorf("host config: %w", err)
	}
	for i, p := range cfg.BlockWhitelist {
		if _, err := origin.NormalizePattern(p); err != nil {
			return fmt.Errorf("block_whitelist[%d] invalid: %w", i, err)
		}
	}
	return nil
}

func portSuffix(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 && i < len(addr)-1 {
		return addr[i:]
	}
	return ""
}
