package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/blockbridge/internal/block"
	"github.com/danmuck/blockbridge/internal/protocol/session"
	"github.com/danmuck/blockbridge/internal/protocol/wire"
)

// BlockConfig is everything a block process needs to reach its host.
type BlockConfig struct {
	Channel block.Config
	HostURL string
	Codec   string
	Session session.Config
}

type blockFile struct {
	SelfOrigin         string         `toml:"self_origin"`
	HostURL            string         `toml:"host_url"`
	Codec              string         `toml:"codec"`
	Whitelist          []string       `toml:"whitelist"`
	SSLOptional        bool           `toml:"ssl_optional"`
	MaxInFlight        int            `toml:"max_in_flight"`
	CallTTL            string         `toml:"call_ttl"`
	SweepEvery         string         `toml:"sweep_every"`
	ConnectTimeout     string         `toml:"connect_timeout"`
	WriteTimeout       string         `toml:"write_timeout"`
	MaxConnectAttempts int            `toml:"max_connect_attempts"`
	Init               map[string]any `toml:"init"`
}

func DefaultBlockConfig() BlockConfig {
	return BlockConfig{
		Channel: block.DefaultConfig(),
		Session: session.DefaultConfig(),
	}
}

// LoadBlockConfig overlays the keys defined in path onto DefaultBlockConfig.
func LoadBlockConfig(path string) (BlockConfig, error) {
	cfg := DefaultBlockConfig()

	var raw blockFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return BlockConfig{}, fmt.Errorf("load block config: %w", err)
	}

	if meta.IsDefined("self_origin") {
		cfg.Channel.SelfOrigin = strings.TrimSpace(raw.SelfOrigin)
	}
	if meta.IsDefined("host_url") {
		cfg.HostURL = strings.TrimSpace(raw.HostURL)
	}
	if meta.IsDefined("codec") {
		cfg.Codec = strings.TrimSpace(raw.Codec)
	}
	if meta.IsDefined("whitelist") {
		cfg.Channel.Whitelist = trimAll(raw.Whitelist)
	}
	if meta.IsDefined("ssl_optional") {
		cfg.Channel.SSLOptional = raw.SSLOptional
	}
	if meta.IsDefined("max_in_flight") {
		cfg.Session.Limits.MaxInFlight = raw.MaxInFlight
	}
	if meta.IsDefined("call_ttl") {
		d, err := parseDuration("call_ttl", raw.CallTTL)
		if err != nil {
			return BlockConfig{}, err
		}
		cfg.Session.Limits.CallTTL = d
	}
	if meta.IsDefined("sweep_every") {
		d, err := parseDuration("sweep_every", raw.SweepEvery)
		if err != nil {
			return BlockConfig{}, err
		}
		cfg.Channel.SweepEvery = d
	}
	if meta.IsDefined("connect_timeout") {
		d, err := parseDuration("connect_timeout", raw.ConnectTimeout)
		if err != nil {
			return BlockConfig{}, err
		}
		cfg.Session.ConnectTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := parseDuration("write_timeout", raw.WriteTimeout)
		if err != nil {
			return BlockConfig{}, err
		}
		cfg.Session.WriteTimeout = d
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("init") {
		cfg.Channel.Init = raw.Init
	}
	cfg.Session.Limits = cfg.Session.Limits.WithDefaults()
	cfg.Channel.Limits = cfg.Session.Limits

	if err := ValidateBlockConfig(cfg); err != nil {
		return BlockConfig{}, err
	}
	return cfg, nil
}

func ValidateBlockConfig(cfg BlockConfig) error {
	if cfg.Channel.SelfOrigin == "" {
		return fmt.Errorf("block config missing self_origin")
	}
	if _, err := wire.CodecByName(cfg.Codec); err != nil {
		return fmt.Errorf("block config: %w", err)
	}
	if cfg.Session.Limits.MaxInFlight < 0 {
		return fmt.Errorf("block config max_in_flight must be >= 0 (0 means the default)")
	}
	if cfg.Session.Limits.CallTTL < 0 {
		return fmt.Errorf("block config call_ttl must be >= 0")
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
