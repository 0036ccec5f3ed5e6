package config

import "github.com/danmuck/blockbridge/internal/host"

// HostRuntime converts a loaded file config into the host runtime config.
func HostRuntime(cfg HostConfig) host.Config {
	return host.Config{
		Name:           cfg.Name,
		Origin:         cfg.Origin,
		BlockWhitelist: cfg.BlockWhitelist,
		SSLOptional:    cfg.SSLOptional,
		Seed: host.Seed{
			Content:      cfg.Content.Content,
			SuperContent: cfg.Content.SuperContent,
			View:         cfg.Content.View,
			EditorWidth:  cfg.Content.EditorWidth,
			Data:         cfg.Content.Data,
			CentralData:  cfg.Content.CentralData,
			UserData:     cfg.Content.UserData,
		},
	}
}
