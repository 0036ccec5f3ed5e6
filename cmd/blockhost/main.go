package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/blockbridge/internal/config"
	"github.com/danmuck/blockbridge/internal/host"
	"github.com/danmuck/blockbridge/internal/logging"
	"github.com/danmuck/blockbridge/internal/protocol/wire"
	"github.com/gin-gonic/gin"
)

func main() {
	path := flag.String("config", "", "host config path (built-in defaults when empty)")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(*path); err != nil {
		fmt.Fprintf(os.Stderr, "blockhost: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.HostConfig, error) {
	if path == "" {
		return config.DefaultHostConfig(), nil
	}
	return config.LoadHostConfig(path)
}

func run(path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	codec, err := wire.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	h, err := host.New(config.HostRuntime(cfg))
	if err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)
	srv := host.NewServer(h, host.ServerConfig{
		Addr:        cfg.Addr,
		CorsOrigins: cfg.CorsOrigins,
		Codec:       codec,
		AdminToken:  cfg.AdminToken,
	})
	return srv.Serve()
}
