package main

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/danmuck/lightmesh/internal/config"
	"github.com/danmuck/lightmesh/internal/daemon"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "cmd/lightmeshd/config.toml"

func resolveConfigPath(flagPath string) string {
	if p := strings.TrimSpace(flagPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("LIGHTMESH_CONFIG")); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadServiceConfig loads path, falling back to daemon defaults when the
// default path does not exist.
func loadServiceConfig(path string) (daemon.ServiceConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
		log.Warn().Str("path", path).Msg("lightmeshd config not found, using defaults")
		return daemon.DefaultServiceConfig(), nil
	}
	return config.Load(path)
}
