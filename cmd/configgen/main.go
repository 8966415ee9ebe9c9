package main

import (
	"flag"

	"github.com/danmuck/lightmesh/internal/config"
	"github.com/danmuck/lightmesh/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	kind := flag.String("kind", "leader", "config kind: leader|joiner")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to the -output path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	provision := flag.Bool("provision", false, "write the config's network section to the file store")
	storeDir := flag.String("store-dir", "", "file store directory for -provision (defaults to storage_dir)")
	flag.Parse()
	logging.ConfigureRuntime()

	if _, err := config.Template(*kind); err != nil {
		log.Fatal().Err(err).Msg("configgen")
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}

	if *provision {
		path := *input
		if path == "" {
			path = target
		}
		net, err := config.Provision(path, *storeDir)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("configgen provision")
		}
		log.Info().Str("role", net.Role).Int("channel", net.Channel).Str("panid", net.NetworkID).Msg("network config provisioned")
		return
	}

	if *validate {
		path := *input
		if path == "" {
			path = target
		}
		cfg, err := config.Load(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("configgen validate")
		}
		log.Info().Str("role", cfg.Node.Network.Role).Str("path", path).Str("backend", cfg.Storage.Backend).Msg("config valid")
		return
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Str("path", target).Msg("configgen write")
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("config template written")
}

func defaultPath(kind string) string {
	return "cmd/lightmeshd/" + kind + ".toml"
}
