package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/lightmesh/internal/daemon"
)

func main() {
	configPath := flag.String("config", "", "path to lightmeshd config (default $LIGHTMESH_CONFIG or cmd/lightmeshd/config.toml)")
	flag.Parse()

	cfg, err := loadServiceConfig(resolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "lightmeshd: %v\n", err)
		os.Exit(1)
	}
	svc := daemon.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "lightmeshd: %v\n", err)
		os.Exit(1)
	}
}
