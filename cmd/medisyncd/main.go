package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/medisync/medisync/internal/agent"
	"github.com/medisync/medisync/internal/config"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.medisync/config.toml)")
	dataDirFlag := flag.String("data-dir", "", "data directory (overrides config)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *dataDirFlag != "" {
		cfg.DataDir = *dataDirFlag
	}

	app := fx.New(
		agent.Module(agent.Params{Config: cfg}),
	)

	app.Run()
}
