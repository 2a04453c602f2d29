package main

import (
	"fmt"
	"os"

	"github.com/chess10kp/dropterm/internal/config"
	"github.com/chess10kp/dropterm/internal/process"
)

func main() {
	configPath := config.DefaultPath
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	fmt.Printf("Validating config: %s\n", configPath)

	cfg, err := config.LoadAndValidateConfig(configPath)
	if err != nil {
		fmt.Printf("❌ Config validation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("terminal: %s (app_id %s), backend: %s\n",
		cfg.TerminalCommand, process.ResolveAppID(cfg.TerminalCommand), cfg.ResolveBackend())
	fmt.Println("✅ Config is valid!")
}
