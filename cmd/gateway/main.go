package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/wudi/gateway/internal/config"
	"github.com/wudi/gateway/internal/gateway"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/gateway.json", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gateway %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if *validateOnly {
		loader := config.NewLoader()
		if _, err := loader.Load(*configPath); err != nil {
			log.Fatalf("configuration invalid: %v", err)
		}
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	log.Printf("starting gateway %s", version)
	log.Printf("configuration loaded from %s", *configPath)

	server, err := gateway.NewServer(*configPath, version)
	if err != nil {
		log.Fatalf("failed to start gateway: %v", err)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
