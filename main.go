package main

import (
	"log"

	"github.com/joho/godotenv"

	"crm/cmd"
	"crm/internal/config"
	"crm/internal/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		// Commands that need the configuration report the error themselves
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	} else {
		if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	}
	cmd.SetConfig(cfg, err)

	log := logger.WithComponent("main")
	log.Debug().Msg("Starting crm")

	cmd.Execute()
}
