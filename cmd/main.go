package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/quangdng/agentarium/internal/api"
	"github.com/quangdng/agentarium/internal/config"
	"github.com/quangdng/agentarium/internal/db"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	server := api.NewServer(database, cfg)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("Starting server on %s (agent provider: %s)", addr, cfg.AgentProvider)

	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
