package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/diegodamacenoo/banban-core/internal/config"
	"github.com/diegodamacenoo/banban-core/internal/db"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := db.Migrate(cfg.DB.URL(), *direction); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", *direction, err)
		os.Exit(1)
	}
	fmt.Printf("migrations applied (%s)\n", *direction)
}
