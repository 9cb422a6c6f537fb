// migrate applies the embedded ledger schema: go run ./cmd/migrate [-direction up|down|version].
package main

import (
	"flag"
	"log"

	"custodial-ledger/backend/internal/config"
	"custodial-ledger/backend/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "up, down, or version to print the applied version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("migrate: DATABASE_URL is not set; the in-memory store needs no migrations")
	}

	if *direction != "version" {
		if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
			log.Fatal(err)
		}
	}
	version, dirty, err := migrate.Version(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("migrate: schema version %d (dirty=%t)", version, dirty)
}
