package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"

	"github.com/sofia-platform/billing/migrations"
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	flag.Parse()

	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	args := flag.Args()
	if len(args) < 1 {
		log.Fatal("Command required: up, down, force <version>, version")
	}

	m, err := migrations.New(databaseURL)
	if err != nil {
		log.Fatalf("Migration setup failed: %v", err)
	}
	defer m.Close()

	switch args[0] {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Migration up failed: %v", err)
		}
		fmt.Println("Migrations applied successfully!")
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Migration down failed: %v", err)
		}
		fmt.Println("Migrations rolled back successfully!")
	case "force":
		if len(args) < 2 {
			log.Fatal("Version required for force")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("Invalid version %q: %v", args[1], err)
		}
		if err := m.Force(version); err != nil {
			log.Fatalf("Migration force failed: %v", err)
		}
		fmt.Printf("Forced schema version %d\n", version)
	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.Fatalf("Failed to read schema version: %v", err)
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
	default:
		log.Fatalf("Unknown command: %s", args[0])
	}
}
