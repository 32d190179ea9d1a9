// Command migrate applies, rolls back, or reports the relational
// schema version of an edge-monitor database file.
//
// Grounded on the teacher's internal/db.RunMigrateCommand /
// migrate_cli.go: same up/down/status/help subcommand shape. The
// teacher's legacy-schema "detect"/"baseline"/"force" subcommands are
// dropped along with the schema-detection machinery they depend on
// (internal/store has no legacy deployments to reconcile, see
// DESIGN.md) -- this schema is only ever created by internal/store's
// own schema.sql or migrated forward from it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/gcu-merk/edge-traffic-monitor/internal/store"
)

func main() {
	dbPath := flag.String("db-path", "traffic.db", "path to the sqlite database file")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printHelp()
		os.Exit(1)
	}

	migrationsFS, err := store.Migrations()
	if err != nil {
		log.Fatalf("failed to load embedded migrations: %v", err)
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database %q: %v", *dbPath, err)
	}
	defer db.Close()

	switch args[0] {
	case "up":
		if err := db.MigrateUp(migrationsFS); err != nil {
			log.Fatalf("migrate up failed: %v", err)
		}
		version, dirty, _ := db.MigrateVersion(migrationsFS)
		log.Printf("up to date: version %d (dirty: %v)", version, dirty)
	case "down":
		if err := db.MigrateDown(migrationsFS); err != nil {
			log.Fatalf("migrate down failed: %v", err)
		}
		version, dirty, _ := db.MigrateVersion(migrationsFS)
		log.Printf("rolled back one migration: version %d (dirty: %v)", version, dirty)
	case "status":
		version, dirty, err := db.MigrateVersion(migrationsFS)
		if err != nil {
			log.Fatalf("failed to read migration status: %v", err)
		}
		fmt.Printf("database: %s\nversion:  %d\ndirty:    %v\n", *dbPath, version, dirty)
	case "help":
		printHelp()
	default:
		fmt.Printf("unknown migrate command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("Usage: migrate [-db-path PATH] <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up      Apply all pending migrations")
	fmt.Println("  down    Roll back one migration")
	fmt.Println("  status  Print the current migration version")
	fmt.Println("  help    Show this help message")
}
