package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/saviobatista/heli-tracker/internal/config"
	"github.com/saviobatista/heli-tracker/internal/db/migrations"
)

func main() {
	_ = godotenv.Load()

	// Parse command line flags
	dbURL := flag.String("db", config.DatabaseURL(), "Database connection string")
	rollback := flag.Bool("rollback", false, "Rollback the last migration")
	status := flag.Bool("status", false, "List pending migrations without applying them")
	flag.Parse()

	if err := run(*dbURL, *rollback, *status); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

// run connects to the database and migrates it
func run(dbURL string, rollback, status bool) error {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if status {
		return printStatus(db)
	}
	return runMigration(db, rollback)
}

// runMigration applies pending migrations, or reverts the last one
func runMigration(db *sql.DB, rollback bool) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := migrations.New(db)

	if rollback {
		if err := migrator.Rollback(migrations.All()); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		return nil
	}

	if err := migrator.Migrate(migrations.All()); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func printStatus(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := migrations.New(db)
	if err := migrator.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	pending, err := migrator.Pending(migrations.All())
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		log.Println("Database is up to date")
		return nil
	}
	for _, m := range pending {
		log.Printf("Pending migration: %s", m.Name)
	}
	return nil
}
