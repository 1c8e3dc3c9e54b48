// Database migration CLI tool
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/ajitpratap0/tradeledger/internal/config"
	"github.com/ajitpratap0/tradeledger/internal/db"
)

func main() {
	command := flag.String("command", "migrate", "Command to run: migrate or status")
	configPath := flag.String("config", "", "Path to config file (defaults to ./configs/config.yaml)")
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "Database connection URL, overrides config")
	migrationsDir := flag.String("migrations", "", "Path to migrations directory, overrides config")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.Logging)

	url := *dbURL
	if url == "" {
		if !cfg.Database.UsePostgres() {
			fmt.Fprintln(os.Stderr, "No database configured: set database.host or pass -db")
			os.Exit(1)
		}
		url = cfg.Database.GetDSN()
	}
	dir := *migrationsDir
	if dir == "" {
		dir = cfg.Database.MigrationsDir
	}

	database, err := sql.Open("postgres", url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close database connection: %v\n", err)
		}
	}()

	if err := database.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to ping database: %v\n", err)
		os.Exit(1)
	}

	migrator := db.NewMigrator(database, dir)

	switch *command {
	case "migrate":
		applied, err := migrator.Migrate(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
			os.Exit(1)
		}
		if len(applied) == 0 {
			fmt.Println("Database is up to date")
			return
		}
		for _, m := range applied {
			fmt.Printf("Applied %03d %s\n", m.Version, m.Description)
		}
	case "status":
		current, migrations, err := migrator.Status(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status check failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Current version: %d\n", current)
		for _, m := range migrations {
			mark := "pending"
			if m.Applied {
				mark = "applied"
			}
			fmt.Printf("  %03d %-40s %s\n", m.Version, m.Description, mark)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		fmt.Fprintf(os.Stderr, "Usage: migrate -command=[migrate|status]\n")
		os.Exit(1)
	}
}
