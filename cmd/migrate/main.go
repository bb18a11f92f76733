package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up, down, version or force")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	forceVersion := flag.Int("version", -1, "version to mark as clean with -direction=force")
	dbURL := flag.String("db-url", "", "database URL (overrides DATABASE_URL)")
	migrationsPath := flag.String("path", "migrations", "path to migrations directory")
	flag.Parse()

	_ = godotenv.Load()

	m, err := migrate.New("file://"+*migrationsPath, resolveDSN(*dbURL))
	if err != nil {
		log.Fatalf("failed to create migrator: %v", err)
	}
	defer m.Close()

	switch *direction {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
	case "force":
		if *forceVersion < 0 {
			log.Fatal("-direction=force requires -version")
		}
		err = m.Force(*forceVersion)
	default:
		log.Fatalf("invalid direction: %s (use 'up', 'down', 'version' or 'force')", *direction)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migration failed: %v", err)
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("relay_log schema: no migrations applied")
		return
	}
	fmt.Printf("relay_log schema %s complete (version: %d, dirty: %v)\n", *direction, v, dirty)
}

// resolveDSN prefers the flag, then DATABASE_URL, then DB_* parts.
func resolveDSN(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	host := envOrDefault("DB_HOST", "localhost")
	port := envOrDefault("DB_PORT", "5432")
	user := envOrDefault("DB_USER", "relay")
	pass := envOrDefault("DB_PASSWORD", "relay-dev")
	name := envOrDefault("DB_NAME", "relay")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, name)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
