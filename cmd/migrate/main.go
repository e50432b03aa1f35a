package main

import (
	"context"
	"io/fs"
	"log"
	"os"
	"time"

	"medibot/internal/database"
)

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	// MIGRATIONS_DIR overrides the migrations compiled into the binary.
	source := "embedded"
	migrations := database.Migrations()
	if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
		source = dir
		migrations = os.DirFS(dir)
	}
	if _, err := fs.Stat(migrations, "."); err != nil {
		log.Fatalf("migrations not readable from %s: %v", source, err)
	}

	db, err := database.Connect(databaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := database.ApplyMigrations(ctx, db, migrations); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	log.Printf("migrations applied successfully from %s", source)
}
