// Command admin loads rows from a JSON file into the Postgres record store.
//
//	go run ./cmd/admin -url postgres://... -collection applicants -file rows.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/infra/store/postgres"
)

func main() {
	_ = godotenv.Load()
	stylelog.InitDefault()

	url := flag.String("url", os.Getenv("DATABASE_URL"), "postgres connection string")
	collection := flag.String("collection", postgres.DefaultCollection, "record collection")
	file := flag.String("file", "rows.json", "JSON array of {id, properties}")
	flag.Parse()

	content, err := os.ReadFile(*file)
	if err != nil {
		slog.Error("Failed to read rows", "file", *file, "error", err)
		os.Exit(1)
	}

	var rows []domain.Row
	if err := json.Unmarshal(content, &rows); err != nil {
		slog.Error("Failed to decode rows", "file", *file, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, postgres.Config{URL: *url})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}

	store := postgres.NewStore(db, *collection)
	for _, row := range rows {
		if err := store.Put(ctx, row); err != nil {
			slog.Error("Failed to load row", "id", row.ID, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Loaded rows", "collection", *collection, "count", len(rows))
}
