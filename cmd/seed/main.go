package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"chatcompose/internal/config"
	chatRepo "chatcompose/internal/domain/repositories/chat"
	"chatcompose/internal/repository/postgres"
	postgresChat "chatcompose/internal/repository/postgres/chat"
	"chatcompose/internal/repository/sqlite"
	"chatcompose/internal/seed"
)

func main() {
	topics := flag.Int("topics", 5, "Number of sample topics to create")
	turns := flag.Int("turns", 3, "User/assistant exchanges per topic")
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (postgres only)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't seed topics")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && *dropTables {
		log.Fatalf("BLOCKED: --drop-tables is not allowed in production")
	}

	logger := config.NewLogger(os.Stdout, cfg.Environment)
	ctx := context.Background()

	var store *chatRepo.Store
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()

		tables := postgres.NewTableNames(cfg.TablePrefix)
		if *dropTables {
			log.Println("Dropping all tables...")
			if err := dropAllTables(ctx, pool, tables); err != nil {
				log.Fatalf("Failed to drop tables: %v", err)
			}
		}
		if err := postgres.EnsureSchema(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to run schema: %v", err)
		}
		store = postgresChat.NewStore(&postgres.RepositoryConfig{Pool: pool, Tables: tables, Logger: logger})

	default:
		if *dropTables {
			log.Println("--drop-tables ignored for sqlite; delete the database file instead")
		}
		db, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
		store = db.Store()
	}
	log.Printf("Schema ready (driver: %s)", cfg.StoreDriver)

	if *schemaOnly {
		return
	}

	seeder := seed.NewChatSeeder(store, logger)
	created, err := seeder.SeedTopics(ctx, *topics, *turns)
	if err != nil {
		log.Fatalf("Seeding stopped after %d topics: %v", len(created), err)
	}
	log.Printf("Seeding complete: %d topics", len(created))
}

// dropAllTables drops the chat tables, children first
func dropAllTables(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	for _, table := range []string{tables.Blocks, tables.Messages, tables.Topics} {
		if _, err := pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}
