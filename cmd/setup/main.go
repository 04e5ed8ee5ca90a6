package main

import (
	"context"
	"fmt"
	"log"

	"github.com/ThiagoRGoveia/address-sync/internal/config"
	"github.com/ThiagoRGoveia/address-sync/internal/database"
	"github.com/joho/godotenv"
)

func main() {
	fmt.Println("Starting database setup...")

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	var dbManager database.DBManager
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		dbpool, err := database.ConnectDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		dbManager = database.NewPostgresDBManager(dbpool)
	case config.StoreDriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Unable to open sqlite database: %v", err)
		}
		dbManager = database.NewSQLiteDBManager(db)
	default:
		log.Fatalf("STORE_DRIVER %q has no schema to create", cfg.StoreDriver)
	}
	defer dbManager.Close()

	fmt.Printf("Creating addresses, sync_runs and sync_rejections tables (%s)...\n", cfg.StoreDriver)
	if err := dbManager.CreateTables(ctx); err != nil {
		log.Fatalf("Error creating tables: %v", err)
	}

	fmt.Println("Database setup finished successfully.")
}
