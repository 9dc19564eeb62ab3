package main

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pos/internal/config"
	"github.com/noah-isme/backend-pos/internal/db"
	"github.com/noah-isme/backend-pos/internal/obs"
)

type seedProduct struct {
	name  string
	sku   string
	price int64
	stock int32
}

var seedData = map[string][]seedProduct{
	"Beverages": {
		{name: "Drinking Water 500ml", sku: "BEV-001", price: 50, stock: 200},
		{name: "Soda 300ml", sku: "BEV-002", price: 80, stock: 150},
		{name: "Fresh Juice 1L", sku: "BEV-003", price: 250, stock: 40},
	},
	"Snacks": {
		{name: "Crisps 100g", sku: "SNK-001", price: 120, stock: 80},
		{name: "Biscuits", sku: "SNK-002", price: 95, stock: 120},
	},
	"Household": {
		{name: "Bar Soap", sku: "HSE-001", price: 150, stock: 60},
		{name: "Matchbox", sku: "HSE-002", price: 10, stock: 300},
	},
}

func main() {
	logger := obs.NewLogger("console", "info")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, "backend-pos-seeder")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	for category, products := range seedData {
		var categoryID uuid.UUID
		err := pool.QueryRow(ctx,
			`INSERT INTO categories (name) VALUES ($1)
			 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`, category).Scan(&categoryID)
		if err != nil {
			logger.Fatal().Err(err).Str("category", category).Msg("seed category")
		}
		for _, p := range products {
			_, err := pool.Exec(ctx,
				`INSERT INTO products (category_id, name, sku, price, stock)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (sku) DO UPDATE SET price = EXCLUDED.price`,
				categoryID, p.name, p.sku, p.price, p.stock)
			if err != nil {
				logger.Fatal().Err(err).Str("sku", p.sku).Msg("seed product")
			}
		}
		logger.Info().Str("category", category).Int("products", len(products)).Msg("seeded")
	}
	logger.Info().Msg("seed complete")
}
