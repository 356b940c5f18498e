package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type rate struct {
	ProductTypeID int             `json:"productTypeId"`
	Surcharge     decimal.Decimal `json:"surcharge"`
}

// Product type ids follow the sample catalog: laptops, smartphones, digital cameras.
var defaultRates = []rate{
	{ProductTypeID: 21, Surcharge: decimal.NewFromInt(100)},
	{ProductTypeID: 32, Surcharge: decimal.NewFromInt(50)},
	{ProductTypeID: 33, Surcharge: decimal.RequireFromString("75.50")},
}

func main() {
	file := flag.String("file", "", "JSON file with [{\"productTypeId\":1,\"surcharge\":10}] entries")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	rates := defaultRates
	if *file != "" {
		loaded, err := loadRates(*file)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", *file, err)
		}
		rates = loaded
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	if err := seedSurcharges(db, rates); err != nil {
		log.Fatalf("Failed to seed surcharges: %v", err)
	}
	log.Printf("Seeded %d surcharge rates", len(rates))
}

func loadRates(path string) ([]rate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rates []rate
	if err := json.Unmarshal(data, &rates); err != nil {
		return nil, err
	}
	return rates, nil
}

func seedSurcharges(db *sql.DB, rates []rate) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO surcharges (product_type_id, surcharge) VALUES ($1, $2::numeric)
		ON CONFLICT (product_type_id) DO UPDATE SET surcharge = EXCLUDED.surcharge, updated_at = now()
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rates {
		if r.ProductTypeID <= 0 || r.Surcharge.IsNegative() {
			log.Printf("Skipping invalid rate for product type %d", r.ProductTypeID)
			continue
		}
		if _, err := stmt.Exec(r.ProductTypeID, r.Surcharge.Round(2).String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}
