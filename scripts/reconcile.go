package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// Lists rewards that were claimed but never paid out: FAILED transfers
// and PENDING rewards older than an hour. These need a manual payout or
// a support decision; nothing here mutates state.
func main() {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			envOr("DB_HOST", "localhost"),
			envOr("DB_PORT", "5432"),
			envOr("DB_USER", "postgres"),
			os.Getenv("DB_PASSWORD"),
			envOr("DB_NAME", "predictpix"),
		)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("Failed to ping database:", err)
	}

	rows, err := db.Query(`
		SELECT r.id, r.user_id, r.market_id, r.amount, r.status, r.created_at, u.wallet_address
		FROM rewards r
		JOIN users u ON u.id = r.user_id
		WHERE r.status = 'FAILED'
		   OR (r.status = 'PENDING' AND r.created_at < NOW() - INTERVAL '1 hour')
		ORDER BY r.created_at ASC
	`)
	if err != nil {
		log.Fatal("Failed to query rewards:", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			id, status, createdAt, wallet string
			userID, marketID              uint
			amount                        int64
		)
		if err := rows.Scan(&id, &userID, &marketID, &amount, &status, &createdAt, &wallet); err != nil {
			log.Fatal("Failed to scan row:", err)
		}
		count++
		fmt.Printf("reward=%s user=%d market=%d amount=%d status=%s created=%s wallet=%s\n",
			id, userID, marketID, amount, status, createdAt, wallet)
	}
	if err := rows.Err(); err != nil {
		log.Fatal("Row iteration failed:", err)
	}

	if count == 0 {
		fmt.Println("No unpaid claimed rewards found")
		return
	}
	fmt.Printf("%d rewards need reconciliation\n", count)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
