package main

import (
	"context"
	"errors"
	"log"

	"github.com/xtrntr/matchbook/internal/config"
	"github.com/xtrntr/matchbook/internal/db"
	"github.com/xtrntr/matchbook/internal/models"
	"github.com/xtrntr/matchbook/internal/money"

	"golang.org/x/crypto/bcrypt"
)

type seedUser struct {
	username string
	password string
	balance  string
	assets   map[string]string // symbol -> amount
}

// Seed the database with test users, balances, and asset holdings
func main() {
	cfg := config.Load()
	ctx := context.Background()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	users := []seedUser{
		{
			username: "admin",
			password: "12345678",
			balance:  "10000",
			assets:   map[string]string{"BTC": "5", "ETH": "10"},
		},
		{
			username: "user",
			password: "12345678",
			balance:  "20000",
			assets:   map[string]string{"BTC": "10", "ETH": "20"},
		},
	}

	for _, su := range users {
		user, err := database.GetUserByUsername(ctx, su.username)
		if errors.Is(err, db.ErrNotFound) {
			user, err = createUser(ctx, database, su)
		}
		if err != nil {
			log.Fatalf("Failed to seed user %s: %v", su.username, err)
		}

		for symbol, amount := range su.assets {
			if err := seedAsset(ctx, database, user, symbol, amount); err != nil {
				log.Fatalf("Failed to seed asset %s for %s: %v", symbol, su.username, err)
			}
		}

		log.Printf("Seeded user %s (id=%d)", su.username, user.ID)
	}
}

func createUser(ctx context.Context, database *db.DB, su seedUser) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(su.password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := database.CreateUser(ctx, su.username, string(hash))
	if err != nil {
		return nil, err
	}

	balance, err := money.NewBalance(su.balance)
	if err != nil {
		return nil, err
	}
	if err := database.UpdateUserBalance(ctx, database.Pool, user.ID, balance); err != nil {
		return nil, err
	}
	user.Balance = balance
	return user, nil
}

func seedAsset(ctx context.Context, database *db.DB, user *models.User, symbol, amount string) error {
	parsed, err := money.NewAmount(amount)
	if err != nil {
		return err
	}

	_, err = database.Pool.Exec(ctx,
		"INSERT INTO assets (user_id, symbol, amount) VALUES ($1, $2, $3) ON CONFLICT (user_id, symbol) DO NOTHING",
		user.ID, symbol, parsed)
	return err
}
