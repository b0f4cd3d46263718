package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/stocksim/internal/auth"
	"github.com/xtrntr/stocksim/internal/config"
	"github.com/xtrntr/stocksim/internal/db"
	"github.com/xtrntr/stocksim/internal/models"
)

type trader struct {
	username string
	cash     string
	shares   int64
}

type seedOrder struct {
	username string
	side     string
	shares   int64
	price    string
}

var traders = []trader{
	{username: "trader1", cash: "10000", shares: 0},
	{username: "trader2", cash: "0", shares: 100},
	{username: "trader3", cash: "5000", shares: 50},
}

// Crossing orders so the first matching run has work to do.
var orders = []seedOrder{
	{username: "trader1", side: models.SideBuy, shares: 10, price: "20"},
	{username: "trader2", side: models.SideSell, shares: 10, price: "19"},
	{username: "trader3", side: models.SideBuy, shares: 5, price: "18.50"},
	{username: "trader2", side: models.SideSell, shares: 20, price: "18.25"},
	{username: "trader3", side: models.SideSell, shares: 10, price: "25"},
}

const seedPassword = "password123"

// Seed the database with traders, grants and crossing orders
func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.Database.Driver != "postgres" {
		slog.Error("seed needs the postgres driver", slog.String("driver", cfg.Database.Driver))
		os.Exit(1)
	}

	ctx := context.Background()
	database, err := db.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer database.Close(ctx)

	if _, err := database.GetUserByUsername(ctx, traders[0].username); err == nil {
		fmt.Println("Database already seeded. Nothing to do.")
		return
	} else if !errors.Is(err, models.ErrNotFound) {
		slog.Error("failed to check for existing users", slog.String("error", err.Error()))
		os.Exit(1)
	}

	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	ids := make(map[string]*models.User, len(traders))
	for _, tr := range traders {
		user, err := authService.Register(ctx, tr.username, seedPassword)
		if err != nil {
			slog.Error("failed to create user", slog.String("username", tr.username), slog.String("error", err.Error()))
			os.Exit(1)
		}
		if _, err := database.GrantAccount(ctx, user.ID, decimal.RequireFromString(tr.cash), tr.shares); err != nil {
			slog.Error("failed to grant", slog.String("username", tr.username), slog.String("error", err.Error()))
			os.Exit(1)
		}
		ids[tr.username] = user
	}

	for _, so := range orders {
		o := &models.Order{
			UserID: ids[so.username].ID,
			Side:   so.side,
			Shares: so.shares,
			Price:  decimal.RequireFromString(so.price),
		}
		if _, err := database.CreateOrder(ctx, o); err != nil {
			slog.Error("failed to create order", slog.String("username", so.username), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	fmt.Printf("Seeded %d traders and %d orders (password %q).\n", len(traders), len(orders), seedPassword)
}
