package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type productJSON struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		jwtSecret    string
		adminID      int64
		adminEmail   string
		tokenTTL     time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or STORE_DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "session signing secret used to mint an admin token (or STORE_AUTH_JWT_SECRET env)")
	flag.Int64Var(&adminID, "admin-id", 1, "user id embedded in the admin token")
	flag.StringVar(&adminEmail, "admin-email", "admin@example.com", "email embedded in the admin token")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "admin token lifetime")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("STORE_DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or STORE_DATABASE_URL")
		os.Exit(1)
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("STORE_AUTH_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")

	if jwtSecret == "" {
		slog.Info("no signing secret given, skipping admin token")
		return
	}
	token, err := auth.NewJWTAuthenticator(jwtSecret, "").Issue(auth.Identity{
		UserID:  adminID,
		Email:   adminEmail,
		IsAdmin: true,
	}, tokenTTL)
	if err != nil {
		slog.Error("issue admin token", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("issued admin token", slog.Int64("user_id", adminID), slog.Duration("ttl", tokenTTL))
	fmt.Println(token)
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products, err := readProducts(productsFile)
	if err != nil {
		return err
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	store := postgres.NewStore(pool)
	return store.InCatalogTx(ctx, func(q *postgres.Queries) error {
		for _, p := range products {
			if err := q.UpsertProduct(ctx, postgres.CatalogProduct{
				ID:          p.ID,
				Name:        p.Name,
				Description: p.Description,
				Price:       p.Price,
				Stock:       p.Stock,
			}); err != nil {
				return err
			}

			slog.Info("upserted product", slog.Int64("id", p.ID), slog.String("name", p.Name), slog.Int("stock", p.Stock))
		}
		return q.ResetProductSequence(ctx)
	})
}

func readProducts(path string) ([]productJSON, error) {
	slog.Info("reading products file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	for _, p := range products {
		switch {
		case p.ID <= 0:
			return nil, errors.Errorf("product %q: id must be positive", p.Name)
		case p.Price.IsNegative():
			return nil, errors.Errorf("product %d: price must not be negative", p.ID)
		case p.Stock < 0:
			return nil, errors.Errorf("product %d: stock must not be negative", p.ID)
		}
	}

	return products, nil
}
