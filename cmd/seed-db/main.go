// Command seed-db provisions a database with the demo menu and a set of
// promotional offers. It is idempotent: menu items and offers are upserted
// by id, so re-running refreshes definitions without touching redemption
// ledgers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/saborly/saborly-backend/internal/domain/menu"
	"github.com/saborly/saborly-backend/internal/domain/offer"
	"github.com/saborly/saborly-backend/internal/storage/postgres"
)

type menuItemJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	ImageURL    string          `json:"imageUrl"`
	Available   bool            `json:"available"`
}

func main() {
	var (
		databaseURL string
		menuFile    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&menuFile, "menu-file", "db/seed/menu.json", "path to menu JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, menuFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, menuFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedMenu(ctx, postgres.NewMenuRepository(pool), menuFile); err != nil {
		return errors.Wrap(err, "seed menu")
	}

	if err := seedOffers(ctx, postgres.NewOfferStore(pool)); err != nil {
		return errors.Wrap(err, "seed offers")
	}

	return nil
}

func seedMenu(ctx context.Context, repo *postgres.MenuRepository, menuFile string) error {
	slog.Info("reading menu file", slog.String("path", menuFile))

	data, err := os.ReadFile(menuFile)
	if err != nil {
		return errors.Wrap(err, "read menu file")
	}

	var items []menuItemJSON
	if err := json.Unmarshal(data, &items); err != nil {
		return errors.Wrap(err, "parse menu JSON")
	}

	slog.Info("upserting menu items", slog.Int("count", len(items)))

	for _, it := range items {
		if err := repo.Upsert(ctx, menu.Item{
			ID:          it.ID,
			Name:        it.Name,
			Description: it.Description,
			Price:       it.Price,
			Category:    it.Category,
			ImageURL:    it.ImageURL,
			Available:   it.Available,
		}); err != nil {
			return errors.Wrapf(err, "upsert menu item %s", it.ID)
		}

		slog.Info("upserted menu item", slog.String("id", it.ID), slog.String("name", it.Name))
	}

	return nil
}

// seedOffers writes the demo campaign set. Every offer must pass the same
// validation as the admin create path, so a broken edit here fails the
// seed instead of surfacing at evaluation time.
func seedOffers(ctx context.Context, store *postgres.OfferStore) error {
	slog.Info("seeding demo offers")

	var (
		now       = time.Now().UTC()
		seedStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		seedEnd   = time.Date(2030, 12, 31, 23, 59, 59, 0, time.UTC)
	)

	offers := []offer.Offer{
		{
			ID:             "seed-welcome10",
			Title:          "Welcome 10% Off",
			Description:    "10% off your order, up to $5",
			Code:           "WELCOME10",
			Type:           offer.TypePercentage,
			Value:          decimal.NewFromInt(10),
			MaxDiscount:    decimal.NewFromInt(5),
			MinOrderAmount: decimal.NewFromInt(15),
			UserUsageLimit: 1,
			StartDate:      seedStart,
			EndDate:        seedEnd,
			Priority:       5,
			Featured:       true,
			Active:         true,
		},
		{
			ID:             "seed-save5",
			Title:          "$5 Off Orders Over $20",
			Description:    "Flat $5 off when you spend $20 or more",
			Code:           "SAVE5",
			Type:           offer.TypeFixedAmount,
			Value:          decimal.NewFromInt(5),
			MinOrderAmount: decimal.NewFromInt(20),
			UserUsageLimit: 3,
			StartDate:      seedStart,
			EndDate:        seedEnd,
			Priority:       4,
			Active:         true,
		},
		{
			ID:             "seed-freeship",
			Title:          "Free Delivery",
			Description:    "No delivery fee on orders over $25",
			Code:           "FREESHIP",
			Type:           offer.TypeFreeDelivery,
			MinOrderAmount: decimal.NewFromInt(25),
			UserUsageLimit: 5,
			DeliveryTypes:  []offer.DeliveryType{offer.DeliveryTypeDelivery},
			StartDate:      seedStart,
			EndDate:        seedEnd,
			Priority:       3,
			Active:         true,
		},
		{
			ID:             "seed-bogopizza",
			Title:          "Buy One Get One Pizza",
			Description:    "Order two of the same pizza, the second is free",
			Code:           "BOGOPIZZA",
			Type:           offer.TypeBuyOneGetOne,
			AppliedItems:   []string{"1", "2"},
			UserUsageLimit: 2,
			StartDate:      seedStart,
			EndDate:        seedEnd,
			Priority:       6,
			Featured:       true,
			Active:         true,
		},
		{
			ID:             "seed-datenight",
			Title:          "Date Night Combo",
			Description:    "Pizza, tiramisu and lemonade for $19.99",
			Code:           "DATENIGHT",
			Type:           offer.TypeCombo,
			ComboItems:     []string{"1", "5", "6"},
			ComboPrice:     decimal.RequireFromString("19.99"),
			UserUsageLimit: 2,
			StartDate:      seedStart,
			EndDate:        seedEnd,
			Priority:       7,
			Active:         true,
		},
		{
			ID:               "seed-tryus15",
			Title:            "First Order 15% Off",
			Description:      "One per device: 15% off your first order",
			Code:             "TRYUS15",
			Type:             offer.TypePercentage,
			Value:            decimal.NewFromInt(15),
			UsageLimit:       1000,
			UserUsageLimit:   1,
			OneTimePerDevice: true,
			StartDate:        seedStart,
			EndDate:          seedEnd,
			Priority:         8,
			Active:           true,
		},
		{
			ID:             "seed-expired20",
			Title:          "Spring Special",
			Description:    "20% off, spring 2024 only",
			Code:           "EXPIRED20",
			Type:           offer.TypePercentage,
			Value:          decimal.NewFromInt(20),
			UserUsageLimit: 1,
			StartDate:      seedStart,
			EndDate:        time.Date(2024, 6, 30, 23, 59, 59, 0, time.UTC),
			Priority:       5,
			Active:         true,
		},
	}

	for i := range offers {
		o := &offers[i]
		o.CreatedAt = now
		o.UpdatedAt = now

		if err := o.Validate(); err != nil {
			return errors.Wrapf(err, "offer %s", o.Code)
		}
		if err := store.Upsert(ctx, o); err != nil {
			return errors.Wrapf(err, "upsert offer %s", o.Code)
		}

		slog.Info("upserted offer", slog.String("code", o.Code), slog.String("title", o.Title))
	}

	return nil
}
