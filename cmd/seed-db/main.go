// Command seed-db loads the demo catalog, a pair of accounts with API keys,
// and the starter coupons into the database. Every write is an upsert, so
// reseeding an existing database is safe.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/KilaBean/my-ecommerce-api/internal/storage/postgres"
)

type variantJSON struct {
	SKU        string            `json:"sku"`
	Price      decimal.Decimal   `json:"price"`
	Stock      int               `json:"stock"`
	Attributes map[string]string `json:"attributes"`
}

type productJSON struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Variants    []variantJSON `json:"variants"`
}

func main() {
	var (
		databaseURL string
		catalogFile string
		adminKey    string
		userKey     string
		pepper      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&adminKey, "admin-key", "", "admin API key to seed (or SHOP_SEED_ADMIN_KEY env)")
	flag.StringVar(&userKey, "user-key", "", "customer API key to seed (or SHOP_SEED_USER_KEY env)")
	flag.StringVar(&pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("SHOP_SEED_ADMIN_KEY")
	}
	if userKey == "" {
		userKey = os.Getenv("SHOP_SEED_USER_KEY")
	}
	if adminKey == "" || userKey == "" {
		slog.Error("API keys are required: set --admin-key/--user-key or SHOP_SEED_ADMIN_KEY/SHOP_SEED_USER_KEY")
		os.Exit(1)
	}
	if pepper == "" {
		pepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, adminKey, userKey, pepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, adminKey, userKey, pepper string) error {
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

	if err := seedCatalog(ctx, pool, catalogFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedAccounts(ctx, pool, adminKey, userKey, pepper); err != nil {
		return errors.Wrap(err, "seed accounts")
	}

	return nil
}

// seedID derives a stable UUID from a seed name so reseeding reuses the same
// rows instead of inserting duplicates.
func seedID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("seed:"+name)).String()
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, catalogFile string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		productID := seedID("product:" + p.Name)
		_, err := pool.Exec(ctx,
			`INSERT INTO products (id, name, description, category, is_active)
			 VALUES ($1, $2, $3, $4, TRUE)
			 ON CONFLICT (id) DO UPDATE
			 SET name = EXCLUDED.name, description = EXCLUDED.description,
			     category = EXCLUDED.category`,
			productID, p.Name, p.Description, p.Category)
		if err != nil {
			return errors.Wrapf(err, "upsert product %q", p.Name)
		}

		for _, v := range p.Variants {
			attrs, err := json.Marshal(v.Attributes)
			if err != nil {
				return errors.Wrap(err, "marshal attributes")
			}
			_, err = pool.Exec(ctx,
				`INSERT INTO product_variants (id, product_id, sku, price, stock, attributes)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (sku) DO UPDATE
				 SET price = EXCLUDED.price, attributes = EXCLUDED.attributes`,
				seedID("variant:"+v.SKU), productID, v.SKU, v.Price, v.Stock, attrs)
			if err != nil {
				return errors.Wrapf(err, "upsert variant %q", v.SKU)
			}
		}

		slog.Info("upserted product", slog.String("name", p.Name), slog.Int("variants", len(p.Variants)))
	}

	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding starter coupons")

	coupons := []struct {
		code         string
		discountType string
		value        decimal.Decimal
		maxUses      int
	}{
		{code: "SAVE10", discountType: "PERCENTAGE", value: decimal.NewFromInt(10)},
		{code: "WELCOME5", discountType: "FIXED", value: decimal.NewFromInt(5), maxUses: 500},
	}

	for _, c := range coupons {
		var maxUses any
		if c.maxUses > 0 {
			maxUses = c.maxUses
		}
		_, err := pool.Exec(ctx,
			`INSERT INTO coupons (id, code, discount_type, value, is_active, max_uses, usage_count)
			 VALUES ($1, $2, $3, $4, TRUE, $5, 0)
			 ON CONFLICT (code) DO UPDATE
			 SET discount_type = EXCLUDED.discount_type, value = EXCLUDED.value`,
			seedID("coupon:"+c.code), c.code, c.discountType, c.value, maxUses)
		if err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}

		slog.Info("upserted coupon", slog.String("code", c.code))
	}

	return nil
}

func seedAccounts(ctx context.Context, pool *pgxpool.Pool, adminKey, userKey, pepper string) error {
	slog.Info("seeding accounts and API keys")

	accounts := []struct {
		email    string
		username string
		role     string
		key      string
	}{
		{email: "admin@example.com", username: "admin", role: "ADMIN", key: adminKey},
		{email: "customer@example.com", username: "customer", role: "USER", key: userKey},
	}

	for _, a := range accounts {
		userID := seedID("user:" + a.email)
		_, err := pool.Exec(ctx,
			`INSERT INTO users (id, email, username, role, is_active)
			 VALUES ($1, $2, $3, $4, TRUE)
			 ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role`,
			userID, a.email, a.username, a.role)
		if err != nil {
			return errors.Wrapf(err, "upsert user %s", a.email)
		}

		mac := hmac.New(sha256.New, []byte(pepper))
		mac.Write([]byte(a.key))
		keyHash := hex.EncodeToString(mac.Sum(nil))

		_, err = pool.Exec(ctx,
			`INSERT INTO api_keys (id, user_id, key_hash, name)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash`,
			seedID("apikey:"+a.email), userID, keyHash, a.username+" key")
		if err != nil {
			return errors.Wrapf(err, "upsert api key for %s", a.email)
		}

		slog.Info("upserted account", slog.String("email", a.email), slog.String("role", a.role))
	}

	return nil
}
