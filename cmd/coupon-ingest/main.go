// Command coupon-ingest imports bulk promo-code drops. Marketing supplies
// three large gzipped code lists; a code is considered genuine only when it
// appears in at least two of the three files. The cross-check runs on bloom
// filters so the full sets never have to fit in memory at once.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/coupon"
	"github.com/KilaBean/my-ecommerce-api/internal/storage/postgres"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	sourceFiles   = 3
	logEvery      = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
	writeBatch    = 500
)

// codeRule describes the discount applied when a known promo code is
// redeemed. Codes outside this table get the default rule.
type codeRule struct {
	discountType coupon.DiscountType
	value        string
	maxUses      int
}

var codeRules = map[string]codeRule{
	"FIFTYOFF": {discountType: coupon.DiscountPercentage, value: "50"},
	"SIXTYOFF": {discountType: coupon.DiscountPercentage, value: "60"},
	"HAPPYHRS": {discountType: coupon.DiscountPercentage, value: "18"},
	"GNULINUX": {discountType: coupon.DiscountPercentage, value: "15"},
	"OVER9000": {discountType: coupon.DiscountFixed, value: "9"},
	"BIRTHDAY": {discountType: coupon.DiscountFixed, value: "15", maxUses: 1000},
}

var defaultRule = codeRule{
	discountType: coupon.DiscountPercentage,
	value:        "10",
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couponbaseN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
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

	ing := &ingestor{dataDir: dataDir}
	if err := ing.run(ctx, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed")
}

type ingestor struct {
	dataDir string
	files   []string
	filters []*bloom.BloomFilter
}

func (ing *ingestor) run(ctx context.Context, databaseURL string) error {
	for i := 1; i <= sourceFiles; i++ {
		path := filepath.Join(ing.dataDir, fmt.Sprintf("couponbase%d.gz", i))
		if _, err := os.Stat(path); err != nil {
			return errors.Wrap(err, "locate source file")
		}
		ing.files = append(ing.files, path)
	}

	slog.Info("indexing source files", slog.Int("files", len(ing.files)))
	if err := ing.index(ctx); err != nil {
		return errors.Wrap(err, "index")
	}

	slog.Info("cross-checking codes against other files")
	codes, err := ing.crossCheck(ctx)
	if err != nil {
		return errors.Wrap(err, "cross-check")
	}
	slog.Info("genuine codes identified", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return errors.Wrap(upsertCodes(ctx, pool, codes), "upsert codes")
}

// index builds one bloom filter per source file, all files in parallel.
func (ing *ingestor) index(ctx context.Context) error {
	ing.filters = make([]*bloom.BloomFilter, len(ing.files))

	g, ctx := errgroup.WithContext(ctx)
	for i := range ing.files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var seen uint64

			err := eachLine(ctx, ing.files[i], func(code string) {
				if len(code) < minCodeLen || len(code) > maxCodeLen {
					return
				}
				filter.AddString(code)
				if seen++; seen%logEvery == 0 {
					slog.Info("indexing", slog.Int("file", i+1), slog.Uint64("codes", seen))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}

			slog.Info("indexed", slog.Int("file", i+1), slog.Uint64("codes", seen))
			ing.filters[i] = filter
			return nil
		})
	}
	return g.Wait()
}

// crossCheck re-streams every file, testing each code against the filters of
// the other files. Per code it accumulates a bitmask of files that (probably)
// contain it; two or more set bits make the code genuine. Bloom false
// positives can only let a stray code in, never drop a genuine one.
func (ing *ingestor) crossCheck(ctx context.Context) ([]string, error) {
	perFile := make([]map[string]uint, len(ing.files))

	g, ctx := errgroup.WithContext(ctx)
	for i := range ing.files {
		g.Go(func() error {
			hits := make(map[string]uint)
			var seen uint64

			err := eachLine(ctx, ing.files[i], func(code string) {
				if len(code) < minCodeLen || len(code) > maxCodeLen {
					return
				}
				if seen++; seen%logEvery == 0 {
					slog.Info("cross-checking", slog.Int("file", i+1), slog.Uint64("codes", seen))
				}
				for j, f := range ing.filters {
					if j != i && f.TestString(code) {
						hits[code] |= 1 << uint(j)
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}

			slog.Info("cross-checked",
				slog.Int("file", i+1),
				slog.Uint64("codes", seen),
				slog.Int("candidates", len(hits)),
			)
			perFile[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for i, hits := range perFile {
		own := uint(1) << uint(i)
		for code, mask := range hits {
			merged[code] |= own | mask
		}
	}

	var genuine []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			genuine = append(genuine, code)
		}
	}
	return genuine, nil
}

// eachLine streams a gzipped file line by line.
func eachLine(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(sc.Text())
	}
	return errors.Wrap(sc.Err(), "scan")
}

const upsertCouponSQL = `
INSERT INTO coupons (id, code, discount_type, value, is_active, max_uses, usage_count)
VALUES ($1, $2, $3, $4, TRUE, $5, 0)
ON CONFLICT (code) DO UPDATE
SET discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
    max_uses = EXCLUDED.max_uses, is_active = TRUE`

// upsertCodes writes the genuine codes in batches. Existing codes keep their
// usage counters; only the rule fields are refreshed.
func upsertCodes(ctx context.Context, pool *pgxpool.Pool, codes []string) error {
	slog.Info("writing coupons", slog.Int("count", len(codes)))

	for off := 0; off < len(codes); off += writeBatch {
		end := min(off+writeBatch, len(codes))

		var batch pgx.Batch
		for _, raw := range codes[off:end] {
			code := coupon.Normalize(strings.TrimSpace(raw))
			rule, ok := codeRules[code]
			if !ok {
				rule = defaultRule
			}

			value, err := decimal.NewFromString(rule.value)
			if err != nil {
				return errors.Wrapf(err, "rule value for %s", code)
			}

			var maxUses any
			if rule.maxUses > 0 {
				maxUses = rule.maxUses
			}
			batch.Queue(upsertCouponSQL,
				uuid.NewSHA1(uuid.NameSpaceOID, []byte("promo:"+code)).String(),
				code, rule.discountType, value, maxUses)
		}

		if err := pool.SendBatch(ctx, &batch).Close(); err != nil {
			return errors.Wrapf(err, "batch at offset %d", off)
		}
		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(codes)))
	}
	return nil
}
