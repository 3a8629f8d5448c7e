// Command offer-ingest bulk-imports promotional offers from partner feed
// exports. A feed is a gzip-compressed JSON-lines file (one offer object
// per line) dropped into a shared directory as offersN.json.gz. The
// importer streams all feed files concurrently, validates each offer with
// the same rules as the admin create path, dedupes campaigns that appear
// in more than one regional export, and upserts the rest by id. Upserts
// refresh definition columns only, so re-running an import never resets
// redemption counters.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/saborly/saborly-backend/internal/domain/offer"
	"github.com/saborly/saborly-backend/internal/storage/postgres"
)

const (
	feedPattern   = "offers*.json.gz"
	bloomCapacity = 5_000_000
	bloomFPR      = 0.001
	progressEvery = 50_000
	maxLineBytes  = 1 << 20
)

// feedStats counts the outcome of parsing a single feed file.
type feedStats struct {
	lines   uint64
	invalid uint64
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing offers*.json.gz feed files")
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

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("offer ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("offer ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, feedPattern))
	if err != nil {
		return errors.Wrap(err, "glob feed files")
	}
	if len(files) == 0 {
		return errors.Errorf("no %s files in %s", feedPattern, dataDir)
	}

	slog.Info("ingesting offer feeds", slog.Int("files", len(files)))

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	store := postgres.NewOfferStore(pool)
	stats := make([]feedStats, len(files))
	feed := make(chan *offer.Offer, 256)

	var imported, duplicates uint64

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(feed)

		pg, ctx := errgroup.WithContext(ctx)
		for i, f := range files {
			pg.Go(parseFeedFile(ctx, i, f, feed, stats))
		}
		return pg.Wait()
	})

	// A single writer keeps the dedupe filter single-threaded.
	g.Go(func() error {
		seen := bloom.NewWithEstimates(bloomCapacity, bloomFPR)

		for o := range feed {
			if seen.TestAndAddString(dedupeKey(o)) {
				duplicates++
				continue
			}
			if err := store.Upsert(ctx, o); err != nil {
				return errors.Wrapf(err, "upsert offer %s", o.ID)
			}
			imported++
			if imported%progressEvery == 0 {
				slog.Info("write progress", slog.Uint64("imported", imported))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	var lines, invalid uint64
	for _, s := range stats {
		lines += s.lines
		invalid += s.invalid
	}

	slog.Info("ingest summary",
		slog.Uint64("lines", lines),
		slog.Uint64("imported", imported),
		slog.Uint64("duplicates", duplicates),
		slog.Uint64("invalid", invalid),
	)

	return nil
}

// dedupeKey identifies an offer across feed files. Coded offers collide on
// their code so regional exports of the same campaign import once; codeless
// offers fall back to their id.
func dedupeKey(o *offer.Offer) string {
	if o.Code != "" {
		return "code:" + strings.ToUpper(o.Code)
	}
	return "id:" + o.ID
}

// parseFeedFile streams one feed file, sending decoded offers downstream.
// Malformed or invalid lines are logged and skipped rather than failing
// the whole import.
func parseFeedFile(
	ctx context.Context,
	idx int,
	path string,
	out chan<- *offer.Offer,
	stats []feedStats,
) func() error {
	return func() error {
		now := time.Now().UTC()
		var lines, invalid uint64

		if err := streamGzFile(ctx, path, func(line []byte) error {
			if len(line) == 0 {
				return nil
			}

			lines++
			if lines%progressEvery == 0 {
				slog.Info("parse progress", slog.Int("file", idx+1), slog.Uint64("lines", lines))
			}

			o, err := parseOffer(line, now)
			if err != nil {
				invalid++
				slog.Warn("skipping invalid offer",
					slog.Int("file", idx+1),
					slog.Uint64("line", lines),
					slog.String("error", err.Error()),
				)
				return nil
			}

			select {
			case out <- o:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}); err != nil {
			return errors.Wrapf(err, "parse feed %s", path)
		}

		slog.Info("feed parsed",
			slog.Int("file", idx+1),
			slog.Uint64("lines", lines),
			slog.Uint64("invalid", invalid),
		)

		stats[idx] = feedStats{lines: lines, invalid: invalid}
		return nil
	}
}

// parseOffer decodes one feed line. Feeds never carry ledger state;
// identity and limit fields get the same defaults the admin create path
// applies.
func parseOffer(line []byte, now time.Time) (*offer.Offer, error) {
	var o offer.Offer

	d := jx.DecodeBytes(line)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			o.ID, err = d.Str()
		case "title":
			o.Title, err = d.Str()
		case "description":
			o.Description, err = d.Str()
		case "code":
			o.Code, err = d.Str()
		case "type":
			var s string
			s, err = d.Str()
			o.Type = offer.Type(s)
		case "value":
			o.Value, err = decimalField(d)
		case "maxDiscountAmount":
			o.MaxDiscount, err = decimalField(d)
		case "minOrderAmount":
			o.MinOrderAmount, err = decimalField(d)
		case "usageLimit":
			o.UsageLimit, err = d.Int()
		case "userUsageLimit":
			o.UserUsageLimit, err = d.Int()
		case "oneTimePerDevice":
			o.OneTimePerDevice, err = d.Bool()
		case "platforms":
			err = d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				if err != nil {
					return err
				}
				o.Platforms = append(o.Platforms, offer.Platform(s))
				return nil
			})
		case "deliveryTypes":
			err = d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				if err != nil {
					return err
				}
				o.DeliveryTypes = append(o.DeliveryTypes, offer.DeliveryType(s))
				return nil
			})
		case "appliedItems":
			o.AppliedItems, err = stringArr(d)
		case "appliedCategories":
			o.AppliedCategories, err = stringArr(d)
		case "excludedItems":
			o.ExcludedItems, err = stringArr(d)
		case "comboItems":
			o.ComboItems, err = stringArr(d)
		case "comboPrice":
			o.ComboPrice, err = decimalField(d)
		case "startDate":
			o.StartDate, err = timeField(d)
		case "endDate":
			o.EndDate, err = timeField(d)
		case "priority":
			o.Priority, err = d.Int()
		case "featured":
			o.Featured, err = d.Bool()
		case "active":
			o.Active, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, err
	}

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Priority == 0 {
		o.Priority = 1
	}
	if o.UserUsageLimit == 0 {
		o.UserUsageLimit = 1
	}
	o.CreatedAt = now
	o.UpdatedAt = now

	if err := o.Validate(); err != nil {
		return nil, err
	}

	return &o, nil
}

func stringArr(d *jx.Decoder) ([]string, error) {
	var out []string
	if err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// decimalField reads a JSON number without a float round trip. Some
// partner feeds quote money values; the quotes are stripped before
// parsing.
func decimalField(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	s := n.String()
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	return decimal.NewFromString(s)
}

func timeField(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
