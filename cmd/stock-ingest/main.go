package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 100_000
	filePattern   = "restock*.csv.gz"
)

// fileResult holds per-product quantities summed over one file.
type fileResult struct {
	totals  map[int64]int
	skipped int
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing restock*.csv.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or STORE_DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("STORE_DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or STORE_DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("stock ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("stock ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, filePattern))
	if err != nil {
		return errors.Wrap(err, "list restock files")
	}
	if len(files) == 0 {
		slog.Info("no restock files found", slog.String("dir", dataDir))
		return nil
	}
	sort.Strings(files)

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	store := postgres.NewStore(pool)

	ids, err := store.Catalog().ProductIDs(ctx)
	if err != nil {
		return errors.Wrap(err, "load catalog")
	}
	known := catalogFilter(ids)

	slog.Info("scanning restock files", slog.Int("files", len(files)), slog.Int("products", len(ids)))

	totals, err := sumFiles(ctx, files, known)
	if err != nil {
		return errors.Wrap(err, "sum restock files")
	}
	if len(totals) == 0 {
		slog.Info("no stock to apply")
		return nil
	}

	return applyStock(ctx, store, totals)
}

// catalogFilter returns a filter of known product ids used to drop rows
// for products that are not in the catalog before touching the database.
func catalogFilter(ids []int64) *bloom.BloomFilter {
	n := uint(len(ids))
	if n == 0 {
		n = 1
	}
	f := bloom.NewWithEstimates(n, bloomFPR)
	for _, id := range ids {
		f.AddString(strconv.FormatInt(id, 10))
	}
	return f
}

// sumFiles scans every file concurrently and merges the per-product totals.
func sumFiles(ctx context.Context, files []string, known *bloom.BloomFilter) (map[int64]int, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(sumFile(ctx, i, f, known, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[int64]int)
	for _, r := range results {
		for id, qty := range r.totals {
			merged[id] += qty
		}
	}
	return merged, nil
}

func sumFile(
	ctx context.Context,
	idx int,
	path string,
	known *bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		res := fileResult{totals: make(map[int64]int)}
		var rows uint64

		if err := streamGzFile(ctx, path, func(line string) error {
			id, qty, ok, err := parseRow(line)
			if err != nil {
				return errors.Wrapf(err, "%s: row %d", filepath.Base(path), rows+1)
			}
			rows++
			if !ok {
				return nil
			}
			if !known.TestString(strconv.FormatInt(id, 10)) {
				res.skipped++
				return nil
			}
			res.totals[id] += qty

			if rows%progressEvery == 0 {
				slog.Info("scan progress", slog.Int("file", idx+1), slog.Uint64("rows", rows))
			}
			return nil
		}); err != nil {
			return err
		}

		slog.Info("scan complete",
			slog.String("file", filepath.Base(path)),
			slog.Uint64("rows", rows),
			slog.Int("products", len(res.totals)),
			slog.Int("skipped", res.skipped),
		)

		results[idx] = res
		return nil
	}
}

// parseRow reads a "product_id,quantity" row. Blank lines and the header
// row report ok=false.
func parseRow(line string) (id int64, qty int, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "product_id") {
		return 0, 0, false, nil
	}
	rawID, rawQty, found := strings.Cut(line, ",")
	if !found {
		return 0, 0, false, errors.Errorf("expected product_id,quantity, got %q", line)
	}
	id, err = strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || id <= 0 {
		return 0, 0, false, errors.Errorf("invalid product id %q", rawID)
	}
	qty, err = strconv.Atoi(strings.TrimSpace(rawQty))
	if err != nil || qty <= 0 {
		return 0, 0, false, errors.Errorf("invalid quantity %q", rawQty)
	}
	return id, qty, true, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string) error) error {
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
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// applyStock adds all totals in one transaction so a partial run leaves
// stock untouched.
func applyStock(ctx context.Context, store *postgres.Store, totals map[int64]int) error {
	ids := make([]int64, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	slog.Info("applying stock", slog.Int("products", len(ids)))

	return store.InCatalogTx(ctx, func(q *postgres.Queries) error {
		for _, id := range ids {
			ok, err := q.AddStock(ctx, id, totals[id])
			if err != nil {
				return err
			}
			if !ok {
				// Bloom false positive.
				slog.Warn("product not found", slog.Int64("product_id", id))
				continue
			}
			slog.Info("restocked", slog.Int64("product_id", id), slog.Int("quantity", totals[id]))
		}
		return nil
	})
}
