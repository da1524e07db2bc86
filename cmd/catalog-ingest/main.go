package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookstore/internal/domain/catalog"
	"github.com/xenking/bookstore/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	batchSize     = 500
	progressEvery = 100_000
	maxLineBytes  = 1 << 20
)

// parsedFile holds the books decoded from one input file in file order.
type parsedFile struct {
	path    string
	records []catalog.Record
	skipped int
}

func main() {
	var (
		dataDir     string
		databaseURL string
		onlyNew     bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.jsonl or *.jsonl.gz book files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&onlyNew, "only-new", false, "skip books already stored instead of updating them")
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

	if err := run(ctx, dataDir, databaseURL, onlyNew); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, onlyNew bool) error {
	files, err := listFiles(dataDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		slog.Info("no book files found", slog.String("dir", dataDir))
		return nil
	}

	// Pass 1: decode all files concurrently.
	slog.Info("pass 1: decoding book files", slog.Int("files", len(files)))

	parsed, err := parseFiles(ctx, files)
	if err != nil {
		return errors.Wrap(err, "parse files")
	}

	// Pass 2: keep the last occurrence of every (title, author) in file order.
	records := dedupe(parsed)

	slog.Info("pass 2: unique books", slog.Int("count", len(records)))

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	books := repository.NewBookRepository(pool)

	if onlyNew {
		if records, err = dropExisting(ctx, books, records); err != nil {
			return errors.Wrap(err, "filter existing books")
		}
		slog.Info("new books", slog.Int("count", len(records)))
	}

	if err := writeBooks(ctx, books, records); err != nil {
		return errors.Wrap(err, "write books to database")
	}

	return nil
}

func listFiles(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.jsonl", "*.jsonl.gz"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, errors.Wrapf(err, "glob %s", pattern)
		}
		files = append(files, matches...)
	}
	return files, nil
}

// parseFiles decodes every file in its own goroutine.
func parseFiles(ctx context.Context, files []string) ([]parsedFile, error) {
	results := make([]parsedFile, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			res, err := parseFile(ctx, path)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func parseFile(ctx context.Context, path string) (parsedFile, error) {
	res := parsedFile{path: path}
	var line int

	err := streamLines(ctx, path, func(data []byte) {
		line++
		if len(bytes.TrimSpace(data)) == 0 {
			return
		}
		r, err := catalog.DecodeRecord(jx.DecodeBytes(data))
		if err != nil {
			res.skipped++
			slog.Warn("skipping book",
				slog.String("file", path),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			return
		}
		res.records = append(res.records, r)
		if len(res.records)%progressEvery == 0 {
			slog.Info("pass 1 progress", slog.String("file", path), slog.Int("books", len(res.records)))
		}
	})
	if err != nil {
		return res, errors.Wrapf(err, "parse %s", path)
	}

	slog.Info("pass 1 complete",
		slog.String("file", path),
		slog.Int("books", len(res.records)),
		slog.Int("skipped", res.skipped),
	)

	return res, nil
}

// streamLines opens a plain or gzip-compressed file and calls fn for each
// line. The slice passed to fn is only valid during the call.
func streamLines(ctx context.Context, path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		src = gz
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Bytes())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// dedupe flattens files in order and keeps the last record for each key.
func dedupe(files []parsedFile) []catalog.Record {
	index := make(map[string]int)
	var out []catalog.Record
	for _, f := range files {
		for _, r := range f.records {
			if i, ok := index[r.Key()]; ok {
				out[i] = r
				continue
			}
			index[r.Key()] = len(out)
			out = append(out, r)
		}
	}
	return out
}

// dropExisting removes records already stored. Stored keys are loaded into a
// bloom filter; only records that test positive cost a database lookup.
func dropExisting(ctx context.Context, books *repository.BookRepository, records []catalog.Record) ([]catalog.Record, error) {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	var stored int
	if err := books.EachKey(ctx, func(title, author string) {
		filter.AddString(catalog.BookKey(title, author))
		stored++
	}); err != nil {
		return nil, err
	}

	slog.Info("loaded stored keys", slog.Int("count", stored))

	out := records[:0]
	var lookups int
	for _, r := range records {
		if filter.TestString(r.Key()) {
			lookups++
			ok, err := books.Exists(ctx, r.Title, r.Author)
			if err != nil {
				return nil, err
			}
			if ok {
				continue
			}
		}
		out = append(out, r)
	}

	slog.Info("checked candidates", slog.Int("lookups", lookups))

	return out, nil
}

// writeBooks resolves category names and upserts books in batches.
func writeBooks(ctx context.Context, books *repository.BookRepository, records []catalog.Record) error {
	slog.Info("writing books to database", slog.Int("count", len(records)))

	categories := make(map[string]int64)
	batch := make([]catalog.Book, 0, batchSize)
	var written int

	flush := func() error {
		if err := books.Upsert(ctx, batch); err != nil {
			return err
		}
		written += len(batch)
		batch = batch[:0]
		slog.Info("write progress", slog.Int("written", written), slog.Int("total", len(records)))
		return nil
	}

	for _, r := range records {
		var categoryID *int64
		if r.Category != "" {
			id, ok := categories[r.Category]
			if !ok {
				var err error
				if id, err = books.EnsureCategory(ctx, r.Category); err != nil {
					return err
				}
				categories[r.Category] = id
			}
			categoryID = &id
		}

		batch = append(batch, r.Book(categoryID))
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if len(batch) > 0 {
		return flush()
	}
	return nil
}
