package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/bookstore/db"
	"github.com/xenking/bookstore/internal/domain/auth"
	"github.com/xenking/bookstore/internal/domain/catalog"
	"github.com/xenking/bookstore/internal/repository"
)

type options struct {
	databaseURL  string
	catalogFile  string
	apiKey       string
	apiKeyPepper string
	username     string
	password     string
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.catalogFile, "catalog-file", "", "path to catalog JSON file (embedded demo catalog if empty)")
	flag.StringVar(&opts.apiKey, "api-key", "", "staff API key to seed (or BOOKSTORE_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or BOOKSTORE_API_KEY_PEPPER env)")
	flag.StringVar(&opts.username, "demo-user", "demo", "username of the demo account; empty skips it")
	flag.StringVar(&opts.password, "demo-password", "bookstore-demo", "password of the demo account")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("BOOKSTORE_SEED_API_KEY")
	}
	if opts.apiKeyPepper == "" {
		opts.apiKeyPepper = os.Getenv("BOOKSTORE_API_KEY_PEPPER")
	}
	if opts.apiKey != "" && opts.apiKeyPepper == "" {
		slog.Error("API key pepper is required with --api-key: set --api-key-pepper or BOOKSTORE_API_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("running migrations")

	if err := repository.RunMigrations(opts.databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := seedCatalog(ctx, repository.NewBookRepository(pool), opts.catalogFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if opts.apiKey != "" {
		if err := seedAPIKey(ctx, pool, opts.apiKey, opts.apiKeyPepper); err != nil {
			return errors.Wrap(err, "seed api key")
		}
	} else {
		slog.Warn("no API key given, staff API stays locked")
	}

	if opts.username != "" {
		if err := seedUser(ctx, repository.NewUserRepository(pool), opts.username, opts.password); err != nil {
			return errors.Wrap(err, "seed demo user")
		}
	}

	return nil
}

// seedCatalog reads {"categories":[...],"books":[...]} and upserts both.
func seedCatalog(ctx context.Context, books *repository.BookRepository, path string) error {
	data := db.SeedCatalog
	if path != "" {
		slog.Info("reading catalog file", slog.String("path", path))

		var err error
		if data, err = os.ReadFile(path); err != nil {
			return errors.Wrap(err, "read catalog file")
		}
	}

	var (
		categories []string
		records    []catalog.Record
	)
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "categories":
			return d.Arr(func(d *jx.Decoder) error {
				name, err := d.Str()
				categories = append(categories, name)
				return err
			})
		case "books":
			return d.Arr(func(d *jx.Decoder) error {
				r, err := catalog.DecodeRecord(d)
				if err != nil {
					return err
				}
				records = append(records, r)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return errors.Wrap(err, "parse catalog")
	}

	ids := make(map[string]int64, len(categories))
	ensure := func(name string) (int64, error) {
		if id, ok := ids[name]; ok {
			return id, nil
		}
		id, err := books.EnsureCategory(ctx, name)
		if err != nil {
			return 0, errors.Wrapf(err, "ensure category %q", name)
		}
		ids[name] = id

		slog.Info("upserted category", slog.String("name", name), slog.Int64("id", id))

		return id, nil
	}
	for _, name := range categories {
		if _, err := ensure(name); err != nil {
			return err
		}
	}

	batch := make([]catalog.Book, 0, len(records))
	for _, r := range records {
		var categoryID *int64
		if r.Category != "" {
			id, err := ensure(r.Category)
			if err != nil {
				return err
			}
			categoryID = &id
		}
		batch = append(batch, r.Book(categoryID))
	}

	slog.Info("upserting books", slog.Int("count", len(batch)))

	if err := books.Upsert(ctx, batch); err != nil {
		return errors.Wrap(err, "upsert books")
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding staff API key")

	info := auth.APIKeyInfo{
		ID:      "staff",
		KeyHash: auth.HashAPIKey([]byte(pepper), apiKey),
		Name:    "Staff order management",
		Scopes:  []string{auth.ScopeOrdersWrite},
	}
	if err := repository.NewAPIKeyRepository(pool).Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert staff API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))

	return nil
}

func seedUser(ctx context.Context, users *repository.UserRepository, username, password string) error {
	req, err := auth.RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: password,
	}.Validate()
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}

	err = users.Create(ctx, &auth.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
	})
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		slog.Info("demo user already exists", slog.String("username", req.Username))
		return nil
	case err != nil:
		return errors.Wrap(err, "create demo user")
	}

	slog.Info("created demo user", slog.String("username", req.Username))

	return nil
}
