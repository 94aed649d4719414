package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/iudanet/gophsync/internal/storage"
	"github.com/iudanet/gophsync/internal/storage/boltdb"
	"github.com/iudanet/gophsync/internal/storage/mongodb"
	"github.com/iudanet/gophsync/internal/storage/postgres"
	"github.com/iudanet/gophsync/internal/storage/sqlite"
)

const defaultMongoDatabase = "gophsync"

// openStore открывает хранилище snapshot по DSN:
// bolt://path, sqlite://path, postgres://..., mongodb://host/database
func openStore(ctx context.Context, dsn string) (storage.Store, error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, fmt.Errorf("snapshot store dsn %q has no scheme", dsn)
	}

	switch scheme {
	case "bolt", "boltdb":
		if rest == "" {
			return nil, fmt.Errorf("bolt dsn requires a file path")
		}
		return wrap(boltdb.New(ctx, rest))
	case "sqlite", "sqlite3":
		if rest == "" {
			return nil, fmt.Errorf("sqlite dsn requires a file path")
		}
		return wrap(sqlite.New(ctx, rest))
	case "postgres", "postgresql":
		return wrap(postgres.New(ctx, dsn))
	case "mongodb", "mongodb+srv":
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse mongodb dsn: %w", err)
		}
		database := strings.TrimPrefix(u.Path, "/")
		if database == "" {
			database = defaultMongoDatabase
		}
		return wrap(mongodb.New(ctx, dsn, database))
	default:
		return nil, fmt.Errorf("unsupported snapshot store %q", scheme)
	}
}

// wrap не дает typed nil попасть в интерфейс при ошибке
func wrap[S storage.Store](st S, err error) (storage.Store, error) {
	if err != nil {
		return nil, err
	}
	return st, nil
}
