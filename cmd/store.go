package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/supervision-cli/internal/store"
)

// defaultSQLiteDSN is used when the sqlite driver has no database_url.
const defaultSQLiteDSN = "supervision.db"

func storeTables() store.Tables {
	return store.Tables{
		Raw:        cfg.Store.RawTable,
		Registry:   cfg.Store.RegistryTable,
		Normalized: cfg.Store.NormalizedTable,
	}
}

func initStore(ctx context.Context) (store.Repository, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		st, err := store.NewSQLite(dsn, storeTables())
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		}, storeTables())
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Repository, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}
