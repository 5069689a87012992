package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/femasync/internal/config"
	"github.com/sells-group/femasync/internal/store"
)

// incidentTable is the destination table for normalized declarations.
const incidentTable = "incident_data"

// openStore validates the store config and opens the configured driver.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Store.Driver {
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.Store.DSN(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "open postgres store")
		}
		return s, nil
	case "sqlite":
		s, err := store.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, eris.Wrap(err, "open sqlite store")
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
