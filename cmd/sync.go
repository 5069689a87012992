package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/femasync/internal/declarations"
	"github.com/sells-group/femasync/internal/fetcher"
	"github.com/sells-group/femasync/internal/observability"
	"github.com/sells-group/femasync/internal/pipeline"
)

// runSync performs one full sync. It always returns nil: a batch run that
// hits an error logs it and exits zero so schedulers don't retry-storm the
// source API.
func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := zap.L().With(zap.String("command", "sync"))

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("store unavailable, aborting run", zap.Error(err))
		return nil
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		// The sync log is bookkeeping; the load itself can still proceed.
		log.Warn("migrations failed, continuing without sync log", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	if cfg.Metrics.Addr != "" {
		go metrics.Serve(ctx, cfg.Metrics.Addr)
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 3})
	ext := declarations.NewExtractor(f, cfg.API.URL, cfg.API.PageSize, cfg.API.Skip, metrics)

	p := pipeline.New(ext, declarations.NewNormalizer(metrics), st, metrics, incidentTable)
	p.Run(ctx)

	return nil
}
