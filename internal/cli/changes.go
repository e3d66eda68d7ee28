package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/roach88/recordsdb/internal/changefeed"
	"github.com/roach88/recordsdb/internal/config"
	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/engine"
	"github.com/roach88/recordsdb/internal/esindex"
	"github.com/roach88/recordsdb/internal/mongostore"
	"github.com/roach88/recordsdb/internal/store"
)

// Journal location on every shard node.
const (
	journalDatabase   = "local"
	journalCollection = "oplog.rs"
)

// ChangesOptions holds flags for the changes command.
type ChangesOptions struct {
	*RootOptions
	Config        string
	Once          bool
	Reindex       bool
	MetricsListen string
}

// ChangesReport summarizes a tail.
type ChangesReport struct {
	Runs       []RunSummary              `json:"runs"`
	Watermarks map[string]WatermarkValue `json:"watermarks"`
}

// RunSummary is one applied batch.
type RunSummary struct {
	ID        string `json:"id"`
	Scanned   int    `json:"scanned"`
	Kept      int    `json:"kept"`
	Reindexed int    `json:"reindexed"`
	Deleted   int    `json:"deleted"`
}

// WatermarkValue is a journal timestamp.
type WatermarkValue struct {
	T uint32 `json:"t"`
	I uint32 `json:"i"`
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Tail the primary store journal",
		Long: `Poll the journal of every configured shard, keep the latest entry per
document, and persist the per-shard watermark in the checkpoint store so
a restarted tail resumes where it stopped.

With --reindex each batch is applied to the search index: deleted
documents are removed and every other document is re-read from the
primary store and reindexed whole.

The tail runs until interrupted, or for one poll with --once.

Examples:
  recordsdb changes --config recordsdb.yaml --once
  recordsdb changes --config recordsdb.yaml --reindex --metrics-listen :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "configuration file (YAML)")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "poll once and exit")
	cmd.Flags().BoolVar(&opts.Reindex, "reindex", false, "apply batches to the search index")
	cmd.Flags().StringVar(&opts.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address (overrides metrics.listen)")

	return cmd
}

func runChanges(cmd *cobra.Command, opts *ChangesOptions) error {
	f := opts.formatter(cmd)
	logger := opts.logger()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return f.Fail(ExitCommandError, "invalid configuration", err)
	}
	if err := cfg.RequireChangefeed(); err != nil {
		return f.Fail(ExitCommandError, "invalid configuration", err)
	}
	if opts.Reindex && (cfg.Mongo.URI == "" || !cfg.Elastic.Enabled()) {
		return f.Fail(ExitCommandError, "invalid configuration",
			errors.New("--reindex needs mongo.uri and elastic.addresses"))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkpoints, err := store.Open(cfg.Changefeed.CheckpointPath)
	if err != nil {
		return f.Fail(ExitCommandError, "cannot open checkpoint store", err)
	}
	defer checkpoints.Close()

	var clients []*mongo.Client
	defer func() {
		for _, c := range clients {
			_ = c.Disconnect(context.WithoutCancel(ctx))
		}
	}()

	readers := make([]*changefeed.Reader, 0, len(cfg.Changefeed.Shards))
	for _, shard := range cfg.Changefeed.Shards {
		client, journal, err := mongostore.Connect(ctx, shard.URI, journalDatabase, journalCollection, cfg.Mongo.Timeout)
		if err != nil {
			return f.Fail(ExitFailure, fmt.Sprintf("cannot connect to shard %s", shard.Name), err)
		}
		clients = append(clients, client)
		readers = append(readers, changefeed.NewReader(journal,
			changefeed.WithShard(shard.Name),
			changefeed.WithLogger(logger)))
	}

	t := &tailer{
		checkpoints: checkpoints,
		ids:         engine.UUIDv7Generator{},
		logger:      logger,
	}
	if opts.Reindex {
		client, fetch, index, err := openReindex(ctx, cfg, logger)
		if err != nil {
			return f.Fail(ExitFailure, "cannot open reindex backends", err)
		}
		clients = append(clients, client)
		t.fetch, t.index = fetch, index
	}

	since, err := checkpoints.LoadCheckpoints(ctx)
	if err != nil {
		return f.Fail(ExitFailure, "cannot load checkpoints", err)
	}
	t.tail = changefeed.NewTail(readers, changefeed.Filter{Namespaces: cfg.Changefeed.Namespaces}, cfg.Changefeed.PageSize, since)

	listen := cfg.Metrics.Listen
	if opts.MetricsListen != "" {
		listen = opts.MetricsListen
	}
	if listen != "" {
		srv := serveMetrics(listen, logger)
		defer srv.Shutdown(context.WithoutCancel(ctx))
	}

	report := ChangesReport{Runs: []RunSummary{}}
	err = t.run(ctx, opts.Once, cfg.Changefeed.Interval, func(run store.SyncRun) {
		report.Runs = append(report.Runs, summarize(run))
	})
	report.Watermarks = watermarkValues(t.tail.Watermarks())
	if err != nil {
		return f.Fail(ExitFailure, "change feed failed", err)
	}
	return f.Success(report, func(w io.Writer) error {
		return writeChangesText(w, report)
	})
}

// openReindex connects the primary store and the search index.
func openReindex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*mongo.Client, changefeed.Fetcher, changefeed.Indexer, error) {
	onto, err := loadOntology(cfg.Ontology.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	esClient, err := esindex.NewClient(cfg.Elastic.Addresses, cfg.Elastic.Username, cfg.Elastic.Password)
	if err != nil {
		return nil, nil, nil, err
	}
	index := esindex.New(esClient, cfg.Elastic.Index,
		esindex.WithPageSize(cfg.Elastic.PageSize),
		esindex.WithKeepAlive(cfg.Elastic.ScrollKeepAlive),
		esindex.WithLogger(logger))

	client, coll, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection, cfg.Mongo.Timeout)
	if err != nil {
		return nil, nil, nil, err
	}
	eng := engine.New(mongostore.New(coll, mongostore.WithLogger(logger)),
		engine.WithSearchIndex(index),
		engine.WithOntology(onto),
		engine.WithDepthLimit(cfg.Query.DepthLimit),
		engine.WithDefaultLimit(cfg.Query.DefaultLimit),
		engine.WithTimeout(cfg.Mongo.Timeout),
		engine.WithLogger(logger))
	return client, changefeed.EngineFetcher{Engine: eng}, index, nil
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

// tailer applies journal batches and persists watermarks. A nil index
// only advances the watermarks.
type tailer struct {
	tail        *changefeed.Tail
	checkpoints *store.Store
	fetch       changefeed.Fetcher
	index       changefeed.Indexer
	ids         engine.RequestIDGenerator
	logger      *slog.Logger
}

// step polls once. The returned run is nil when no entry was kept.
func (t *tailer) step(ctx context.Context) (*store.SyncRun, error) {
	var run *store.SyncRun
	_, err := t.tail.Step(ctx, func(ctx context.Context, batch *changefeed.ShardBatch) error {
		r := store.SyncRun{
			ID:         t.ids.Generate(),
			Scanned:    batch.Scanned,
			Kept:       len(batch.Entries),
			Watermarks: batch.Watermarks,
		}
		if t.index != nil {
			res, err := changefeed.Sync(ctx, batch.Entries, t.fetch, t.index)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			r.Reindexed, r.Deleted = res.Reindexed, res.Deleted
		}
		run = &r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := t.checkpoints.SaveCheckpoints(ctx, t.tail.Watermarks()); err != nil {
		return nil, err
	}
	if run != nil {
		if err := t.checkpoints.RecordRun(ctx, *run); err != nil {
			return nil, err
		}
		t.logger.Info("applied change batch",
			"run", run.ID,
			"scanned", run.Scanned,
			"kept", run.Kept,
			"reindexed", run.Reindexed,
			"deleted", run.Deleted)
	}
	return run, nil
}

// run steps until ctx is done, or once. Retryable failures are logged and
// retried after interval when not running once.
func (t *tailer) run(ctx context.Context, once bool, interval time.Duration, report func(store.SyncRun)) error {
	for {
		run, err := t.step(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil && (once || !dberr.IsRetryable(err)):
			return err
		case err != nil:
			t.logger.Warn("change feed poll failed, retrying", "error", err, "in", interval)
		case run != nil:
			report(*run)
		}
		if once {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func summarize(run store.SyncRun) RunSummary {
	return RunSummary{
		ID:        run.ID,
		Scanned:   run.Scanned,
		Kept:      run.Kept,
		Reindexed: run.Reindexed,
		Deleted:   run.Deleted,
	}
}

func watermarkValues(marks map[string]primitive.Timestamp) map[string]WatermarkValue {
	out := make(map[string]WatermarkValue, len(marks))
	for shard, ts := range marks {
		out[shard] = WatermarkValue{T: ts.T, I: ts.I}
	}
	return out
}

func writeChangesText(w io.Writer, report ChangesReport) error {
	if len(report.Runs) == 0 {
		fmt.Fprintln(w, "No changes.")
	}
	for _, r := range report.Runs {
		fmt.Fprintf(w, "run %s: scanned %d, kept %d, reindexed %d, deleted %d\n",
			r.ID, r.Scanned, r.Kept, r.Reindexed, r.Deleted)
	}
	shards := make([]string, 0, len(report.Watermarks))
	for s := range report.Watermarks {
		shards = append(shards, s)
	}
	sort.Strings(shards)
	for _, s := range shards {
		wm := report.Watermarks[s]
		fmt.Fprintf(w, "watermark %s: %d.%d\n", s, wm.T, wm.I)
	}
	return nil
}
