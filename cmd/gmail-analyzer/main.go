// Command gmail-analyzer fetches Gmail message metadata into a local cache
// and prints mailbox statistics.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/Sternrassler/gmail-analyzer/internal/credential"
	"github.com/Sternrassler/gmail-analyzer/pkg/cache"
	"github.com/Sternrassler/gmail-analyzer/pkg/config"
	"github.com/Sternrassler/gmail-analyzer/pkg/export"
	"github.com/Sternrassler/gmail-analyzer/pkg/gmailapi"
	"github.com/Sternrassler/gmail-analyzer/pkg/logging"
	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
	"github.com/Sternrassler/gmail-analyzer/pkg/metrics"
	"github.com/Sternrassler/gmail-analyzer/pkg/pipeline"
	"github.com/Sternrassler/gmail-analyzer/pkg/ratelimit"
	"github.com/Sternrassler/gmail-analyzer/pkg/report"
)

// Version is set at build time.
var Version = "0.1.0"

// Exit codes
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// errOffline is returned by the client used in cache-only mode.
var errOffline = errors.New("network access disabled in --analyze-only mode")

// newMailClient builds the Gmail client. Tests replace it.
var newMailClient = func(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) (mail.Client, error) {
	oauthCfg, err := credential.LoadConfig(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	store, err := credential.OpenKeyring(credential.DefaultKeyringConfig())
	if err != nil {
		return nil, err
	}
	hc, err := credential.NewAuthenticator(oauthCfg, store, logger).Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	client, err := gmailapi.New(ctx, hc, gmailapi.Config{
		Limiter:   newLimiter(cfg, rdb, logger),
		UserAgent: "gmail-analyzer/" + Version,
	}, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := config.NewFlagSet("gmail-analyzer")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	cfg, err := config.FromFlags(fs)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	if cfg.Version {
		fmt.Fprintf(stdout, "gmail analyzer v%s\n", Version)
		return exitOK
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.Pretty,
		Output: stderr,
	})

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Listen(cfg.MetricsAddr, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to start metrics server")
			return exitError
		}
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := srv.Serve(metricsCtx); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	if err := execute(ctx, cfg, stdout, logger); err != nil {
		if errors.Is(err, pipeline.ErrNoCachedData) {
			fmt.Fprintln(stderr, "No cached metadata found. Run with --pull-data first.")
		}
		logger.Error().Err(err).Msg("Run failed")
		return exitError
	}
	return exitOK
}

func execute(ctx context.Context, cfg *config.Config, stdout io.Writer, logger zerolog.Logger) error {
	var rdb *redis.Client
	if cfg.CacheBackend == config.BackendRedis {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	}
	store := newStore(cfg, rdb, logger)

	var client mail.Client = offlineClient{}
	if cfg.Mode() != config.ModeAnalyzeOnly {
		c, err := newMailClient(ctx, cfg, rdb, logger)
		if err != nil {
			return err
		}
		client = c
	}

	pcfg := pipeline.DefaultConfig()
	pcfg.User = cfg.User
	pcfg.Query = cfg.Query
	pcfg.MaxRetryRounds = cfg.MaxRetryRounds
	proc, err := pipeline.New(pcfg, client, store, logger)
	if err != nil {
		return err
	}
	proc.OnBatch(func(done, total int) {
		logger.Debug().Int("done", done).Int("total", total).Msg("Fetched batch")
	})

	coll, err := collect(ctx, cfg, proc, logger)
	if err != nil {
		return err
	}

	if cfg.ExportCSV != "" {
		switch err := export.WriteCSV(cfg.ExportCSV, coll); {
		case errors.Is(err, export.ErrNothingToExport):
			logger.Warn().Msg("No metadata to export")
		case err != nil:
			return err
		default:
			logger.Info().Str("path", cfg.ExportCSV).Int("messages", coll.Len()).Msg("Exported metadata")
		}
	}

	switch cfg.Mode() {
	case config.ModePullData, config.ModeRefreshData:
		fmt.Fprintln(stdout, "Data pull complete.")
		return nil
	}

	r := report.Analyze(coll, report.Options{Top: cfg.Top, InactiveDays: cfg.Inactive})
	return r.Render(stdout)
}

// collect loads or fetches the metadata collection for the selected mode.
func collect(ctx context.Context, cfg *config.Config, proc *pipeline.Processor, logger zerolog.Logger) (*mail.Collection, error) {
	switch cfg.Mode() {
	case config.ModeAnalyzeOnly:
		return proc.LoadCachedMetadata(ctx)
	case config.ModeRescope:
		return proc.RescopeCached(ctx)
	}

	force := cfg.Mode() == config.ModeRefreshData
	refs, err := proc.GetMessageRefs(ctx, force)
	if err != nil {
		return nil, err
	}

	coll, sum, err := proc.GetMetadata(ctx, refs, force)
	logger.Info().
		Int("messages", coll.Len()).
		Int("fetched", sum.Fetched).
		Int("from_cache", sum.FromCache).
		Int("dropped", sum.Dropped).
		Int("unresolved", sum.Unresolved).
		Int("rounds", sum.Rounds).
		Str("stop_reason", string(sum.StopReason)).
		Msg("Metadata ready")
	if err != nil {
		return nil, err
	}
	return coll, nil
}

func newStore(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) cache.Store {
	if rdb != nil {
		return cache.NewRedisStore(rdb, cfg.CacheTTL, logger)
	}
	return cache.NewFileStore(cache.FileConfig{Dir: cfg.CacheDir, TTL: cfg.CacheTTL}, logger)
}

// newLimiter paces API calls. With a Redis backend the budget is shared by
// every process using the same Redis.
func newLimiter(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) ratelimit.Limiter {
	if cfg.RPS <= 0 {
		return ratelimit.Unlimited{}
	}
	if rdb != nil {
		return ratelimit.NewRedisWindow(rdb, cfg.User, int(math.Ceil(cfg.RPS)), logger)
	}
	return ratelimit.New(cfg.RPS, int(math.Ceil(cfg.RPS)), logger)
}

type offlineClient struct{}

func (offlineClient) List(context.Context, string, string, string) (mail.ListPage, error) {
	return mail.ListPage{}, errOffline
}

func (offlineClient) BatchGet(context.Context, string, []string, []string) ([]mail.ItemResult, error) {
	return nil, errOffline
}
