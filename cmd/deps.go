package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/shortlister/internal/ai"
	"github.com/spigell/shortlister/internal/ai/gemini"
	"github.com/spigell/shortlister/internal/ai/openrouter"
	"github.com/spigell/shortlister/internal/enrichment"
	"github.com/spigell/shortlister/internal/fixtures"
	"github.com/spigell/shortlister/internal/logger"
	"github.com/spigell/shortlister/internal/pipeline"
	"github.com/spigell/shortlister/internal/ratelimit"
	"github.com/spigell/shortlister/internal/retry"
	"github.com/spigell/shortlister/internal/secrets"
	"github.com/spigell/shortlister/internal/store"
	"github.com/spigell/shortlister/internal/store/airtable"
	"github.com/spigell/shortlister/internal/store/memstore"
	"github.com/spigell/shortlister/internal/store/sqlstore"
)

const redisPingTimeout = 3 * time.Second

var errBatchFailed = errors.New("batch finished with failures")

// env holds what every command needs: config, logger and an open store.
type env struct {
	config  *Config
	logger  *zap.Logger
	store   store.Store
	closers []func() error
}

func setup(ctx context.Context) (*env, error) {
	log, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		return nil, fmt.Errorf("creating a logger: %w", err)
	}
	log = log.With(zap.String(logger.FieldRunID, uuid.NewString()))

	config, err := getConfig()
	if err != nil {
		return nil, fmt.Errorf("getting a config: %w", err)
	}
	if config == nil {
		return nil, errors.New("config is required")
	}

	log.Info("starting the shortlister", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(*config), "", "  ")
	log.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	e := &env{config: config, logger: log}
	if e.store, err = e.openStore(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("closing resource", zap.Error(err))
		}
	}
	_ = e.logger.Sync()
}

func (e *env) openStore(ctx context.Context) (store.Store, error) {
	cfg := e.config.Store
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))

	switch backend {
	case "airtable":
		token, err := secrets.Load(secrets.Source{
			Name:  "airtable token",
			File:  cfg.Airtable.TokenFile,
			Value: cfg.Airtable.Token,
			Env:   "AIRTABLE_TOKEN",
		})
		if err != nil {
			return nil, err
		}
		tables := make(map[store.Collection]string, len(cfg.Airtable.Tables))
		for c, name := range cfg.Airtable.Tables {
			tables[store.Collection(c)] = name
		}
		return airtable.New(airtable.Config{
			BaseURL:           cfg.Airtable.BaseURL,
			BaseID:            cfg.Airtable.BaseID,
			Token:             token,
			Tables:            tables,
			RequestsPerSecond: cfg.Airtable.RequestsPerSecond,
			Timeout:           cfg.Airtable.Timeout,
			MaxRetries:        cfg.Airtable.MaxRetries,
		}, e.logger.With(zap.String("store", backend)))

	case sqlstore.DriverSQLite, "postgres", sqlstore.DriverPostgres:
		s, err := sqlstore.Open(ctx, sqlstore.Config{
			Driver:       backend,
			DSN:          cfg.SQL.DSN,
			MaxOpenConns: cfg.SQL.MaxOpenConns,
			PingTimeout:  cfg.SQL.PingTimeout,
		}, e.logger.With(zap.String("store", backend)))
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, s.Close)
		return s, nil

	case "memory":
		// The in-process store starts with the sample applicants so a batch
		// can be tried without any backend.
		s := memstore.New()
		for _, a := range fixtures.Samples() {
			if _, err := fixtures.Seed(ctx, s, a); err != nil {
				return nil, err
			}
		}
		e.logger.Info("using in-memory store with sample applicants", zap.Int("applicants", s.Len(store.Applicants)))
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

func (e *env) newProvider(ctx context.Context) (ai.Provider, error) {
	cfg := e.config.AI

	switch strings.TrimSpace(strings.ToLower(cfg.Provider)) {
	case "", gemini.ProviderName:
		apiKey, err := secrets.Load(secrets.Source{
			Name:  "gemini api key",
			File:  cfg.Gemini.APIKeyFile,
			Value: cfg.Gemini.APIKey,
			Env:   "GEMINI_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
		}
		return gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, e.logger)

	case openrouter.ProviderName:
		apiKey, err := secrets.Load(secrets.Source{
			Name:  "openrouter api key",
			File:  cfg.OpenRouter.APIKeyFile,
			Value: cfg.OpenRouter.APIKey,
			Env:   "OPENROUTER_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.openrouter.api-key-file or OPENROUTER_API_KEY)", err)
		}
		return openrouter.New(openrouter.Config{
			BaseURL:   cfg.OpenRouter.BaseURL,
			APIKey:    apiKey,
			Model:     cfg.OpenRouter.Model,
			Timeout:   cfg.OpenRouter.Timeout,
			MaxTokens: cfg.OpenRouter.MaxTokens,
		}, e.logger)

	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

// newLimiter returns the Redis window limiter when a URL is configured and
// reachable, and the in-process token bucket otherwise.
func (e *env) newLimiter(ctx context.Context) ratelimit.Limiter {
	cfg := e.config.RateLimit
	if cfg.RequestsPerMinute <= 0 {
		return ratelimit.Unlimited{}
	}

	local := ratelimit.NewLocal(cfg.RequestsPerMinute, cfg.Burst)
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return local
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		e.logger.Warn("invalid redis url, using local rate limiter", zap.Error(err))
		return local
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		e.logger.Warn("redis is not reachable, using local rate limiter", zap.Error(err))
		client.Close()
		return local
	}

	e.closers = append(e.closers, client.Close)
	return ratelimit.NewRedis(client, cfg.Key, cfg.RequestsPerMinute, time.Minute, e.logger)
}

func (e *env) newEnrichment(ctx context.Context) (*enrichment.Service, error) {
	provider, err := e.newProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("building ai provider: %w", err)
	}

	cfg := e.config.Enrichment
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		policy.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		policy.MaxDelay = cfg.MaxDelay
	}

	return enrichment.New(e.store, provider, e.newLimiter(ctx), enrichment.Config{
		SummaryWords: cfg.SummaryWords,
		MaxFollowUps: cfg.MaxFollowUps,
		Retry:        policy,
	}, e.logger), nil
}

// runBatch resolves the target applicants, runs the stages and prints the summary.
func (e *env) runBatch(ctx context.Context, cmd *cobra.Command, stages []pipeline.Stage, onlyWithSnapshot bool) error {
	applicantID, _ := cmd.Flags().GetString("applicant-id")

	ids, err := pipeline.Targets(ctx, e.store, applicantID, onlyWithSnapshot)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		e.logger.Info("exiting", zap.String("reason", "no applicants found"))
		return nil
	}

	for _, st := range pipeline.Describe(stages) {
		e.logger.Debug("stage", zap.String("name", st.Name), zap.Bool("enabled", st.Enabled), zap.String("reason", st.Reason), zap.Any("details", st.Details))
	}
	e.logger.Info("starting the batch", zap.Int("applicants", len(ids)), zap.Int("concurrency", e.config.Batch.Concurrency))

	summary, runErr := pipeline.NewRunner(stages, e.config.Batch.Concurrency, e.logger).Run(ctx, ids)
	if summary == nil {
		return runErr
	}
	printSummary(cmd.OutOrStdout(), summary)

	if runErr != nil {
		return fmt.Errorf("batch interrupted: %w", runErr)
	}
	if len(summary.Failures) > 0 {
		return fmt.Errorf("%w: %d applicant(s)", errBatchFailed, len(summary.Failures))
	}
	return nil
}

func printSummary(w io.Writer, summary *pipeline.Summary) {
	fmt.Fprintf(w, "processed %d applicant(s)\n", summary.Applicants)
	for _, line := range summary.Lines() {
		fmt.Fprintln(w, "  "+line)
	}
	for _, f := range summary.Failures {
		fmt.Fprintf(w, "  failed %s %s [%s]: %s\n", f.Operation, f.ApplicantID, pipeline.Category(f.Err), f.Reason)
	}
	if len(summary.NotStarted) > 0 {
		fmt.Fprintf(w, "  not started: %s\n", strings.Join(summary.NotStarted, ", "))
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// redacted hides secrets before the config is logged.
func redacted(c Config) Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.Store.Airtable.Token = mask(c.Store.Airtable.Token)
	c.Store.SQL.DSN = mask(c.Store.SQL.DSN)
	c.AI.Gemini.APIKey = mask(c.AI.Gemini.APIKey)
	c.AI.OpenRouter.APIKey = mask(c.AI.OpenRouter.APIKey)
	c.RateLimit.RedisURL = mask(c.RateLimit.RedisURL)
	return c
}
