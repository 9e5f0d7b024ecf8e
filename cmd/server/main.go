package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Skufu/healthlens/internal/auth"
	"github.com/Skufu/healthlens/internal/config"
	"github.com/Skufu/healthlens/internal/llm"
	"github.com/Skufu/healthlens/internal/logging"
	"github.com/Skufu/healthlens/internal/pdftext"
	"github.com/Skufu/healthlens/internal/predict"
	"github.com/Skufu/healthlens/internal/report"
	"github.com/Skufu/healthlens/internal/schema"
	"github.com/Skufu/healthlens/internal/server"
	"github.com/Skufu/healthlens/internal/session"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "healthlens",
		Short:        "Lab report review and risk prediction API",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(schemaCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat)
			gin.SetMode(cfg.GinMode)

			ctx := context.Background()
			router, cleanup, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			return server.Run(":"+cfg.Port, router, logger)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := migrationPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := report.NewMigrator(pool).Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := migrationPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := report.NewMigrator(pool).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printStatus(w io.Writer, statuses []report.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func migrationPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for migrations")
	}
	return connectDB(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <task>",
		Short: "Print the feature schema of a task as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := schema.ParseTask(args[0])
			if err != nil {
				return err
			}
			s, err := schema.SchemaFor(task)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"task": task, "fields": s.Fields()})
		},
	}
}

// buildApp wires the configured backends into a router. cleanup releases
// the connections it opened.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*gin.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	registry := schema.Default()
	if cfg.ValidateAge {
		registry = schema.NewRegistry(schema.WithAgeValidation())
	}

	pdf := pdftext.NewPdftotext(cfg.PdftotextBin)
	if cfg.TesseractBin != "" {
		pdf.OCR = pdftext.NewOCR(cfg.PdftoppmBin, cfg.TesseractBin, cfg.OCRDPI)
	}
	deps := server.Deps{
		Registry: registry,
		PDF:      pdf,
		Logger:   logger,
	}

	var reports report.Repository = report.NewMemoryRepo()
	if cfg.EnableDB {
		pool, err := connectDB(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		closers = append(closers, pool.Close)
		reports = report.NewRepoPG(pool)
		deps.DB = pool
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("database disabled, reports are kept in memory")
	}

	var store session.Store = session.NewMemoryStore(cfg.SessionTTL)
	if cfg.RedisURL != "" {
		client, err := session.NewRedisClient(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		redisStore := session.NewRedisStore(client, cfg.SessionTTL)
		store = redisStore
		deps.Cache = redisStore
	}

	var (
		extractor session.Extractor
		client    *llm.Client
	)
	if cfg.LLMEnabled() {
		var err error
		client, err = llm.NewClient(llm.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.LLMTimeout,
			RPS:     cfg.LLMRPS,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		extractor = llm.NewExtractor(client, registry, time.Hour, logger)
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set, using pattern extraction")
		extractor = llm.NewPatternExtractor(registry)
	}
	deps.Advisor = llm.NewAdvisor(client, registry, cfg.TriageMockLLM, logger)

	predictor := predict.NewHTTPPredictor(cfg.PredictorURL, cfg.PredictorTimeout, registry, logger)
	deps.Sessions = session.NewService(registry, store, reports, extractor, predictor, logger)

	router := server.New(deps, server.Options{
		Auth: auth.Config{
			Secret:   []byte(cfg.AuthJWTSecret),
			Disabled: cfg.DisableAuth,
		},
		CORSOrigins:    cfg.CORSOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		StaticRoot:     server.DetectStaticRoot(),
	})
	return router, cleanup, nil
}

func connectDB(ctx context.Context, url string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}
