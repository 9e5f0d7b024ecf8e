package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Skufu/healthlens/internal/auth"
	"github.com/Skufu/healthlens/internal/llm"
	"github.com/Skufu/healthlens/internal/pdftext"
	"github.com/Skufu/healthlens/internal/schema"
	"github.com/Skufu/healthlens/internal/session"
)

const maxJSONBody = 1 << 20 // 1MB

type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers call into. DB and Cache may be
// nil when the corresponding backend is disabled.
type Deps struct {
	Registry *schema.Registry
	Sessions *session.Service
	PDF      pdftext.Extractor
	Advisor  *llm.Advisor
	DB       HealthChecker
	Cache    HealthChecker
	Logger   zerolog.Logger
}

type Options struct {
	Auth           auth.Config
	CORSOrigins    []string
	MaxUploadBytes int64
	RateLimitRPS   float64
	RateLimitBurst int
	// StaticRoot is served under / when it contains an index.html.
	StaticRoot string
}

type handler struct {
	Deps
	maxUpload int64
}

// New builds the HTTP router.
func New(deps Deps, opts Options) *gin.Engine {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(
		requestLogger(deps.Logger),
		gin.Recovery(),
		cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}),
	)

	if opts.StaticRoot != "" && fileExists(filepath.Join(opts.StaticRoot, "index.html")) {
		router.Static("/static", opts.StaticRoot)
		router.StaticFile("/", filepath.Join(opts.StaticRoot, "index.html"))
	}

	h := &handler{Deps: deps, maxUpload: opts.MaxUploadBytes}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", h.ready)

	api := router.Group("/api")
	if opts.RateLimitRPS > 0 {
		api.Use(rateLimit(opts.RateLimitRPS, opts.RateLimitBurst))
	}
	api.GET("/features/schema/:task", h.getSchema)

	private := api.Group("", auth.Middleware(opts.Auth))
	private.POST("/ingest/report", limitBodySize(opts.MaxUploadBytes), h.ingest)

	j := private.Group("", limitBodySize(maxJSONBody))
	j.GET("/sessions/:id", h.getSession)
	j.POST("/sessions/:id/edits", h.editSession)
	j.POST("/sessions/:id/complete", h.completeSession)
	j.POST("/sessions/:id/submit", h.submitSession)
	j.DELETE("/sessions/:id", h.abandonSession)
	j.GET("/reports", h.listReports)
	j.GET("/reports/:id", h.getReport)
	j.POST("/reports/:id/reopen", h.reopenReport)
	j.POST("/triage", h.triage)

	return router
}

func (h *handler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "ok"}
	code := http.StatusOK
	for name, check := range map[string]HealthChecker{"db": h.DB, "cache": h.Cache} {
		if check == nil {
			body[name] = "disabled"
			continue
		}
		if err := check.Ping(ctx); err != nil {
			body[name] = fmt.Sprintf("unhealthy: %v", err)
			body["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		body[name] = "ok"
	}
	c.JSON(code, body)
}

// Run serves handler on addr until SIGINT or SIGTERM, then drains
// in-flight requests.
func Run(addr string, handler http.Handler, logger zerolog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// extraction and prediction calls run inside the request
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info().Str("addr", addr).Msg("server listening")

	return waitForShutdown(server, errCh, logger)
}

func waitForShutdown(server *http.Server, errCh <-chan error, logger zerolog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-stop:
	}

	logger.Info().Msg("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// DetectStaticRoot looks for a frontend index.html in the working directory
// and up to two parents.
func DetectStaticRoot() string {
	startDir, err := os.Getwd()
	if err != nil {
		return ""
	}

	candidates := []string{
		startDir,
		filepath.Dir(startDir),
		filepath.Dir(filepath.Dir(startDir)),
	}

	for _, dir := range candidates {
		if fileExists(filepath.Join(dir, "index.html")) {
			return dir
		}
	}

	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
