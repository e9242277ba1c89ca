package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/NodeRegistrar/internal/access"
	"github.com/jmerrifield20/NodeRegistrar/internal/auditlog"
	"github.com/jmerrifield20/NodeRegistrar/internal/health"
	"github.com/jmerrifield20/NodeRegistrar/internal/identity"
	"github.com/jmerrifield20/NodeRegistrar/internal/metrics"
	"github.com/jmerrifield20/NodeRegistrar/internal/puppetca"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/handler"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/repository"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/service"
	"github.com/jmerrifield20/NodeRegistrar/internal/users"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("registrar exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	v := viper.New()
	if err := loadConfig(v, logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ─────────────────────────────────────────────────────────────
	db, err := pgxpool.New(ctx, v.GetString("database.url"))
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	// ── Audit ledger ─────────────────────────────────────────────────────────
	ledger := auditlog.NewPostgres(db, logger)
	if err := ledger.Verify(ctx); err != nil {
		logger.Warn("audit ledger integrity check FAILED", zap.Error(err))
	} else {
		n, _ := ledger.Len(ctx)
		root, _ := ledger.Root(ctx)
		logger.Info("audit ledger verified", zap.Int("entries", n), zap.String("root", root))
	}

	// ── Services ─────────────────────────────────────────────────────────────
	nodeRepo := repository.NewNodeRepository(db)
	proxyRepo := repository.NewProxyRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	ca := puppetca.New(
		puppetca.WithBasicAuth(v.GetString("puppetca.username"), v.GetString("puppetca.password")),
		puppetca.WithInsecureSkipVerify(v.GetBool("puppetca.insecure_skip_verify")),
		puppetca.WithTimeout(v.GetDuration("puppetca.timeout")),
	)

	gate := access.NewGate(settingsRepo, splitList(v, "registrar.allowed_hosts"), logger)
	directory := service.NewCADirectory(proxyRepo, logger)
	svc := service.NewRegistrationService(nodeRepo, directory, ca, logger)
	svc.SetGate(gate)
	svc.SetLedger(ledger)

	userSvc := users.NewUserService(users.NewUserRepository(db), logger)

	httpPort := v.GetInt("registrar.port")
	issuerURL := v.GetString("registrar.issuer_url")
	if issuerURL == "" {
		issuerURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}
	var tokens *identity.TokenIssuer
	if secret := v.GetString("auth.token_secret"); secret != "" {
		tokens, err = identity.NewTokenIssuer(secret, issuerURL, v.GetDuration("auth.token_ttl"))
		if err != nil {
			return fmt.Errorf("token issuer: %w", err)
		}
		logger.Info("bearer tokens enabled", zap.String("issuer", issuerURL), zap.Duration("ttl", tokens.TTL()))
	} else {
		logger.Warn("auth.token_secret not set, bearer tokens disabled")
	}

	// ── Readiness ────────────────────────────────────────────────────────────
	readiness := health.New(health.Config{
		CheckTimeout:  v.GetDuration("health.check_timeout"),
		FailThreshold: v.GetInt("health.fail_threshold"),
	}, logger)
	readiness.SetMetricsRecord(metrics.RecordHealthCheck)
	readiness.Add("database", db.Ping)
	caPingClient := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: v.GetBool("puppetca.insecure_skip_verify")}, //nolint:gosec
	}}
	readiness.Add("ca_proxy", func(ctx context.Context) error {
		proxy, err := directory.Resolve(ctx)
		if err != nil {
			return err
		}
		return health.PingHTTP(ctx, caPingClient, proxy.URL)
	})

	authHandler := handler.NewAuthHandler(userSvc, tokens, logger)
	regHandler := handler.NewRegistrationHandler(svc, logger)
	auditHandler := handler.NewAuditHandler(ledger, logger)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// The allow-list matches on c.ClientIP(), so forwarded headers are only
	// honoured from explicitly trusted proxies.
	if err := router.SetTrustedProxies(splitList(v, "registrar.trusted_proxies")); err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	corsOrigins := splitList(v, "registrar.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	if rps := v.GetFloat64("registrar.rate_limit_rps"); rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, int(rps*2)+1))
	}

	router.Use(metrics.Middleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		report := readiness.CheckAll(c.Request.Context())
		status := http.StatusOK
		if !report.Ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	})
	router.GET("/metrics", metrics.Handler())

	api := router.Group("/api")
	authHandler.Register(api.Group("/v2"))

	authed := api.Group("", authHandler.Authenticate())
	regHandler.Register(authed.Group("/v2"))
	authed.POST("/register", regHandler.RegisterNode)
	auditHandler.Register(authed.Group("/v2", handler.RequirePermission(access.PermViewAudit)))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("registrar HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("HTTP listen: %w", err)
	}
	logger.Info("shutting down registrar...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("registrar stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
