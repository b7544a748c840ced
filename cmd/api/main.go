package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rpiotaix/userbundle/internal/auth"
	"github.com/rpiotaix/userbundle/internal/background"
	"github.com/rpiotaix/userbundle/internal/config"
	"github.com/rpiotaix/userbundle/internal/database"
	"github.com/rpiotaix/userbundle/internal/handlers"
	"github.com/rpiotaix/userbundle/internal/limiter"
	middlewareCustom "github.com/rpiotaix/userbundle/internal/middleware"
	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/rpiotaix/userbundle/internal/repositories"
	"github.com/rpiotaix/userbundle/internal/routes"
	"github.com/rpiotaix/userbundle/internal/services"
	pkgauth "github.com/rpiotaix/userbundle/pkg/auth"
	pkghttp "github.com/rpiotaix/userbundle/pkg/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("db_driver", cfg.Database.Driver),
		slog.String("hash_algorithm", cfg.Hashing.Algorithm),
	)

	// Storage
	var (
		store       services.AccountRepository
		groupStore  services.GroupRepository
		healthCheck = func(context.Context) error { return nil }
	)
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory account store; data is lost on restart")
		store = repositories.NewMemoryAccountRepository()
		groupStore = repositories.NewMemoryGroupRepository()
	default:
		db, err := database.NewConnection(&cfg.Database, logger)
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()

		if cfg.Database.RunMigrations {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := db.Migrate(ctx)
			cancel()
			if err != nil {
				logger.Error("failed to run migrations", slog.Any("error", err))
				os.Exit(1)
			}
		}

		store = repositories.NewAccountRepository(db)
		groupStore = repositories.NewGroupRepository(db)
		healthCheck = db.HealthCheck
	}

	// Per-account token request throttle
	var throttle limiter.Throttle = limiter.Noop{}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Error("failed to connect to redis", slog.String("addr", cfg.Redis.Addr), slog.Any("error", err))
			os.Exit(1)
		}

		throttle = limiter.NewRedisThrottle(client, cfg.Auth.RequestsPerWindow, cfg.Auth.RequestWindow)
		logger.Info("token request throttle enabled",
			slog.Int("limit", cfg.Auth.RequestsPerWindow),
			slog.Duration("window", cfg.Auth.RequestWindow),
		)
	} else {
		logger.Warn("REDIS_ADDR not set, token requests are not throttled per account")
	}

	// Credential hashing
	hasher, err := pkgauth.NewCredentialHasher(pkgauth.DefaultEncoderFactory(), pkgauth.HasherConfig{
		Algorithm:     cfg.Hashing.Algorithm,
		Iterations:    cfg.Hashing.Iterations,
		MaxConcurrent: cfg.Hashing.MaxConcurrent,
	})
	if err != nil {
		logger.Error("invalid hashing configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Mail transport
	var mailer services.Mailer
	switch cfg.Email.Transport {
	case "ses":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mailer, err = services.NewSESMailer(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	default:
		mailer = services.NewLogMailer(logger)
	}

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	// Initialize services
	credentialService := services.NewCredentialService(
		store,
		hasher,
		pkgauth.NewTokenGenerator(),
		throttle,
		services.SystemClock{},
		services.CredentialConfig{
			ConfirmationRequired: cfg.Auth.ConfirmationRequired,
			ResetTokenTTL:        cfg.Auth.ResetTokenTTL,
		},
		logger,
	).WithDelayer(timingDelay)
	accountService := services.NewAccountService(store, logger).WithGroups(groupStore)
	groupService := services.NewGroupService(groupStore, logger)
	notifier := services.NewNotifier(
		services.NewMessageComposer(cfg.Email.BaseURL),
		mailer,
		cfg.Auth.ResetTokenTTL,
		logger,
	)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	proxies, err := pkghttp.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(credentialService, notifier, tokenManager, proxies, logger)
	accountHandler := handlers.NewAccountHandler(accountService, credentialService)
	groupHandler := handlers.NewGroupHandler(groupService)

	// Bootstrap first admin account if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminAccount(ctx, store, hasher, logger); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, proxies))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:    authHandler,
		AccountHandler: accountHandler,
		GroupHandler:   groupHandler,
		TokenManager:   tokenManager,
		Accounts:       accountService,
		AuthRateLimit:  middlewareCustom.DefaultAuthRateLimit(proxies),
	})

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := healthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start expired reset sweeper
	cleanupManager := background.NewCleanupManager(store, logger, cfg.Auth.CleanupInterval, cfg.Auth.ResetTokenTTL)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminAccount creates the first administrator if ADMIN_USERNAME, ADMIN_EMAIL
// and ADMIN_PASSWORD are set
func ensureAdminAccount(ctx context.Context, store services.AccountRepository, hasher *pkgauth.CredentialHasher, logger *slog.Logger) error {
	username := os.Getenv("ADMIN_USERNAME")
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")

	if username == "" || email == "" || password == "" {
		logger.Info("admin bootstrap variables not set, skipping admin account creation")
		return nil
	}

	// Check if admin already exists
	_, err := store.FindByUsername(ctx, models.NormalizeIdentifier(username))
	if err == nil {
		logger.Info("admin account already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("admin password rejected: %w", err)
	}

	cred, err := hasher.Hash(ctx, password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := models.NewAccount(username, email, cred, false)
	admin.Roles = []string{models.RoleUser, models.RoleAdmin}

	if _, err := store.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	logger.Info("admin account created", slog.String("username", admin.Username))
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
