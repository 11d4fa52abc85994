package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Ishan03-25/healthScreening/internal/config"
	"github.com/Ishan03-25/healthScreening/internal/domain/admin"
	"github.com/Ishan03-25/healthScreening/internal/domain/screening"
	"github.com/Ishan03-25/healthScreening/internal/platform/auth"
	"github.com/Ishan03-25/healthScreening/internal/platform/blobstore"
	"github.com/Ishan03-25/healthScreening/internal/platform/db"
	"github.com/Ishan03-25/healthScreening/internal/platform/draftstore"
	"github.com/Ishan03-25/healthScreening/internal/platform/events"
	"github.com/Ishan03-25/healthScreening/internal/platform/middleware"
	"github.com/Ishan03-25/healthScreening/internal/platform/validate"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "screening-server",
		Short: "Health screening API server",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(userCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			revoked := auth.NewMemoryRevocationStore()
			defer revoked.Close()
			svc := admin.NewService(admin.NewUserRepo(pool), admin.NewActivityRepo(pool), revoked, cfg.TokenTTL, zerolog.Nop())

			u, err := svc.CreateUser(ctx, name, email, password, auth.RoleAdmin)
			if err != nil {
				return err
			}
			fmt.Printf("Created admin %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("name", "Administrator", "Display name")
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Initial password (min 8 characters)")

	cmd.AddCommand(createCmd)
	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// handlers groups everything newRouter mounts.
type handlers struct {
	auth      *auth.Handler
	screening *screening.Handler
	admin     *admin.Handler
	blobs     *blobstore.BlobHandler
	health    echo.HandlerFunc
}

func newRouter(cfg *config.Config, logger zerolog.Logger, revocations auth.RevocationChecker, h handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))

	jwtAuth := auth.JWTMiddleware(auth.JWTConfig{
		Issuer:      cfg.JWTIssuer,
		SigningKey:  []byte(cfg.JWTSecret),
		Revocations: revocations,
	})
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtAuth))
	} else {
		e.Use(jwtAuth)
	}
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))
	e.Use(middleware.Audit(logger, nil))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.health != nil {
		e.GET("/health/db", h.health)
	}

	api := e.Group("/api/v1")
	h.auth.RegisterRoutes(api)
	h.screening.RegisterRoutes(api)
	h.admin.RegisterRoutes(api)
	h.blobs.RegisterRoutes(api.Group("", auth.RequireRole(auth.RoleUser)))
	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.JWTSecret == "" {
		// Dev only; tokens stop validating on restart.
		secret := make([]byte, 32)
		if _, err := crypto_rand.Read(secret); err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.JWTSecret = hex.EncodeToString(secret)
		logger.Warn().Msg("JWT_SECRET not set, using a random per-process secret")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Database
	pool, err := connect(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	applied, err := db.NewMigrator(pool, cfg.MigrationsDir).Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to apply migrations")
	}
	if applied > 0 {
		logger.Info().Int("count", applied).Msg("applied migrations")
	}

	var checks []db.Check

	// Drafts and revocations: Redis when configured, process memory otherwise
	var (
		drafts  draftstore.Store
		revoked auth.RevocationStore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		redisDrafts := draftstore.NewRedisStore(client)
		if err := redisDrafts.Ping(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		drafts = redisDrafts
		revoked = auth.NewRedisRevocationStore(client)
		checks = append(checks, db.Check{Name: "redis", Ping: redisDrafts.Ping})
		logger.Info().Msg("using redis for drafts and token revocation")
	} else {
		mem := draftstore.NewMemoryStore()
		go mem.RunSweeper(ctx, time.Minute)
		drafts = mem
		memRevoked := auth.NewMemoryRevocationStore()
		defer memRevoked.Close()
		revoked = memRevoked
		logger.Warn().Msg("REDIS_URL not set, drafts and revocations are kept in memory")
	}

	// Images
	var blobs blobstore.BlobStore
	if cfg.MinioEndpoint != "" {
		client, err := blobstore.NewMinioClient(blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create object storage client")
		}
		store := blobstore.NewMinioBlobStore(client, cfg.MinioBucket)
		if err := store.EnsureBucket(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare image bucket")
		}
		blobs = store
		checks = append(checks, db.Check{Name: "object_storage", Ping: store.Ping})
	} else {
		blobs = blobstore.NewInMemoryBlobStore()
		logger.Warn().Msg("MINIO_ENDPOINT not set, images are kept in memory")
	}

	// Events
	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to message broker")
		}
		defer conn.Close()
		rabbit, err := events.NewRabbitPublisher(conn, cfg.AMQPQueue)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open event channel")
		}
		defer rabbit.Close()
		publisher = rabbit
		checks = append(checks, db.Check{Name: "amqp", Ping: func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}})
	}

	// Domain services
	adminSvc := admin.NewService(admin.NewUserRepo(pool), admin.NewActivityRepo(pool), revoked, cfg.TokenTTL, logger)
	screeningSvc := screening.NewService(screening.NewPatientRepo(pool), drafts, blobs, publisher, logger, cfg.DraftTTL)
	issuer := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenTTL)

	e := newRouter(cfg, logger, revoked, handlers{
		auth:      auth.NewHandler(adminSvc, issuer, revoked, logger),
		screening: screening.NewHandler(screeningSvc),
		admin:     admin.NewHandler(adminSvc),
		blobs:     blobstore.NewBlobHandler(blobs),
		health:    db.HealthHandler(pool, checks...),
	})

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
