package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attempt-engine/internal/app"
	"attempt-engine/internal/config"
	"attempt-engine/internal/infra/memory"
	pgloader "attempt-engine/internal/infra/postgres"
	redisinfra "attempt-engine/internal/infra/redis"
	transport "attempt-engine/internal/transport/http"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt engine server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pgloader.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	// The store API always serves the local store; the engine may instead be
	// pointed at a remote one.
	var store app.AssessmentStore
	if redisClient != nil {
		store = redisinfra.NewAssessmentStore(redisClient, quizRepo, redisTTL)
	} else {
		store = memory.NewAssessmentStore(quizRepo)
	}
	engineStore, engineQuizzes := store, quizRepo
	if cfg.Engine.StoreURL != "" {
		client := transport.NewStoreClient(cfg.Engine.StoreURL, nil)
		engineStore, engineQuizzes = client, client
		log.Info().Str("store_url", cfg.Engine.StoreURL).Msg("engine uses remote store")
	}

	var sessions app.SessionRepository
	if redisClient != nil {
		host, _ := os.Hostname()
		sessions = redisinfra.NewSessionStore(redisClient, redisTTL, host)
	} else {
		sessions = memory.NewSessionStore()
	}
	engine := app.NewEngine(engineStore, engineQuizzes, sessions, cfg.EngineOptions())

	var api chi.Router
	if cfg.Engine.StoreURL == "" {
		api = transport.NewAPIRouter(store, quizRepo)
	}
	router := transport.NewRouter(api, transport.NewWSHandler(engine), cfg.Server.AllowedOrigins...)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting attempt engine")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
