package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"relay-api/internal/auth"
	"relay-api/internal/database"
	"relay-api/internal/handlers/chat"
	"relay-api/internal/handlers/history"
	"relay-api/internal/middleware"
	"relay-api/internal/routers"
	"relay-api/internal/shared"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Flags / ENV Variables
	writeDSN := flag.String("dsn", "", "Write DSN")
	readDSN := flag.String("read-dsn", "", "Read replica DSN")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	redisAddr := flag.String("redis-addr", "", "Redis host:port")
	debug := flag.Bool("debug", false, "Debug enabled")
	upstreamAPIKey := flag.String("upstream-api-key", "", "Upstream provider API key")
	upstreamEndpoint := flag.String("upstream-endpoint", shared.DefaultUpstreamEndpoint, "Upstream chat completions base url")
	upstreamModel := flag.String("upstream-model", shared.DefaultUpstreamModel, "Upstream model")
	jwtSecret := flag.String("jwt-secret", "", "HS256 secret for session tokens, empty disables session auth")
	port := flag.Int("port", 80, "Listen port")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	// Write DB init
	writeDB, err := sql.Open("mysql", *writeDSN)
	if err != nil {
		panic(fmt.Sprintf("failed initializing sqlClient: %s", err))
	}
	err = writeDB.Ping()
	if err != nil {
		panic(fmt.Sprintf("failed ping to sql db: %s", err))
	}

	// Read db init
	readDB, err := sql.Open("mysql", *readDSN)
	if err != nil {
		panic(fmt.Sprintf("failed initializing readSqlClient: %s", err))
	}
	err = readDB.Ping()
	if err != nil {
		panic(fmt.Sprintf("failed to ping read replica sql db: %s", err))
	}

	// Load Redis connection
	redisClient := redis.NewClient(&redis.Options{
		Addr:     *redisAddr,
		Password: "",
		DB:       0,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		panic(fmt.Sprintf("failed ping to redis db: %s", err))
	}

	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if writeDB != nil {
			_ = writeDB.Close()
		}
		if readDB != nil {
			_ = readDB.Close()
		}
	}()

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()
	defer func() {
		_ = log.Sync()
	}()

	// Credentials: session JWTs when a secret is configured, api keys always
	var sessions auth.Authenticator
	if *jwtSecret != "" {
		jwtAuth, err := auth.NewJWTAuthenticator(*jwtSecret, log)
		if err != nil {
			panic(err)
		}
		sessions = jwtAuth
	}
	resolver := auth.NewResolver(sessions, auth.NewAPIKeyAuthenticator(redisClient, readDB, log))
	umw := middleware.NewUserMiddleware(resolver, log)

	chatHandler, err := chat.NewChatHandler(
		database.NewAccountStore(writeDB, readDB),
		database.NewRequestStore(writeDB),
		chat.UpstreamConfig{
			Endpoint: *upstreamEndpoint,
			APIKey:   *upstreamAPIKey,
			Model:    *upstreamModel,
		},
		log,
	)
	if err != nil {
		panic(err)
	}
	historyHandler, err := history.NewHistoryHandler(database.NewHistoryStore(writeDB, readDB), log)
	if err != nil {
		panic(err)
	}

	e, base := routers.NewEcho(log)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey, err := shared.ExtractBearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return c.String(401, "Missing or invalid API key")
			}

			if *metricsAPIKey == "" || apiKey != *metricsAPIKey {
				return c.String(401, "Unauthorized API key")
			}
			return next(c)
		}
	})

	// Register routes
	routers.RegisterChatRoutes(base, chatHandler, umw)
	routers.RegisterHistoryRoutes(base, historyHandler, umw)

	go func() {
		log.Infow("Starting relay", "port", *port, "model", chatHandler.Upstream.Model)
		if err := e.Start(fmt.Sprintf(":%d", *port)); err != nil && err != http.ErrServerClosed {
			log.Fatalw("shutting down the server", "error", err)
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Errorw("Failed graceful shutdown", "error", err)
	}

	// Wait for background debits and request records
	chatHandler.ShutDown()
}
