package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/claritylab/claritylab/commons"
	"github.com/claritylab/claritylab/service"
)

func main() {
	releaseMode := flag.Bool("release", false, "Run in release mode")
	listenAddress := flag.String("listen-address", ":8081", "Address the HTTP server listens on")
	redisAddress := flag.String("redis-address", ":6379", "Address to the Redis server")
	redisMaxConnections := flag.Int("redis-max-connections", 50, "Max connections to Redis")
	rateLimit := flag.Int64("rate-limit", 0, "Verdict requests per client and window, 0 disables rate limiting")
	rateLimitWindow := flag.Duration("rate-limit-window", time.Minute, "Rate limit window")
	maxUploadSize := flag.Int64("max-upload-size", 10<<20, "Max size of a verdict request body in bytes")
	sentryDsn := flag.String("sentry-dsn", os.Getenv("SENTRY_DSN"), "Sentry DSN")
	logLevel := flag.String("log-level", "info", "Log level")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	opts := service.RegisterFlags(flag.CommandLine)

	flag.Parse()

	commons.SetupLogging(*logLevel, *logFormat)

	environment := "development"
	if *releaseMode {
		log.Info("[Main] Starting gin in release mode!")
		gin.SetMode(gin.ReleaseMode)
		environment = "production"
	}

	if err := commons.SetupSentry(*sentryDsn, environment); err != nil {
		log.Fatal("[Main] Couldn't set up sentry: ", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, opts)
	if err != nil {
		log.Fatal("[Main] Couldn't set up classification: ", err.Error())
	}
	defer svc.Close()

	var limiter *RateLimitConfig
	if *rateLimit > 0 {
		redisPool := commons.NewRedisPool(*redisAddress, *redisMaxConnections)
		defer redisPool.Close()
		limiter = &RateLimitConfig{
			Counter: redisCounter{pool: redisPool},
			Limit:   *rateLimit,
			Window:  *rateLimitWindow,
		}
	}

	server := &Server{
		classifier:    svc,
		models:        svc.Registry,
		maxUploadSize: *maxUploadSize,
	}

	srv := &http.Server{
		Addr:              *listenAddress,
		Handler:           NewRouter(server, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("[Main] Listening on ", *listenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("[Main] Couldn't start server: ", err.Error())
		}
	}()

	<-ctx.Done()
	log.Info("[Main] Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("[Main] Couldn't shut down gracefully: ", err.Error())
	}
}
