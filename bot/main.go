package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/claritylab/claritylab/commons"
	"github.com/claritylab/claritylab/service"
)

func main() {
	releaseMode := flag.Bool("release", false, "Run in release mode")
	token := flag.String("telegram-token", os.Getenv("TELEGRAM_BOT_TOKEN"), "Telegram bot token")
	webhookURL := flag.String("webhook-url", os.Getenv("WEBHOOK_URL"), "Public base URL for webhook mode, empty means long polling")
	listenAddress := flag.String("listen-address", ":8082", "Address for the webhook and health endpoints")
	maxFileSize := flag.Int("max-file-size", 10<<20, "Largest image accepted in bytes")
	sentryDsn := flag.String("sentry-dsn", os.Getenv("SENTRY_DSN"), "Sentry DSN")
	logLevel := flag.String("log-level", "info", "Log level")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	opts := service.RegisterFlags(flag.CommandLine)

	flag.Parse()

	commons.SetupLogging(*logLevel, *logFormat)

	environment := "development"
	if *releaseMode {
		gin.SetMode(gin.ReleaseMode)
		environment = "production"
	}
	if err := commons.SetupSentry(*sentryDsn, environment); err != nil {
		log.Fatal("[Main] Couldn't set up sentry: ", err.Error())
	}
	if *token == "" {
		log.Fatal("[Main] Missing telegram token, set -telegram-token or TELEGRAM_BOT_TOKEN")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, opts)
	if err != nil {
		log.Fatal("[Main] Couldn't set up classification: ", err.Error())
	}
	defer svc.Close()

	bot, err := tgbotapi.NewBotAPI(*token)
	if err != nil {
		log.Fatal("[Main] Couldn't connect to telegram: ", err.Error())
	}
	log.Info("[Main] Authorized as @", bot.Self.UserName)

	router := &Router{
		Sender:      bot,
		Classifier:  svc,
		Files:       newTelegramFiles(bot),
		MaxFileSize: *maxFileSize,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if *webhookURL != "" {
		path := "/webhook/" + shortHash(bot.Token)
		wh, err := tgbotapi.NewWebhook(strings.TrimRight(*webhookURL, "/") + path)
		if err != nil {
			log.Fatal("[Main] Couldn't create webhook: ", err.Error())
		}
		wh.DropPendingUpdates = true
		if _, err := bot.Request(wh); err != nil {
			log.Fatal("[Main] Couldn't register webhook: ", err.Error())
		}
		engine.POST(path, func(c *gin.Context) {
			upd, err := bot.HandleUpdate(c.Request)
			if err != nil {
				log.Debug("[Main] Couldn't decode update: ", err.Error())
				c.Status(http.StatusBadRequest)
				return
			}
			go router.HandleUpdate(ctx, *upd)
			c.Status(http.StatusOK)
		})
		log.Info("[Main] Webhook mode")
	} else {
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.Debug("[Main] Couldn't remove webhook: ", err.Error())
		}
		go poll(ctx, bot, router)
		log.Info("[Main] Polling mode")
	}

	srv := &http.Server{
		Addr:              *listenAddress,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("[Main] Couldn't start server: ", err.Error())
		}
	}()

	<-ctx.Done()
	log.Info("[Main] Shutting down")
	bot.StopReceivingUpdates()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("[Main] Couldn't shut down gracefully: ", err.Error())
	}
}

func poll(ctx context.Context, bot *tgbotapi.BotAPI, router *Router) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	for upd := range bot.GetUpdatesChan(u) {
		go router.HandleUpdate(ctx, upd)
	}
}

// shortHash keeps the bot token out of the webhook path.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
