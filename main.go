package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/local-market-estimator/internal/config"
	"github.com/raine/local-market-estimator/internal/estimate"
	"github.com/raine/local-market-estimator/internal/form"
	"github.com/raine/local-market-estimator/internal/telegram"
	"github.com/raine/local-market-estimator/internal/web"
)

const logFileName = "local-market-estimator.log"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	config.LoadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		fatalWithWait("%v", err)
	}

	if !cfg.HasAPIKey() {
		if isInteractiveTerminal() {
			if !runSetupWizard() {
				waitOnWindows()
				os.Exit(1)
			}
			if cfg, err = config.Load(); err != nil {
				fatalWithWait("%v", err)
			}
		} else {
			fatalWithWait("missing required config: GEMINI_API_KEY")
		}
	}
	if err := cfg.Validate(); err != nil {
		fatalWithWait("invalid config: %v", err)
	}
	zerolog.SetGlobalLevel(cfg.Level())

	// JOURNAL_STREAM is set by systemd; journald already keeps the log.
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			fatalWithWait("failed to open log file: %v", err)
		}
		defer logFile.Close()

		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
		fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
		log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))

		log.Info().Str("logFile", logFileName).Msg("logging to file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gemini, err := estimate.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		fatalWithWait("failed to initialize gemini client: %v", err)
	}
	estimator := estimate.NewInstrumented(gemini, prometheus.DefaultRegisterer)
	log.Info().Str("model", cfg.GeminiModel).Msg("gemini estimator initialized")

	registry := form.NewRegistry(form.Options{
		Estimator: estimator,
		Timeout:   cfg.EstimateTimeout,
	}, cfg.SessionTTL)
	registry.SetMaxSessions(cfg.MaxSessions)
	defer registry.Shutdown()

	gin.SetMode(gin.ReleaseMode)
	server := web.NewServer(web.Options{
		Addr:       cfg.HTTPAddr,
		Registry:   registry,
		Estimator:  estimator,
		Gatherer:   prometheus.DefaultGatherer,
		SessionTTL: cfg.SessionTTL,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(ctx)
	})

	g.Go(func() error {
		return registry.Run(ctx)
	})

	if cfg.BotToken != "" {
		tg, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			fatalWithWait("failed to initialize telegram bot: %v", err)
		}
		tg.Debug = false
		log.Info().Str("username", tg.Self.UserName).Msg("authorized on account")
		telegram.RegisterCommands(tg)

		g.Go(func() error {
			return runBot(ctx, tg, registry)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

func runBot(ctx context.Context, tg *tgbotapi.BotAPI, registry *form.Registry) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := tg.GetUpdatesChan(updateConfig)

	go func() {
		<-ctx.Done()
		log.Info().Msg("stopping bot update loop")
		tg.StopReceivingUpdates()
	}()

	return telegram.NewBot(tg, registry).Run(ctx, updates)
}
