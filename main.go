package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/swingbuddy/swingbuddy/internal/antispam"
	"github.com/swingbuddy/swingbuddy/internal/bot"
	"github.com/swingbuddy/swingbuddy/internal/cache"
	"github.com/swingbuddy/swingbuddy/internal/config"
	"github.com/swingbuddy/swingbuddy/internal/db/sqlite"
	"github.com/swingbuddy/swingbuddy/internal/i18n"
	"github.com/swingbuddy/swingbuddy/internal/infra"
	"github.com/swingbuddy/swingbuddy/internal/lifecycle"
	"github.com/swingbuddy/swingbuddy/internal/observability"
	"github.com/swingbuddy/swingbuddy/internal/scenario"
)

const metricsAddr = ":9090"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatalln("cant load config")
	}
	log.SetFormatter(&config.SbFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(cfg.LogLevel())
	if cfg.Logging.FilePath != "" {
		logFile, err := os.OpenFile(cfg.Logging.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.WithError(err).Warnln("cant open log file, writing to stdout only")
		} else {
			defer logFile.Close()
			log.SetOutput(io.MultiWriter(os.Stdout, logFile))
		}
	}

	i18n.SetDefaultLanguage(cfg.I18n.DefaultLanguage)
	observability.Init(metricsAddr)

	infra.GoRecoverable(-1, "bot", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		botAPI, err := api.NewBotAPI(cfg.Bot.Token)
		if err != nil {
			log.WithError(err).Errorln("cant initialize bot api")
			time.Sleep(1 * time.Second)
			log.Fatalln("exiting")
		}
		if cfg.LogLevel() == log.TraceLevel {
			botAPI.Debug = true
		}
		defer botAPI.StopReceivingUpdates()

		store, err := cache.NewRedisStore(cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			log.WithError(err).Warnln("redis unavailable, falling back to in-memory cache")
			store, err = cache.NewMemoryStore(scenario.MaxExpiry)
			if err != nil {
				log.WithError(err).Fatalln("cant initialize cache")
			}
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.WithError(err).Warnln("cant close cache")
			}
		}()

		dbPath := cfg.Database.URL
		if dbPath == "" {
			dbPath = filepath.Join(infra.GetWorkDir(), "swingbuddy.db")
		}
		dbClient, err := sqlite.NewSQLiteClient(ctx, dbPath, cfg.Database.MaxConnections)
		if err != nil {
			log.WithError(err).Fatalln("cant open database")
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				log.WithError(err).Warnln("cant close database")
			}
		}()

		registry := scenario.NewRegistry()
		if err := scenario.RegisterCatalog(registry, cfg.I18n.SupportedLanguages); err != nil {
			log.WithError(err).Fatalln("cant register scenarios")
		}
		contexts := scenario.NewStore(store, cfg.CacheTTL())
		runner := scenario.NewRunner(contexts, registry)
		checker := antispam.NewChecker(cfg.CAS.APIURL, cfg.CASTimeout(), store, cfg.CacheTTL())

		gateway := bot.NewTelegramGateway(botAPI)
		service := bot.NewService(gateway, dbClient, store, cfg)
		dispatcher := bot.NewDispatcher(service, runner, checker)

		rt := lifecycle.NewRuntime(
			lifecycle.NewSweeper(contexts, checker, dbClient, cfg.CacheTTL(), 0),
		)
		if err := rt.Start(ctx); err != nil {
			log.WithError(err).Fatalln("cant start components")
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := rt.Stop(stopCtx); err != nil {
				log.WithError(err).Warnln("cant stop components")
			}
		}()

		updateConfig := api.NewUpdate(0)
		updateConfig.Timeout = 60
		updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)

		for {
			select {
			case err := <-errorChan:
				log.WithError(err).Fatalln("bot api get updates error")
			case update := <-updateChan:
				dispatcher.Process(ctx, &update)
			case <-ctx.Done():
				log.WithError(ctx.Err()).Errorln("no more updates")
				return
			}
		}
	})

	<-infra.MonitorExecutable(context.Background())
	log.Errorln("executable file was modified")
	os.Exit(0)
}
