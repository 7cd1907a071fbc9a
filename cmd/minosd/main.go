package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/theminus/minosd/internal/announce"
	"github.com/theminus/minosd/internal/auth"
	"github.com/theminus/minosd/internal/flash"
	"github.com/theminus/minosd/internal/settings"
	"github.com/theminus/minosd/internal/sysinfo"
	"github.com/theminus/minosd/internal/system"
	"github.com/theminus/minosd/internal/web"
	"github.com/theminus/minosd/internal/wifi"
	"github.com/theminus/minosd/pkg/config"
)

func main() {
	cfg := config.LoadFromEnv()

	setupLogging(cfg.Logging)

	log.Info().Msg("starting minosd")

	bank, err := flash.NewFileBank(cfg.Flash.Dir, cfg.Flash.SlotSize)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open flash bank")
	}

	store, err := settings.Load(cfg.System.SettingsPath, cfg.Auth.BCryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load settings")
	}

	restarter := system.NewProcessRestarter()
	authService := auth.NewService(store, &cfg.Auth)
	wifiManager := wifi.NewManager(store, wifi.NewPlatformBackend(), restarter, cfg.System.WifiTimeout)

	// Boot-time association decides commit or rollback of staged credentials
	// before the management interface comes up.
	wifiManager.Startup(context.Background())

	cur := store.Get()
	version := bank.ActiveVersion()

	publisher := announce.NewPublisher(cur.Hostname, func() announce.BrokerConfig {
		st := store.Get()
		return announce.BrokerConfig{
			Host:     st.MQTTHost,
			Port:     st.MQTTPort,
			Login:    st.MQTTLogin,
			Password: st.MQTTPassword,
		}
	})

	mdns, err := announce.RegisterMDNS(cur.Hostname, cfg.Server.Port, version)
	if err != nil {
		log.Warn().Err(err).Msg("mdns registration failed")
	} else {
		defer mdns.Shutdown()
	}

	server := web.NewServer(cfg, store, bank, authService, wifiManager,
		restarter, sysinfo.NewCollector(bank), publisher)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("management interface listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	publisher.Online(version)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
