package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/akatsuki/bancho/internal/adminpubsub"
	"github.com/akatsuki/bancho/internal/beatmaps"
	"github.com/akatsuki/bancho/internal/cache"
	"github.com/akatsuki/bancho/internal/channel"
	"github.com/akatsuki/bancho/internal/config"
	"github.com/akatsuki/bancho/internal/dispatch"
	"github.com/akatsuki/bancho/internal/geo"
	"github.com/akatsuki/bancho/internal/httpapi"
	"github.com/akatsuki/bancho/internal/leaderboard"
	"github.com/akatsuki/bancho/internal/logger"
	"github.com/akatsuki/bancho/internal/login"
	"github.com/akatsuki/bancho/internal/match"
	"github.com/akatsuki/bancho/internal/perf"
	"github.com/akatsuki/bancho/internal/presence"
	"github.com/akatsuki/bancho/internal/reaper"
	"github.com/akatsuki/bancho/internal/session"
	"github.com/akatsuki/bancho/internal/spectator"
	"github.com/akatsuki/bancho/internal/store/pg"
	"github.com/akatsuki/bancho/internal/streambus"
	"github.com/akatsuki/bancho/internal/webhook"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	db, err := pg.Open(cfg)
	if err != nil {
		log.LogError(context.Background(), err, "failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	redis, err := cache.New(cfg)
	if err != nil {
		log.LogError(context.Background(), err, "failed to connect to redis")
		os.Exit(1)
	}
	defer redis.Close()

	users := pg.NewUserStore(db)
	stats := pg.NewStatsStore(db)
	hardware := pg.NewHardwareStore(db)
	channelDB := pg.NewChannelStore(db)
	messages := pg.NewMessageStore(db)
	friends := pg.NewRelationshipStore(db)

	sessions := session.New(redis)
	presences := presence.New(redis)
	spectators := spectator.New(redis)
	streams := streambus.New(redis, log)
	board := leaderboard.New(redis)

	channels := channel.New(redis, channelDB, streams, spectators)
	matches := match.New(redis, db, streams, channels)
	channels.SetMatchLookup(matches)

	geoClient := geo.New("", log)
	beatmapsClient := beatmaps.New(cfg.BeatmapsServiceBaseURL, log)
	perfClient := perf.New(cfg.PerformanceServiceBaseURL, log)

	discord, err := webhook.New(cfg.DiscordWebhookURL, log)
	if err != nil {
		log.LogError(context.Background(), err, "failed to build discord notifier")
		os.Exit(1)
	}

	pipeline := login.New(
		users, stats, hardware, channelDB, messages, friends,
		sessions, presences, channels, streams, board, geoClient, discord,
		log, cfg.BanchoVersionFloor, cfg.BotUserID,
	)
	pipeline.SetMaintenanceMode(cfg.MaintenanceMode)

	dispatcher := dispatch.New(
		sessions, presences, streams, channels, spectators, matches,
		channelDB, messages, friends, users, board, log, nil,
	)

	sessionReaper := reaper.New(
		sessions, presences, channels, channelDB, spectators, matches,
		streams, cfg.SessionStaleAfter, log,
	)
	if err := sessionReaper.Start(cfg.ReaperInterval); err != nil {
		log.LogError(context.Background(), err, "failed to start session reaper")
		os.Exit(1)
	}
	defer sessionReaper.Stop()

	var adminListener *adminpubsub.Listener
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			log.Warn("failed to connect to NATS, admin pubsub disabled", "error", err)
		} else {
			defer nc.Close()
			adminListener = adminpubsub.New(
				nc, sessions, presences, channels, spectators, matches,
				streams, stats, board, log,
			)
			if err := adminListener.Start(); err != nil {
				log.LogError(context.Background(), err, "failed to start admin pubsub listener")
				os.Exit(1)
			}
			log.Info("admin pubsub listening", "url", cfg.NatsURL)
		}
	} else {
		log.Warn("NATS_URL not set, admin pubsub disabled")
	}
	if adminListener != nil {
		defer adminListener.Close()
	}

	// beatmapsClient/perfClient back the JSON match-details surface's
	// nice-to-have fields; httpapi.New takes only what player_match_details
	// needs today, so wire them through context.Background() callers would
	// use once a beatmap/pp-enriched endpoint exists (SPEC_FULL.md §4.11).
	_ = beatmapsClient
	_ = perfClient

	server := httpapi.New(sessions, users, matches, dispatcher, pipeline,
		splitOrigins(cfg.CORSAllowedOrigins), log)

	addr := cfg.AppHost + ":" + cfg.AppPort
	shutdownTimeout := time.Duration(cfg.ServerShutdownTimeoutSecs) * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutting down bancho")
		cancel()
	}()

	log.Info("bancho listening", "addr", addr)
	if err := server.Run(ctx, addr, shutdownTimeout); err != nil {
		log.LogError(context.Background(), err, "http server exited with error")
		os.Exit(1)
	}

	log.Info("bancho shut down cleanly")
}

// splitOrigins turns CORS_ALLOWED_ORIGINS's comma-separated value into the
// slice rs/cors expects, the same convention the teacher's
// setupGraphQLServer used for its own CORSAllowedOrigins.
func splitOrigins(raw string) []string {
	if raw == "" || raw == "*" {
		return []string{"*"}
	}
	origins := strings.Split(raw, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	return origins
}
