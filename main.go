package main

import (
	"context"
	"net/http"

	config "ChatRelay/global/config"
	"ChatRelay/logger"
	mid "ChatRelay/middleware"
	"ChatRelay/module/user"
	"ChatRelay/service/chat"
	"ChatRelay/service/chat/handlers"
	kafkafeed "ChatRelay/service/dispatcher/kafka"
	"ChatRelay/service/natsx"
	"ChatRelay/service/storage"
	redissvc "ChatRelay/service/storage/redis"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()
	config.ConfigIds()

	if err := redissvc.InitRedis(redissvc.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err != nil {
		logger.Log.Fatal("redis init failed: " + err.Error())
	}

	store, err := storage.NewPgStore(context.Background(), cfg.PostgresURL)
	if err != nil {
		logger.Log.Fatal("postgres init failed: " + err.Error())
	}
	defer store.Close()

	srv := chat.NewServer(cfg, store)
	handlers.RegisterAll(srv)
	defer srv.Close()

	// Cross-gateway relay is optional; a single node runs without it.
	if cfg.NatsURL != "" {
		relay, err := natsx.NewRelay(natsx.Config{
			URL:     cfg.NatsURL,
			Name:    cfg.GatewayID,
			Subject: cfg.RelaySubject,
		}, cfg.GatewayID)
		if err != nil {
			logger.Log.Fatal("nats init failed: " + err.Error())
		}
		defer relay.Close()
		if err := relay.Subscribe(srv.DeliverLocal); err != nil {
			logger.Log.Fatal("nats subscribe failed: " + err.Error())
		}
		srv.SetRelay(relay)
		logger.Infof("[main] relay attached url=%s subject=%s", cfg.NatsURL, cfg.RelaySubject)
	}

	// Durable message feed is optional as well.
	if len(cfg.KafkaBrokers) > 0 {
		feed, err := kafkafeed.NewFeed(kafkafeed.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.FeedTopic,
		})
		if err != nil {
			logger.Log.Fatal("kafka init failed: " + err.Error())
		}
		defer feed.Close()
		srv.SetFeed(feed)
		logger.Infof("[main] feed attached topic=%s", cfg.FeedTopic)
	}

	sweeper := chat.NewExpirySweeper(srv, cfg.ExpirySweep)
	sweeper.Start()
	defer sweeper.Stop()

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/chat", srv.HandleWS)
	mid.POST(r, "/login", user.HandlerLogin, mid.RouteOpt{IsAuth: false})
	mid.POST(r, "/check", user.HandlerCheck, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/presence", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"onlineUserIds": srv.Presence().Snapshot()})
	}, mid.RouteOpt{IsAuth: true})

	logger.Infof("[main] gateway=%s listening on %s", cfg.GatewayID, cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		logger.Log.Fatal("http server failed: " + err.Error())
	}
}
