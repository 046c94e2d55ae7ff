package main

import (
	"context"
	"log"
	"net/http"

	"go.uber.org/zap"

	"github.com/courtsim/courtroom-backend/internal/config"
	"github.com/courtsim/courtroom-backend/internal/httpapi"
	"github.com/courtsim/courtroom-backend/internal/hub"
	"github.com/courtsim/courtroom-backend/internal/seat"
	"github.com/courtsim/courtroom-backend/internal/trials"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	var logger *zap.Logger
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	alloc := seat.NewAllocator(seat.Layout{
		Tiers:      cfg.SeatTiers,
		PerTier:    cfg.SeatsPerTier,
		BaseRadius: cfg.SeatBaseRadius,
		TierGap:    cfg.SeatTierGap,
	})
	h := hub.New(ctx, alloc, logger)
	store := trials.New(cfg.TrialsPath, logger)

	handler := httpapi.SetupRoutes(h, store, cfg.AllowedOrigins, logger)

	logger.Info("listening", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
