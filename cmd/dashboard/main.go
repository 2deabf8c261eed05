package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"wellness_auction/internal/api"
	"wellness_auction/internal/config"
	"wellness_auction/internal/logger"
	"wellness_auction/internal/session"
	"wellness_auction/internal/stream"

	"code.cloudfoundry.org/clock"
	"go.uber.org/zap"
)

func main() {
	// 載入配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// 初始化 logger
	logger, err := logger.New(cfg)
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	logger.Info("Starting auction sync engine",
		zap.String("service", cfg.AppName),
		zap.String("env", cfg.AppEnv),
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.Duration("refresh_interval", cfg.RefreshInterval),
		zap.Bool("stream_reconnect", cfg.StreamReconnect),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiClient := api.New(cfg, logger)
	subs := stream.NewManager(logger, stream.Options{
		Token:       cfg.APIToken,
		Reconnect:   cfg.StreamReconnect,
		MaxInterval: cfg.StreamMaxInterval,
	})
	clk := clock.NewClock()
	sess := session.New(ctx, apiClient, clk, subs, cfg.OvertimeSeconds, logger)

	// 初次載入走前景刷新
	if err := sess.Refresh(ctx, session.RefreshForeground); err != nil {
		logger.Warn("Initial refresh failed, continuing with empty state", zap.Error(err))
	}
	selectLiveAuction(ctx, sess, logger)

	// 單一 ticker 驅動靜默刷新與倒數顯示
	ticker := clk.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			subs.Unsubscribe()
			logger.Info("Shutdown completed")
			return

		case <-ticker.C():
			if err := sess.Refresh(ctx, session.RefreshSilent); err != nil {
				logger.Warn("Silent refresh failed", zap.Error(err))
				continue
			}
			selectLiveAuction(ctx, sess, logger)
			logCountdown(sess, clk, logger)
		}
	}
}

// selectLiveAuction 沒有選取時自動選取進行中的拍賣
func selectLiveAuction(ctx context.Context, sess *session.Session, logger *zap.Logger) {
	if _, ok := sess.Selected(); ok {
		return
	}

	for _, a := range sess.ActiveAuctions() {
		if err := sess.Select(ctx, a.AuctionID); err != nil {
			logger.Warn("Failed to select auction",
				zap.Uint64("auction_id", a.AuctionID),
				zap.Error(err),
			)
		}
		return
	}
}

func logCountdown(sess *session.Session, clk clock.Clock, logger *zap.Logger) {
	a, ok := sess.Selected()
	if !ok {
		return
	}

	now := clk.Now()
	logger.Info("Auction status",
		zap.Uint64("auction_id", a.AuctionID),
		zap.String("item", a.ItemName),
		zap.String("phase", string(a.PhaseAt(now))),
		zap.Duration("remaining", a.Remaining(now)),
		zap.Int64("current_price", a.CurrentPrice),
		zap.Int("total_bids", a.TotalBids),
		zap.Int64("balance", sess.Balance()),
	)
}
