package logger

import (
	"wellness_auction/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 依環境建立 logger。開發環境輸出彩色 console 並開啟 debug，
// 方便逐筆觀察事件套用；正式環境輸出 JSON 並關閉抽樣，
// 出價高峰期間逐秒的狀態日誌不得被抽掉。
func New(cfg *config.Config) (*zap.Logger, error) {
	var logConfig zap.Config

	if cfg.AppEnv == "production" {
		logConfig = zap.NewProductionConfig()
		logConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		logConfig.Sampling = nil
	} else {
		logConfig = zap.NewDevelopmentConfig()
		logConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	}

	logger, err := logConfig.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(
		zap.String("service", cfg.AppName),
		zap.String("env", cfg.AppEnv),
	), nil
}
