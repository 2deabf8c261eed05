package stream

import (
	"context"
	"sync"
	"time"

	"wellness_auction/internal/models"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
	backoff "gopkg.in/cenkalti/backoff.v1"
)

// State 訂閱狀態機
type State string

const (
	StateNone       State = "none"
	StateSubscribed State = "subscribed"
)

// Handler 收到 refresh 事件時的回呼
type Handler func(models.RefreshEvent)

// Options 訂閱管理器設定
type Options struct {
	Token string

	// Reconnect 串流錯誤後是否以指數退避重連。
	// 預設關閉：斷線後靠下一次輪詢或選取變更恢復。
	Reconnect   bool
	MaxInterval time.Duration
}

// Manager 推播訂閱管理器，與目前選取的拍賣 1:1 綁定。
// 任何選取變更（含取消選取）都先拆除前一個訂閱。
type Manager struct {
	logger *zap.Logger
	opts   Options

	mu        sync.Mutex
	state     State
	auctionID uint64
	cancel    context.CancelFunc
}

func NewManager(logger *zap.Logger, opts Options) *Manager {
	return &Manager{
		logger: logger,
		opts:   opts,
		state:  StateNone,
	}
}

// State 回傳目前狀態與綁定的拍賣
func (m *Manager) State() (State, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.auctionID
}

// Subscribe 訂閱指定拍賣的推播串流，先拆除既有訂閱
func (m *Manager) Subscribe(ctx context.Context, url string, auctionID uint64, handler Handler) {
	m.Unsubscribe()

	subCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.state = StateSubscribed
	m.auctionID = auctionID
	m.cancel = cancel
	m.mu.Unlock()

	m.logger.Info("Subscribing to auction stream",
		zap.Uint64("auction_id", auctionID),
		zap.String("url", url),
	)

	client := sse.NewClient(url)
	if m.opts.Token != "" {
		client.Headers["Authorization"] = "Bearer " + m.opts.Token
	}
	client.ReconnectStrategy = m.reconnectStrategy()

	go m.run(subCtx, client, auctionID, handler)
}

// Unsubscribe 拆除目前的訂閱（若有）
func (m *Manager) Unsubscribe() {
	m.mu.Lock()
	cancel := m.cancel
	auctionID := m.auctionID
	m.state = StateNone
	m.auctionID = 0
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.logger.Info("Unsubscribed from auction stream",
			zap.Uint64("auction_id", auctionID),
		)
	}
}

func (m *Manager) run(ctx context.Context, client *sse.Client, auctionID uint64, handler Handler) {
	err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if string(msg.Event) != models.EventNameRefresh {
			return
		}

		ev, parseErr := models.ParseRefreshEvent(msg.Data)
		if parseErr != nil {
			m.logger.Warn("Dropping malformed refresh event",
				zap.Uint64("auction_id", auctionID),
				zap.Error(parseErr),
			)
			return
		}

		handler(ev)
	})

	// 連線結束：正常取消或串流錯誤。錯誤時不在此重試，
	// 由下一次輪詢或選取變更恢復。
	m.mu.Lock()
	if m.auctionID == auctionID && m.state == StateSubscribed {
		m.state = StateNone
		m.auctionID = 0
		m.cancel = nil
	}
	m.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		m.logger.Warn("Auction stream closed with error",
			zap.Uint64("auction_id", auctionID),
			zap.Error(err),
		)
		return
	}

	m.logger.Debug("Auction stream closed",
		zap.Uint64("auction_id", auctionID),
	)
}

func (m *Manager) reconnectStrategy() backoff.BackOff {
	if !m.opts.Reconnect {
		return &backoff.StopBackOff{}
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.MaxElapsedTime = 0
	if m.opts.MaxInterval > 0 {
		strategy.MaxInterval = m.opts.MaxInterval
	}
	return strategy
}
