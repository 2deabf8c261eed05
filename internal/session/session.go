package session

import (
	"context"
	"fmt"
	"sync"

	"wellness_auction/internal/api"
	"wellness_auction/internal/ledger"
	"wellness_auction/internal/models"
	"wellness_auction/internal/reconcile"
	"wellness_auction/internal/stream"

	"code.cloudfoundry.org/clock"
	"go.uber.org/zap"
)

// RefreshMode 刷新模式
type RefreshMode int

const (
	// RefreshForeground 前景刷新（初次載入、手動重試），會顯示載入狀態
	RefreshForeground RefreshMode = iota
	// RefreshSilent 靜默刷新（出價後、計時到期後），不觸發載入指示
	// 以免推播更新期間畫面閃爍
	RefreshSilent
)

// Session 拍賣畫面的狀態擁有者：選取中的拍賣、出價帳本、
// 推播訂閱與各清單快照都掛在這裡。
// 所有拍賣狀態的變動都在 s.mu 之下進行，事件與輪詢不會交錯出
// 中間不一致的狀態。
type Session struct {
	api        *api.Client
	clk        clock.Clock
	logger     *zap.Logger
	reconciler *reconcile.Reconciler
	subs       *stream.Manager

	// lifecycle 是整個 session 的生命週期 context，
	// 事件觸發的背景抓取掛在它之下，停機時一併取消
	lifecycle context.Context

	// overtimeSeconds 是伺服器 payload 未帶 overtime_seconds 時的緩衝秒數
	overtimeSeconds int

	mu          sync.RWMutex
	active      []*models.Auction
	scheduled   []models.Auction
	ended       []models.Auction
	balance     int64
	selected    *models.Auction
	bidLedger   *ledger.Ledger
	loading     bool
	bidInFlight bool
}

func New(ctx context.Context, apiClient *api.Client, clk clock.Clock, subs *stream.Manager, overtimeSeconds int, logger *zap.Logger) *Session {
	if overtimeSeconds <= 0 {
		overtimeSeconds = models.DefaultOvertimeSeconds
	}

	s := &Session{
		api:             apiClient,
		clk:             clk,
		logger:          logger,
		subs:            subs,
		lifecycle:       ctx,
		overtimeSeconds: overtimeSeconds,
	}

	s.reconciler = reconcile.New(clk, logger)

	// 事件可能代表本地使用者被退點，餘額一律重新抓取
	s.reconciler.OnBalanceStale(func() {
		go s.refreshBalance(s.lifecycle)
	})

	return s
}

// Refresh 平行抓取進行中拍賣、排程清單、結束清單與點數餘額，
// 成功的部分整批取代本地清單。單一抓取失敗降級為空清單，
// 不阻斷其餘結果。四項全部失敗時才回傳錯誤。
func (s *Session) Refresh(ctx context.Context, mode RefreshMode) error {
	if mode == RefreshForeground {
		s.setLoading(true)
		defer s.setLoading(false)
	}

	var (
		wg sync.WaitGroup

		activeAuction *models.Auction
		scheduled     []models.Auction
		ended         []models.Auction
		balance       int64

		activeErr, scheduledErr, endedErr, balanceErr error
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		activeAuction, activeErr = s.api.ActiveAuction(ctx)
		if activeErr != nil {
			s.logger.Warn("Active auction fetch failed", zap.Error(activeErr))
		}
	}()
	go func() {
		defer wg.Done()
		scheduled, scheduledErr = s.api.ScheduledAuctions(ctx)
		if scheduledErr != nil {
			s.logger.Warn("Scheduled auctions fetch failed", zap.Error(scheduledErr))
		}
	}()
	go func() {
		defer wg.Done()
		ended, endedErr = s.api.EndedAuctions(ctx)
		if endedErr != nil {
			s.logger.Warn("Ended auctions fetch failed", zap.Error(endedErr))
		}
	}()
	go func() {
		defer wg.Done()
		balance, balanceErr = s.api.PointsBalance(ctx)
		if balanceErr != nil {
			s.logger.Warn("Points balance fetch failed", zap.Error(balanceErr))
		}
	}()
	wg.Wait()

	if activeErr != nil && scheduledErr != nil && endedErr != nil && balanceErr != nil {
		return fmt.Errorf("refresh failed: %w", activeErr)
	}

	// 補上設定的緩衝秒數，有效結束時間的推算不依賴伺服器是否帶欄位
	if activeAuction != nil {
		s.fillOvertimeDefault(activeAuction)
	}
	for i := range scheduled {
		s.fillOvertimeDefault(&scheduled[i])
	}
	for i := range ended {
		s.fillOvertimeDefault(&ended[i])
	}

	s.mu.Lock()
	now := s.clk.Now()

	// 合併進行中拍賣：沿用既有物件以維持單調性，快照不得使
	// overtime_started 或價格倒退
	var freshActive []*models.Auction
	if activeAuction != nil {
		if existing := s.findTrackedLocked(activeAuction.AuctionID); existing != nil {
			reconcile.MergeSnapshot(existing, *activeAuction)
			freshActive = append(freshActive, existing)
		} else {
			freshActive = append(freshActive, activeAuction)
		}
	}

	// 剪除有效結束時間已過的項目：伺服器的收尾工作可能尚未執行，
	// 仍會把它放在 active 回應裡
	pruned := freshActive[:0]
	for _, a := range freshActive {
		if now.After(a.EffectiveEndTime()) {
			s.logger.Info("Pruning expired auction from active list",
				zap.Uint64("auction_id", a.AuctionID),
			)
			continue
		}
		pruned = append(pruned, a)
	}
	s.active = pruned
	s.scheduled = scheduled
	s.ended = ended

	if balanceErr == nil {
		s.balance = balance
	}

	// 選取保留：仍在新的 active 集合裡就換成新物件，否則清除選取
	if s.selected != nil {
		var kept *models.Auction
		for _, a := range s.active {
			if a.AuctionID == s.selected.AuctionID {
				kept = a
				break
			}
		}
		if kept != nil {
			s.selected = kept
		} else {
			s.clearSelectionLocked()
		}
	}

	s.syncTrackedLocked()
	s.mu.Unlock()

	return nil
}

// Select 選取拍賣：重建出價帳本、抓取權威出價歷史，
// 並在拍賣仍可出價時訂閱其推播串流。
func (s *Session) Select(ctx context.Context, auctionID uint64) error {
	s.mu.Lock()

	target := s.findTrackedLocked(auctionID)
	if target == nil {
		for i := range s.ended {
			if s.ended[i].AuctionID == auctionID {
				a := s.ended[i]
				target = &a
				break
			}
		}
	}
	if target == nil {
		s.mu.Unlock()
		return fmt.Errorf("auction %d is not in any fetched list", auctionID)
	}

	s.clearSelectionLocked()
	s.selected = target
	s.bidLedger = ledger.New(auctionID)
	s.reconciler.BindLedger(s.bidLedger)
	s.syncTrackedLocked()

	open := target.IsOpenAt(s.clk.Now())
	bidLedger := s.bidLedger
	s.mu.Unlock()

	// 權威出價歷史：失敗時帳本先留空，事件仍可先行反映帳面
	history, err := s.api.BidHistory(ctx, auctionID)
	if err != nil {
		s.logger.Warn("Bid history fetch failed",
			zap.Uint64("auction_id", auctionID),
			zap.Error(err),
		)
	} else {
		bidLedger.Hydrate(history)
	}

	if open {
		s.subs.Subscribe(ctx, s.api.StreamURL(auctionID), auctionID, s.handleEvent)
	}

	s.logger.Info("Auction selected",
		zap.Uint64("auction_id", auctionID),
		zap.Bool("subscribed", open),
	)

	return nil
}

// ClearSelection 取消選取並拆除推播訂閱
func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.clearSelectionLocked()
	s.syncTrackedLocked()
	s.mu.Unlock()
}

// Selected 取得選取中拍賣的快照
func (s *Session) Selected() (models.Auction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.selected == nil {
		return models.Auction{}, false
	}
	return *s.selected, true
}

// SelectedLedger 取得選取中拍賣的出價帳本
func (s *Session) SelectedLedger() *ledger.Ledger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bidLedger
}

// ActiveAuctions 進行中拍賣快照
func (s *Session) ActiveAuctions() []models.Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Auction, 0, len(s.active))
	for _, a := range s.active {
		out = append(out, *a)
	}
	return out
}

// ScheduledAuctions 排程中拍賣快照
func (s *Session) ScheduledAuctions() []models.Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Auction, len(s.scheduled))
	copy(out, s.scheduled)
	return out
}

// EndedAuctions 已結束拍賣快照
func (s *Session) EndedAuctions() []models.Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Auction, len(s.ended))
	copy(out, s.ended)
	return out
}

// Balance 目前點數餘額
func (s *Session) Balance() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// Loading 是否正在前景刷新
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// handleEvent 推播事件入口。在 s.mu 之下套用，
// 與輪詢合併共用同一臨界區。
func (s *Session) handleEvent(ev models.RefreshEvent) {
	s.mu.Lock()
	s.reconciler.ApplyEvent(ev)
	s.mu.Unlock()
}

func (s *Session) refreshBalance(ctx context.Context) {
	balance, err := s.api.PointsBalance(ctx)
	if err != nil {
		s.logger.Warn("Balance refresh failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.balance = balance
	s.mu.Unlock()
}

func (s *Session) fillOvertimeDefault(a *models.Auction) {
	if a.OvertimeSeconds <= 0 {
		a.OvertimeSeconds = s.overtimeSeconds
	}
}

func (s *Session) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

// findTrackedLocked 在選取中拍賣與 active 清單裡找指定拍賣
func (s *Session) findTrackedLocked(auctionID uint64) *models.Auction {
	if s.selected != nil && s.selected.AuctionID == auctionID {
		return s.selected
	}
	for _, a := range s.active {
		if a.AuctionID == auctionID {
			return a
		}
	}
	return nil
}

func (s *Session) clearSelectionLocked() {
	if s.bidLedger != nil {
		s.reconciler.UnbindLedger(s.bidLedger.AuctionID())
		s.bidLedger = nil
	}
	if s.selected != nil {
		s.logger.Info("Selection cleared",
			zap.Uint64("auction_id", s.selected.AuctionID),
		)
		s.selected = nil
	}
	s.subs.Unsubscribe()
}

// syncTrackedLocked 更新對帳器的追蹤集合（選取中拍賣 + active 清單）
func (s *Session) syncTrackedLocked() {
	tracked := make([]*models.Auction, 0, len(s.active)+1)
	tracked = append(tracked, s.active...)
	if s.selected != nil {
		found := false
		for _, a := range s.active {
			if a == s.selected {
				found = true
				break
			}
		}
		if !found {
			tracked = append(tracked, s.selected)
		}
	}
	s.reconciler.SetTracked(tracked)
}
