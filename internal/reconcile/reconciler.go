package reconcile

import (
	"sync"

	"wellness_auction/internal/ledger"
	"wellness_auction/internal/models"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reconciler 將推播事件與輪詢快照合併進追蹤中的拍賣狀態。
// 追蹤集合為目前選取的拍賣加上 active 清單內的項目；
// 事件攜帶絕對值，重播同一事件不會改變最終狀態。
type Reconciler struct {
	clk    clock.Clock
	logger *zap.Logger

	mu             sync.Mutex
	tracked        map[uint64]*models.Auction
	ledgers        map[uint64]*ledger.Ledger
	onBalanceStale func()
}

func New(clk clock.Clock, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		clk:     clk,
		logger:  logger,
		tracked: make(map[uint64]*models.Auction),
		ledgers: make(map[uint64]*ledger.Ledger),
	}
}

// SetTracked 整批更新追蹤集合（輪詢後由 session 呼叫）
func (r *Reconciler) SetTracked(auctions []*models.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracked = make(map[uint64]*models.Auction, len(auctions))
	for _, a := range auctions {
		if a != nil {
			r.tracked[a.AuctionID] = a
		}
	}
}

// BindLedger 綁定選取拍賣的出價帳本，事件推導的暫定紀錄會寫入此帳本
func (r *Reconciler) BindLedger(l *ledger.Ledger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgers[l.AuctionID()] = l
}

// UnbindLedger 解除帳本綁定（切換選取時）
func (r *Reconciler) UnbindLedger(auctionID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ledgers, auctionID)
}

// OnBalanceStale 註冊餘額需要重新抓取時的回呼。
// 事件可能代表本地使用者被退點，伺服器為權威來源。
func (r *Reconciler) OnBalanceStale(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onBalanceStale = fn
}

// ApplyEvent 套用單筆推播事件。未追蹤或已結束的拍賣忽略之。
func (r *Reconciler) ApplyEvent(ev models.RefreshEvent) bool {
	r.mu.Lock()

	a, ok := r.tracked[ev.AuctionID]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("Ignoring event for untracked auction",
			zap.Uint64("auction_id", ev.AuctionID),
		)
		return false
	}

	now := r.clk.Now()

	// 過期事件不得復活已結束的拍賣
	if a.PhaseAt(now) == models.PhaseEnded {
		r.mu.Unlock()
		r.logger.Debug("Ignoring event for ended auction",
			zap.Uint64("auction_id", ev.AuctionID),
		)
		return false
	}

	isActuallyOvertime := a.OvertimeStarted ||
		(!now.Before(a.RegularEndTime) && ev.NewEndTime != nil)

	// 價格與出價數單調不減，regular_end_time 不因事件變動
	if ev.CurrentPrice > a.CurrentPrice {
		a.CurrentPrice = ev.CurrentPrice
	}
	if ev.TotalBids > a.TotalBids {
		a.TotalBids = ev.TotalBids
	}
	if ev.NewEndTime != nil && !ev.NewEndTime.Before(a.RegularEndTime) {
		if a.OvertimeEndTime == nil || ev.NewEndTime.After(*a.OvertimeEndTime) {
			t := *ev.NewEndTime
			a.OvertimeEndTime = &t
		}
	}
	if isActuallyOvertime && a.OvertimeEndTime != nil {
		a.OvertimeStarted = true
	}

	// 推導暫定出價紀錄，在權威出價歷史回來前先反映帳面
	if l, bound := r.ledgers[ev.AuctionID]; bound {
		l.Apply(models.BidRecord{
			LocalID:   uuid.NewString(),
			AuctionID: ev.AuctionID,
			UserName:  ev.BidderName,
			BidAmount: a.CurrentPrice,
			BidTime:   ev.BidTime,
			Status:    models.BidStatusProvisional,
		})
	}

	price, bids, overtime := a.CurrentPrice, a.TotalBids, a.OvertimeStarted
	balanceStale := r.onBalanceStale
	r.mu.Unlock()

	r.logger.Debug("Applied refresh event",
		zap.Uint64("auction_id", ev.AuctionID),
		zap.Int64("current_price", price),
		zap.Int("total_bids", bids),
		zap.Bool("overtime", overtime),
	)

	if balanceStale != nil {
		balanceStale()
	}

	return true
}

// MergeSnapshot 將輪詢回來的完整快照合併進既有狀態。
// 快照對其涵蓋的欄位為準，但不得使 overtime_started 由 true 退回 false，
// 價格與出價數亦不得倒退。
func MergeSnapshot(dst *models.Auction, fresh models.Auction) {
	dst.ItemName = fresh.ItemName
	dst.Description = fresh.Description
	dst.ImageURL = fresh.ImageURL
	dst.RegularEndTime = fresh.RegularEndTime

	if fresh.CurrentPrice > dst.CurrentPrice {
		dst.CurrentPrice = fresh.CurrentPrice
	}
	if fresh.TotalBids > dst.TotalBids {
		dst.TotalBids = fresh.TotalBids
	}

	dst.OvertimeStarted = dst.OvertimeStarted || fresh.OvertimeStarted

	if fresh.OvertimeEndTime != nil {
		if dst.OvertimeEndTime == nil || fresh.OvertimeEndTime.After(*dst.OvertimeEndTime) {
			t := *fresh.OvertimeEndTime
			dst.OvertimeEndTime = &t
		}
	}

	if fresh.OvertimeSeconds > 0 {
		dst.OvertimeSeconds = fresh.OvertimeSeconds
	}

	if fresh.WinnerName != "" {
		dst.WinnerName = fresh.WinnerName
	}
}
