package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// 出價前的本地驗證錯誤。伺服器無論如何都會再驗證一次，
// 這裡只是快速失敗，不會送出請求。
var (
	ErrInvalidAmount      = errors.New("enter a valid amount")
	ErrBidTooLow          = errors.New("bid must exceed current price")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrNoSelection        = errors.New("no auction selected")
	ErrBidInFlight        = errors.New("a bid is already in progress")
)

// ParseAmount 解析自由輸入的金額：去除非數字字元後
// 必須是非負整數
func ParseAmount(raw string) (int64, error) {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return 0, ErrInvalidAmount
	}

	amount, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	return amount, nil
}

// PlaceBid 驗證並提交出價。同一時間只允許一筆出價請求在途，
// 防止重複送出。成功後觸發靜默刷新與餘額刷新；
// 失敗時本地狀態不動（未做樂觀更新，無需回滾）。
//
// 這筆出價的推播事件可能比 RPC 回應早到或晚到，
// 兩條路徑都會收斂到同一份帳本狀態。
func (s *Session) PlaceBid(ctx context.Context, rawAmount string) error {
	amount, err := ParseAmount(rawAmount)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.selected == nil {
		s.mu.Unlock()
		return ErrNoSelection
	}
	if s.bidInFlight {
		s.mu.Unlock()
		return ErrBidInFlight
	}
	if amount <= s.selected.CurrentPrice {
		s.mu.Unlock()
		return ErrBidTooLow
	}
	if amount > s.balance {
		s.mu.Unlock()
		return ErrInsufficientPoints
	}

	auctionID := s.selected.AuctionID
	s.bidInFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.bidInFlight = false
		s.mu.Unlock()
	}()

	if err := s.api.PlaceBid(ctx, auctionID, amount); err != nil {
		return err
	}

	s.logger.Info("Bid accepted",
		zap.Uint64("auction_id", auctionID),
		zap.Int64("amount", amount),
	)

	// 出價後靜默對帳，避免載入指示閃爍
	if err := s.Refresh(ctx, RefreshSilent); err != nil {
		s.logger.Warn("Post-bid refresh failed",
			zap.Uint64("auction_id", auctionID),
			zap.Error(err),
		)
	}

	return nil
}
