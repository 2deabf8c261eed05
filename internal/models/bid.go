package models

import (
	"time"
)

// BidStatus 出價狀態
type BidStatus string

const (
	// BidStatusActive 伺服器確認的最高出價
	BidStatusActive BidStatus = "active"
	// BidStatusOutbid 已被更高出價取代
	BidStatusOutbid BidStatus = "outbid"
	// BidStatusProvisional 由推播事件推導、尚未經出價歷史確認
	BidStatusProvisional BidStatus = "provisional"
)

// BidRecord 出價紀錄
type BidRecord struct {
	BidID     uint64    `json:"bid_id"`
	AuctionID uint64    `json:"auction_id"`
	UserID    uint64    `json:"user_id"`
	UserName  string    `json:"user_name"`
	BidAmount int64     `json:"bid_amount"`
	BidTime   time.Time `json:"bid_time"`
	Status    BidStatus `json:"status"`

	// LocalID 僅供事件推導的暫定紀錄使用，避免與伺服器 bid_id 衝突
	LocalID string `json:"-"`
}

// IsProvisional 檢查是否為事件推導的暫定紀錄
func (b *BidRecord) IsProvisional() bool {
	return b.Status == BidStatusProvisional
}

// IsTop 檢查是否為目前帳面上的最高出價
func (b *BidRecord) IsTop() bool {
	return b.Status == BidStatusActive || b.Status == BidStatusProvisional
}
