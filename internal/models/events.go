package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventNameRefresh 推播串流上的事件名稱
const EventNameRefresh = "refresh"

// RefreshEvent 推播事件。價格與出價數為絕對值而非增量，
// 重播同一事件不會重複累計。
type RefreshEvent struct {
	AuctionID    uint64     `json:"auction_id"`
	CurrentPrice int64      `json:"current_price"`
	TotalBids    int        `json:"total_bids"`
	BidderName   string     `json:"bidder_name"`
	BidTime      time.Time  `json:"bid_time"`
	NewEndTime   *time.Time `json:"new_end_time,omitempty"`
}

// ParseRefreshEvent 解析推播事件 payload
func ParseRefreshEvent(data []byte) (RefreshEvent, error) {
	var ev RefreshEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return RefreshEvent{}, fmt.Errorf("failed to parse refresh event: %w", err)
	}
	if ev.AuctionID == 0 {
		return RefreshEvent{}, fmt.Errorf("refresh event missing auction_id")
	}
	return ev, nil
}
