package models

import (
	"time"
)

// Phase 拍賣階段（由時間推導，不儲存）
type Phase string

const (
	PhaseScheduled Phase = "scheduled"
	PhaseActive    Phase = "active"
	PhaseOvertime  Phase = "overtime"
	PhaseEnded     Phase = "ended"
)

// DefaultOvertimeSeconds 伺服器未提供延長緩衝時的預設值
const DefaultOvertimeSeconds = 30

// Auction 拍賣主體
type Auction struct {
	AuctionID   uint64 `json:"auction_id"`
	ItemName    string `json:"item_name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`

	CurrentPrice int64 `json:"current_price"`
	TotalBids    int   `json:"total_bids"`

	RegularEndTime  time.Time  `json:"regular_end_time"`
	OvertimeStarted bool       `json:"overtime_started"`
	OvertimeEndTime *time.Time `json:"overtime_end_time,omitempty"`
	OvertimeSeconds int        `json:"overtime_seconds,omitempty"`

	// 僅在拍賣結束後由伺服器填入
	WinnerName string `json:"winner_name,omitempty"`
}

// EffectiveEndTime 取得有效的結束時間（考慮延長）。
// 尚未確認任何延長出價前，以 regular_end_time 加上緩衝秒數作為暫定邊界。
func (a *Auction) EffectiveEndTime() time.Time {
	if a.OvertimeStarted && a.OvertimeEndTime != nil {
		return *a.OvertimeEndTime
	}

	secs := a.OvertimeSeconds
	if secs <= 0 {
		secs = DefaultOvertimeSeconds
	}
	return a.RegularEndTime.Add(time.Duration(secs) * time.Second)
}

// PhaseAt 計算指定時間點的拍賣階段
func (a *Auction) PhaseAt(now time.Time) Phase {
	end := a.EffectiveEndTime()

	switch {
	case now.After(end):
		return PhaseEnded
	case a.OvertimeStarted || !now.Before(a.RegularEndTime):
		return PhaseOvertime
	default:
		return PhaseActive
	}
}

// IsOpenAt 檢查指定時間點是否仍可出價
func (a *Auction) IsOpenAt(now time.Time) bool {
	phase := a.PhaseAt(now)
	return phase == PhaseActive || phase == PhaseOvertime
}

// Remaining 距離有效結束時間的剩餘時間，已結束時回傳 0
func (a *Auction) Remaining(now time.Time) time.Duration {
	d := a.EffectiveEndTime().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
